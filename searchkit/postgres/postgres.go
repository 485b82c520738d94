package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/LerianStudio/lib-searchkit/searchkit/backend"
	"github.com/LerianStudio/lib-searchkit/searchkit/backoff"
	constant "github.com/LerianStudio/lib-searchkit/searchkit/constants"
	"github.com/LerianStudio/lib-searchkit/searchkit/log"
	"github.com/LerianStudio/lib-searchkit/searchkit/opentelemetry"
	"github.com/bxcodec/dbresolver/v2"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
	defaultTextSearchLang  = "simple"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrNoDSN is returned by New when the primary DSN is empty.
	ErrNoDSN = errors.New("postgres: primary DSN is required")
	// ErrBadLanguage is returned by New for a text search configuration name
	// that is not a plain identifier.
	ErrBadLanguage = errors.New("postgres: invalid text search configuration")

	dbOpenFn = sql.Open

	credentialsPattern = regexp.MustCompile(`://[^@\s]+@`)
	passwordPattern    = regexp.MustCompile(`(?i)(password=)([^\s&]+)`)
	identifierPattern  = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)
)

// Config configures a Store.
type Config struct {
	PrimaryDSN string
	// ReplicaDSN defaults to PrimaryDSN.
	ReplicaDSN     string
	MaxOpenConns   int
	MaxIdleConns   int
	RunMigrations  bool
	TextSearchLang string
	Retry          backoff.Policy
	Logger         log.Logger
	Tracer         trace.Tracer
}

func (cfg Config) normalize() (Config, error) {
	if strings.TrimSpace(cfg.PrimaryDSN) == "" {
		return Config{}, ErrNoDSN
	}

	if cfg.ReplicaDSN == "" {
		cfg.ReplicaDSN = cfg.PrimaryDSN
	}

	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaultMaxOpenConns
	}

	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = defaultMaxIdleConns
	}

	if cfg.TextSearchLang == "" {
		cfg.TextSearchLang = defaultTextSearchLang
	}

	if !identifierPattern.MatchString(cfg.TextSearchLang) {
		return Config{}, fmt.Errorf("%w: %q", ErrBadLanguage, cfg.TextSearchLang)
	}

	if cfg.Retry.Attempts == 0 {
		cfg.Retry = backoff.DefaultPolicy()
	}

	cfg.Logger = log.OrNop(cfg.Logger)
	cfg.Tracer = opentelemetry.Tracer(cfg.Tracer)

	return cfg, nil
}

// Store is a PostgreSQL primary backend.
type Store struct {
	mu  sync.RWMutex
	cfg Config
	db  dbresolver.DB
}

// New validates cfg. No connection is made until Connect.
func New(cfg Config) (*Store, error) {
	normalized, err := cfg.normalize()
	if err != nil {
		return nil, err
	}

	return &Store{cfg: normalized}, nil
}

// Connect opens primary and replica pools, runs migrations when enabled and
// pings through the resolver, retrying with backoff.
func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	ctx, span := s.cfg.Tracer.Start(ctx, "postgres.connect")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemPostgreSQL))

	err := backoff.Retry(ctx, s.cfg.Retry, func(ctx context.Context) error {
		db, err := s.connectOnce(ctx)
		if err != nil {
			s.cfg.Logger.Log(ctx, log.LevelWarn, "postgres connect failed, retrying",
				log.String("error", sanitize(err)))

			return err
		}

		s.db = db

		return nil
	})
	if err != nil {
		opentelemetry.HandleSpanError(span, "failed to connect to postgres", errors.New(sanitize(err)))

		return backend.NewError(backend.Primary, "connect", sanitize(err), backend.ErrConnection)
	}

	s.cfg.Logger.Log(ctx, log.LevelInfo, "connected to postgres")

	return nil
}

func (s *Store) openPool(dsn string) (*sql.DB, error) {
	db, err := dbOpenFn("pgx", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	return db, nil
}

func (s *Store) connectOnce(ctx context.Context) (_ dbresolver.DB, err error) {
	primary, err := s.openPool(s.cfg.PrimaryDSN)
	if err != nil {
		return nil, fmt.Errorf("open primary: %w", err)
	}

	defer func() {
		if err != nil {
			_ = primary.Close()
		}
	}()

	replica, err := s.openPool(s.cfg.ReplicaDSN)
	if err != nil {
		return nil, fmt.Errorf("open replica: %w", err)
	}

	defer func() {
		if err != nil {
			_ = replica.Close()
		}
	}()

	resolver := dbresolver.New(
		dbresolver.WithPrimaryDBs(primary),
		dbresolver.WithReplicaDBs(replica),
		dbresolver.WithLoadBalancer(dbresolver.RoundRobinLB),
	)

	if err := resolver.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}

	if s.cfg.RunMigrations {
		if err := runMigrations(ctx, primary, s.cfg.Logger); err != nil {
			return nil, err
		}
	}

	return resolver, nil
}

func runMigrations(ctx context.Context, primary *sql.DB, logger log.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	driver, err := migratepg.WithInstance(primary, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migration instance: %w", err)
	}

	err = m.Up()

	var dirtyErr migrate.ErrDirty

	switch {
	case err == nil:
		logger.Log(ctx, log.LevelInfo, "postgres migrations applied")
	case errors.Is(err, migrate.ErrNoChange):
		logger.Log(ctx, log.LevelDebug, "no new postgres migrations")
	case errors.As(err, &dirtyErr):
		return fmt.Errorf("migration failed: dirty database version %d", dirtyErr.Version)
	default:
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

// Disconnect closes both pools. It is safe to call more than once.
func (s *Store) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}

	err := s.db.Close()
	s.db = nil

	if err != nil {
		return fmt.Errorf("postgres: close: %w", err)
	}

	return nil
}

func (s *Store) conn() (dbresolver.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, backend.NewError(backend.Primary, "not_connected", "postgres", backend.ErrNotConnected)
	}

	return s.db, nil
}

// Index upserts docs on the primary in one transaction.
func (s *Store) Index(ctx context.Context, docs ...backend.Document) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return backend.NewError(backend.Primary, "index", "postgres", err)
	}

	defer func() { _ = tx.Rollback() }()

	for _, doc := range docs {
		fields := []byte("{}")
		if len(doc.Fields) > 0 {
			if fields, err = json.Marshal(doc.Fields); err != nil {
				return backend.NewError(backend.Primary, "index", doc.ID, err)
			}
		}

		createdAt := doc.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO searchkit_documents (id, body, fields, created_at, tsv)
			VALUES ($1, $2, $3::jsonb, $4, to_tsvector($5::regconfig, $2))
			ON CONFLICT (id) DO UPDATE SET
				body = EXCLUDED.body, fields = EXCLUDED.fields,
				created_at = EXCLUDED.created_at, tsv = EXCLUDED.tsv`,
			doc.ID, doc.Text, string(fields), createdAt, s.cfg.TextSearchLang)
		if err != nil {
			return backend.NewError(backend.Primary, "index", doc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return backend.NewError(backend.Primary, "index", "postgres", err)
	}

	return nil
}

// Search ranks documents with ts_rank against a tsquery matching any term.
func (s *Store) Search(ctx context.Context, query string, opts backend.Options) (backend.Result, error) {
	db, err := s.conn()
	if err != nil {
		return backend.Result{}, err
	}

	terms := strings.Fields(query)
	if len(terms) == 0 {
		return backend.Result{}, fmt.Errorf("%w: empty query", backend.ErrInvalidQuery)
	}

	ctx, span := s.cfg.Tracer.Start(ctx, "postgres.search")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemPostgreSQL))

	args := []any{s.cfg.TextSearchLang, anyTermQuery(terms)}
	where := " WHERE tsv @@ q"

	keys := make([]string, 0, len(opts.Filters))
	for key, values := range opts.Filters {
		if len(values) > 0 {
			keys = append(keys, key)
		}
	}

	slices.Sort(keys)

	for _, key := range keys {
		args = append(args, key, opts.Filters[key])
		where += " AND fields->>$" + strconv.Itoa(len(args)-1) + " = ANY($" + strconv.Itoa(len(args)) + "::text[])"
	}

	from := " FROM searchkit_documents, websearch_to_tsquery($1::regconfig, $2) AS q" + where

	var total int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*)"+from, args...).Scan(&total); err != nil {
		opentelemetry.HandleSpanError(span, "postgres count failed", err)

		return backend.Result{}, backend.NewError(backend.Primary, "search", "postgres", err)
	}

	page := " OFFSET $" + strconv.Itoa(len(args)+1)
	args = append(args, max(opts.Offset, 0))

	if opts.Limit > 0 {
		page += " LIMIT $" + strconv.Itoa(len(args)+1)
		args = append(args, opts.Limit)
	}

	rows, err := db.QueryContext(ctx,
		"SELECT id, body, fields, created_at, ts_rank(tsv, q) AS score"+from+" ORDER BY "+orderBy(opts)+page,
		args...)
	if err != nil {
		opentelemetry.HandleSpanError(span, "postgres search failed", err)

		return backend.Result{}, backend.NewError(backend.Primary, "search", "postgres", err)
	}

	defer rows.Close()

	items := make([]backend.Item, 0)

	for rows.Next() {
		var (
			id, body  string
			fields    []byte
			createdAt time.Time
			score     float64
		)

		if err := rows.Scan(&id, &body, &fields, &createdAt, &score); err != nil {
			return backend.Result{}, backend.NewError(backend.Primary, "scan", "postgres", err)
		}

		payload := map[string]any{}
		if err := json.Unmarshal(fields, &payload); err != nil {
			return backend.Result{}, backend.NewError(backend.Primary, "scan", id, err)
		}

		payload["text"] = body
		payload["createdAt"] = createdAt.UTC()

		items = append(items, backend.Item{ID: id, Score: score, Payload: payload, Source: backend.Primary})
	}

	if err := rows.Err(); err != nil {
		return backend.Result{}, backend.NewError(backend.Primary, "search", "postgres", err)
	}

	span.SetAttributes(attribute.Int(constant.AttrResultCount, len(items)))

	return backend.Result{Items: items, Total: total}, nil
}

// anyTermQuery builds websearch syntax that matches any of terms. Quotes
// and operators in the input are stripped so they stay plain words.
func anyTermQuery(terms []string) string {
	cleaned := make([]string, 0, len(terms))

	for _, term := range terms {
		term = strings.Trim(strings.ReplaceAll(term, `"`, ""), "-")
		if term != "" && !strings.EqualFold(term, "or") {
			cleaned = append(cleaned, `"`+term+`"`)
		}
	}

	return strings.Join(cleaned, " or ")
}

func orderBy(opts backend.Options) string {
	dir := "DESC"
	if opts.SortOrder == backend.SortAsc {
		dir = "ASC"
	}

	switch opts.SortBy {
	case backend.SortDate:
		return "created_at " + dir + ", id"
	case backend.SortCustom:
		return "id " + dir
	default:
		return "score " + dir + ", id"
	}
}

// CheckHealth pings through the resolver and reports the latency.
func (s *Store) CheckHealth(ctx context.Context) backend.HealthStatus {
	db, err := s.conn()
	if err != nil {
		return backend.UnhealthyStatus(0, err)
	}

	start := time.Now()

	if err := db.PingContext(ctx); err != nil {
		return backend.UnhealthyStatus(time.Since(start), errors.New(sanitize(err)))
	}

	return backend.HealthyStatus(time.Since(start))
}

// sanitize strips credentials from driver errors before they reach logs.
func sanitize(err error) string {
	if err == nil {
		return ""
	}

	out := credentialsPattern.ReplaceAllString(err.Error(), "://***@")

	return passwordPattern.ReplaceAllString(out, "${1}***")
}

var (
	_ backend.Backend = (*Store)(nil)
	_ backend.Indexer = (*Store)(nil)
)

package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/LerianStudio/lib-searchkit/searchkit/backend"
	"github.com/LerianStudio/lib-searchkit/searchkit/backoff"
	constant "github.com/LerianStudio/lib-searchkit/searchkit/constants"
	"github.com/LerianStudio/lib-searchkit/searchkit/log"
	"github.com/LerianStudio/lib-searchkit/searchkit/opentelemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// ErrNoPath is returned by New when the database path is empty.
var ErrNoPath = errors.New("sqlite: path is required")

// filterKey limits filter names to something safe to place in a JSON path.
var filterKey = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Config configures a Store.
type Config struct {
	// Path is a file path or a modernc DSN such as "file::memory:?cache=shared".
	Path   string
	Retry  backoff.Policy
	Logger log.Logger
	Tracer trace.Tracer
}

// Store is a SQLite FTS5 primary backend.
type Store struct {
	mu     sync.RWMutex
	cfg    Config
	logger log.Logger
	tracer trace.Tracer
	db     *sql.DB
}

// New validates cfg. The database is opened by Connect.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, ErrNoPath
	}

	if cfg.Retry.Attempts == 0 {
		cfg.Retry = backoff.DefaultPolicy()
	}

	return &Store{
		cfg:    cfg,
		logger: log.OrNop(cfg.Logger),
		tracer: opentelemetry.Tracer(cfg.Tracer),
	}, nil
}

// Connect opens the database, applies pragmas and creates the schema.
func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	var db *sql.DB

	err := backoff.Retry(ctx, s.cfg.Retry, func(ctx context.Context) error {
		candidate, err := open(ctx, s.cfg.Path)
		if err != nil {
			s.logger.Log(ctx, log.LevelWarn, "sqlite open failed, retrying", log.Err(err))
			return err
		}

		db = candidate

		return nil
	})
	if err != nil {
		return backend.NewError(backend.Primary, "connect", "sqlite", fmt.Errorf("%w: %w", backend.ErrConnection, err))
	}

	s.db = db

	s.logger.Log(ctx, log.LevelInfo, "sqlite store opened", log.String("path", s.cfg.Path))

	return nil
}

func open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	// A single writer avoids SQLITE_BUSY; in-memory databases also need the
	// one connection to keep their contents.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return db, nil
}

// Disconnect closes the database. It is safe to call more than once.
func (s *Store) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}

	err := s.db.Close()
	s.db = nil

	if err != nil {
		return fmt.Errorf("sqlite: close: %w", err)
	}

	return nil
}

func (s *Store) conn() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, backend.NewError(backend.Primary, "not_connected", "sqlite", backend.ErrNotConnected)
	}

	return s.db, nil
}

// Index inserts or replaces docs in one transaction.
func (s *Store) Index(ctx context.Context, docs ...backend.Document) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return backend.NewError(backend.Primary, "index", "sqlite", err)
	}

	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (id, body, fields, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			body = excluded.body, fields = excluded.fields, created_at = excluded.created_at`)
	if err != nil {
		return backend.NewError(backend.Primary, "index", "sqlite", err)
	}

	defer stmt.Close()

	for _, doc := range docs {
		fields, err := encodeFields(doc.Fields)
		if err != nil {
			return backend.NewError(backend.Primary, "index", doc.ID, err)
		}

		createdAt := doc.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}

		if _, err := stmt.ExecContext(ctx, doc.ID, doc.Text, fields, createdAt.UnixNano()); err != nil {
			return backend.NewError(backend.Primary, "index", doc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return backend.NewError(backend.Primary, "index", "sqlite", err)
	}

	return nil
}

func encodeFields(fields map[string]any) (string, error) {
	if len(fields) == 0 {
		return "{}", nil
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}

	return string(data), nil
}

// Search runs an FTS5 match over the indexed documents.
func (s *Store) Search(ctx context.Context, query string, opts backend.Options) (backend.Result, error) {
	db, err := s.conn()
	if err != nil {
		return backend.Result{}, err
	}

	match := ftsQuery(query)
	if match == "" {
		return backend.Result{}, fmt.Errorf("%w: empty query", backend.ErrInvalidQuery)
	}

	where, args, err := filterClause(opts.Filters)
	if err != nil {
		return backend.Result{}, err
	}

	ctx, span := s.tracer.Start(ctx, "sqlite.search")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemSQLite))

	base := `FROM documents_fts JOIN documents d ON d.seq = documents_fts.rowid
		WHERE documents_fts MATCH ?` + where
	args = append([]any{match}, args...)

	var total int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) "+base, args...).Scan(&total); err != nil {
		opentelemetry.HandleSpanError(span, "sqlite count failed", err)

		return backend.Result{}, backend.NewError(backend.Primary, "search", "sqlite", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}

	rows, err := db.QueryContext(ctx,
		"SELECT d.id, d.body, d.fields, d.created_at, -bm25(documents_fts) AS score "+base+
			" ORDER BY "+orderBy(opts)+" LIMIT ? OFFSET ?",
		append(args, limit, max(opts.Offset, 0))...)
	if err != nil {
		opentelemetry.HandleSpanError(span, "sqlite search failed", err)

		return backend.Result{}, backend.NewError(backend.Primary, "search", "sqlite", err)
	}

	defer rows.Close()

	items := make([]backend.Item, 0)

	for rows.Next() {
		var (
			id, body, fields string
			createdAt        int64
			score            float64
		)

		if err := rows.Scan(&id, &body, &fields, &createdAt, &score); err != nil {
			return backend.Result{}, backend.NewError(backend.Primary, "scan", "sqlite", err)
		}

		payload := map[string]any{}
		if err := json.Unmarshal([]byte(fields), &payload); err != nil {
			return backend.Result{}, backend.NewError(backend.Primary, "scan", id, err)
		}

		payload["text"] = body
		payload["createdAt"] = time.Unix(0, createdAt).UTC()

		items = append(items, backend.Item{ID: id, Score: score, Payload: payload, Source: backend.Primary})
	}

	if err := rows.Err(); err != nil {
		return backend.Result{}, backend.NewError(backend.Primary, "search", "sqlite", err)
	}

	span.SetAttributes(attribute.Int(constant.AttrResultCount, len(items)))

	return backend.Result{Items: items, Total: total}, nil
}

// ftsQuery quotes every term so user input cannot reach FTS5 operators, and
// joins them with OR.
func ftsQuery(query string) string {
	terms := strings.Fields(query)
	quoted := make([]string, 0, len(terms))

	for _, term := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(term, `"`, `""`)+`"`)
	}

	return strings.Join(quoted, " OR ")
}

func filterClause(filters map[string][]string) (string, []any, error) {
	keys := make([]string, 0, len(filters))
	for key, values := range filters {
		if len(values) > 0 {
			keys = append(keys, key)
		}
	}

	slices.Sort(keys)

	var (
		b    strings.Builder
		args []any
	)

	for _, key := range keys {
		if !filterKey.MatchString(key) {
			return "", nil, fmt.Errorf("%w: bad filter name %q", backend.ErrInvalidQuery, key)
		}

		values := filters[key]
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")

		b.WriteString(" AND CAST(json_extract(d.fields, ?) AS TEXT) IN (" + placeholders + ")")

		args = append(args, "$."+key)
		for _, v := range values {
			args = append(args, v)
		}
	}

	return b.String(), args, nil
}

func orderBy(opts backend.Options) string {
	dir := "DESC"
	if opts.SortOrder == backend.SortAsc {
		dir = "ASC"
	}

	switch opts.SortBy {
	case backend.SortDate:
		return "d.created_at " + dir + ", d.id"
	case backend.SortCustom:
		return "d.id " + dir
	default:
		return "score " + dir + ", d.seq"
	}
}

// CheckHealth pings the database and verifies the FTS index is queryable.
func (s *Store) CheckHealth(ctx context.Context) backend.HealthStatus {
	db, err := s.conn()
	if err != nil {
		return backend.UnhealthyStatus(0, err)
	}

	start := time.Now()

	if err := db.PingContext(ctx); err != nil {
		return backend.UnhealthyStatus(time.Since(start), err)
	}

	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents_fts WHERE documents_fts MATCH '\"probe\"'").Scan(&n); err != nil {
		status := backend.UnhealthyStatus(time.Since(start), err)
		status.Connected = true

		return status
	}

	return backend.HealthyStatus(time.Since(start))
}

var (
	_ backend.Backend = (*Store)(nil)
	_ backend.Indexer = (*Store)(nil)
)

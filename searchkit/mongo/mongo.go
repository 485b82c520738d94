package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/LerianStudio/lib-searchkit/searchkit/backend"
	"github.com/LerianStudio/lib-searchkit/searchkit/backoff"
	constant "github.com/LerianStudio/lib-searchkit/searchkit/constants"
	"github.com/LerianStudio/lib-searchkit/searchkit/log"
	"github.com/LerianStudio/lib-searchkit/searchkit/opentelemetry"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultCollection             = "searchkit_documents"
	defaultServerSelectionTimeout = 5 * time.Second
	textIndexName                 = "searchkit_body_text"
)

var (
	// ErrNoURI is returned by New when the connection URI is empty.
	ErrNoURI = errors.New("mongo: URI is required")
	// ErrNoDatabase is returned by New when the database name is empty.
	ErrNoDatabase = errors.New("mongo: database is required")

	filterKey = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

// Config configures a Store.
type Config struct {
	URI        string
	Database   string
	Collection string
	Retry      backoff.Policy
	Logger     log.Logger
	Tracer     trace.Tracer
}

type clientDeps struct {
	connect    func(context.Context, *options.ClientOptions) (*mongo.Client, error)
	ping       func(context.Context, *mongo.Client) error
	disconnect func(context.Context, *mongo.Client) error
}

func defaultDeps() clientDeps {
	return clientDeps{
		connect: func(ctx context.Context, opts *options.ClientOptions) (*mongo.Client, error) {
			return mongo.Connect(ctx, opts)
		},
		ping: func(ctx context.Context, client *mongo.Client) error {
			return client.Ping(ctx, nil)
		},
		disconnect: func(ctx context.Context, client *mongo.Client) error {
			return client.Disconnect(ctx)
		},
	}
}

// Store is a MongoDB primary backend.
type Store struct {
	mu         sync.RWMutex
	cfg        Config
	deps       clientDeps
	client     *mongo.Client
	collection *mongo.Collection
}

// record is the stored shape of a backend.Document.
type record struct {
	ID        string         `bson:"_id"`
	Body      string         `bson:"body"`
	Fields    map[string]any `bson:"fields,omitempty"`
	CreatedAt time.Time      `bson:"createdAt"`
	Score     float64        `bson:"score,omitempty"`
}

// New validates cfg. No connection is made until Connect.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, ErrNoURI
	}

	if strings.TrimSpace(cfg.Database) == "" {
		return nil, ErrNoDatabase
	}

	if cfg.Collection == "" {
		cfg.Collection = defaultCollection
	}

	if cfg.Retry.Attempts == 0 {
		cfg.Retry = backoff.DefaultPolicy()
	}

	cfg.Logger = log.OrNop(cfg.Logger)
	cfg.Tracer = opentelemetry.Tracer(cfg.Tracer)

	return &Store{cfg: cfg, deps: defaultDeps()}, nil
}

// Connect dials MongoDB, pings it and ensures the text index, retrying with
// backoff.
func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return nil
	}

	ctx, span := s.cfg.Tracer.Start(ctx, "mongo.connect")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemMongoDB))

	err := backoff.Retry(ctx, s.cfg.Retry, func(ctx context.Context) error {
		return s.connectLocked(ctx)
	})
	if err != nil {
		opentelemetry.HandleSpanError(span, "failed to connect to mongo", err)

		return backend.NewError(backend.Primary, "connect", "mongo", fmt.Errorf("%w: %w", backend.ErrConnection, err))
	}

	s.cfg.Logger.Log(ctx, log.LevelInfo, "connected to mongo",
		log.String("database", s.cfg.Database), log.String("collection", s.cfg.Collection))

	return nil
}

func (s *Store) connectLocked(ctx context.Context) error {
	opts := options.Client().ApplyURI(s.cfg.URI).SetServerSelectionTimeout(defaultServerSelectionTimeout)

	client, err := s.deps.connect(ctx, opts)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	if err := s.deps.ping(ctx, client); err != nil {
		if disconnectErr := s.deps.disconnect(ctx, client); disconnectErr != nil {
			s.cfg.Logger.Log(ctx, log.LevelDebug, "failed to disconnect after ping failure", log.Err(disconnectErr))
		}

		s.cfg.Logger.Log(ctx, log.LevelWarn, "mongo ping failed, retrying", log.Err(err))

		return fmt.Errorf("ping: %w", err)
	}

	collection := client.Database(s.cfg.Database).Collection(s.cfg.Collection)

	_, err = collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "body", Value: "text"}},
		Options: options.Index().SetName(textIndexName),
	})
	if err != nil {
		_ = s.deps.disconnect(ctx, client)

		return fmt.Errorf("ensure text index: %w", err)
	}

	s.client = client
	s.collection = collection

	return nil
}

// Disconnect closes the client. It is safe to call more than once.
func (s *Store) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}

	err := s.deps.disconnect(ctx, s.client)
	s.client = nil
	s.collection = nil

	if err != nil {
		return fmt.Errorf("mongo: disconnect: %w", err)
	}

	return nil
}

func (s *Store) conn() (*mongo.Client, *mongo.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.client == nil {
		return nil, nil, backend.NewError(backend.Primary, "not_connected", "mongo", backend.ErrNotConnected)
	}

	return s.client, s.collection, nil
}

// Index upserts docs with one unordered bulk write.
func (s *Store) Index(ctx context.Context, docs ...backend.Document) error {
	_, collection, err := s.conn()
	if err != nil {
		return err
	}

	if len(docs) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, 0, len(docs))

	for _, doc := range docs {
		createdAt := doc.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}

		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "_id", Value: doc.ID}}).
			SetReplacement(record{ID: doc.ID, Body: doc.Text, Fields: doc.Fields, CreatedAt: createdAt.UTC()}).
			SetUpsert(true))
	}

	if _, err := collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return backend.NewError(backend.Primary, "index", "mongo", err)
	}

	return nil
}

// Search runs a $text query. Filters compare the stored field with the
// given values as strings.
func (s *Store) Search(ctx context.Context, query string, opts backend.Options) (backend.Result, error) {
	_, collection, err := s.conn()
	if err != nil {
		return backend.Result{}, err
	}

	filter, err := buildFilter(query, opts.Filters)
	if err != nil {
		return backend.Result{}, err
	}

	ctx, span := s.cfg.Tracer.Start(ctx, "mongo.search")
	defer span.End()

	span.SetAttributes(
		attribute.String(constant.AttrDBSystem, constant.DBSystemMongoDB),
		attribute.String("db.mongodb.collection", s.cfg.Collection),
	)

	total, err := collection.CountDocuments(ctx, filter)
	if err != nil {
		opentelemetry.HandleSpanError(span, "mongo count failed", err)

		return backend.Result{}, backend.NewError(backend.Primary, "search", "mongo", err)
	}

	find := options.Find().
		SetProjection(bson.D{{Key: "score", Value: bson.D{{Key: "$meta", Value: "textScore"}}}}).
		SetSort(sortSpec(opts)).
		SetSkip(int64(max(opts.Offset, 0)))

	if opts.Limit > 0 {
		find.SetLimit(int64(opts.Limit))
	}

	cursor, err := collection.Find(ctx, filter, find)
	if err != nil {
		opentelemetry.HandleSpanError(span, "mongo find failed", err)

		return backend.Result{}, backend.NewError(backend.Primary, "search", "mongo", err)
	}

	var records []record
	if err := cursor.All(ctx, &records); err != nil {
		return backend.Result{}, backend.NewError(backend.Primary, "search", "mongo", err)
	}

	items := make([]backend.Item, 0, len(records))

	for _, rec := range records {
		payload := make(map[string]any, len(rec.Fields)+2)
		for k, v := range rec.Fields {
			payload[k] = v
		}

		payload["text"] = rec.Body
		payload["createdAt"] = rec.CreatedAt.UTC()

		items = append(items, backend.Item{ID: rec.ID, Score: rec.Score, Payload: payload, Source: backend.Primary})
	}

	span.SetAttributes(attribute.Int(constant.AttrResultCount, len(items)))

	return backend.Result{Items: items, Total: int(total)}, nil
}

// buildFilter turns the query into a $text search matching any term. Quotes
// and leading dashes are stripped so input cannot form phrases or negations.
func buildFilter(query string, filters map[string][]string) (bson.D, error) {
	terms := make([]string, 0)

	for _, term := range strings.Fields(query) {
		term = strings.TrimLeft(strings.ReplaceAll(term, `"`, ""), "-")
		if term != "" {
			terms = append(terms, term)
		}
	}

	if len(terms) == 0 {
		return nil, fmt.Errorf("%w: empty query", backend.ErrInvalidQuery)
	}

	filter := bson.D{{Key: "$text", Value: bson.D{{Key: "$search", Value: strings.Join(terms, " ")}}}}

	for key, values := range filters {
		if len(values) == 0 {
			continue
		}

		if !filterKey.MatchString(key) {
			return nil, fmt.Errorf("%w: bad filter name %q", backend.ErrInvalidQuery, key)
		}

		filter = append(filter, bson.E{Key: "fields." + key, Value: bson.D{{Key: "$in", Value: values}}})
	}

	return filter, nil
}

func sortSpec(opts backend.Options) bson.D {
	dir := -1
	if opts.SortOrder == backend.SortAsc {
		dir = 1
	}

	switch opts.SortBy {
	case backend.SortDate:
		return bson.D{{Key: "createdAt", Value: dir}, {Key: "_id", Value: 1}}
	case backend.SortCustom:
		return bson.D{{Key: "_id", Value: dir}}
	default:
		return bson.D{{Key: "score", Value: bson.D{{Key: "$meta", Value: "textScore"}}}, {Key: "_id", Value: 1}}
	}
}

// CheckHealth pings the primary and reports the latency.
func (s *Store) CheckHealth(ctx context.Context) backend.HealthStatus {
	client, _, err := s.conn()
	if err != nil {
		return backend.UnhealthyStatus(0, err)
	}

	start := time.Now()

	if err := s.deps.ping(ctx, client); err != nil {
		return backend.UnhealthyStatus(time.Since(start), err)
	}

	return backend.HealthyStatus(time.Since(start))
}

var (
	_ backend.Backend = (*Store)(nil)
	_ backend.Indexer = (*Store)(nil)
)

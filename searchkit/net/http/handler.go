package http

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/LerianStudio/lib-searchkit/searchkit/backend"
	"github.com/LerianStudio/lib-searchkit/searchkit/log"
	"github.com/LerianStudio/lib-searchkit/searchkit/opentelemetry"
	"github.com/LerianStudio/lib-searchkit/searchkit/orchestrator"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// HeaderRequestID carries the request id echoed on every response.
	HeaderRequestID = "X-Request-Id"
	filterPrefix    = "filter."
	maxIndexBatch   = 1000
)

// Searcher is the part of orchestrator.Orchestrator the handlers use.
type Searcher interface {
	Search(ctx context.Context, query string, opts backend.Options) (backend.Result, orchestrator.PerformanceRecord, error)
	Health(ctx context.Context) orchestrator.HealthReport
	Invalidate(ctx context.Context, pattern string) (int, error)
}

// SearchResponse is the body of a successful search.
type SearchResponse struct {
	Items  []backend.Item                 `json:"items"`
	Total  int                            `json:"total"`
	Record orchestrator.PerformanceRecord `json:"record"`
}

// Handler serves the searchkit routes.
type Handler struct {
	searcher     Searcher
	indexer      backend.Indexer
	defaultLimit int
	logger       log.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithIndexer enables PUT /v1/documents.
func WithIndexer(indexer backend.Indexer) Option {
	return func(h *Handler) {
		h.indexer = indexer
	}
}

// WithLogger sets the access and error logger.
func WithLogger(logger log.Logger) Option {
	return func(h *Handler) {
		h.logger = log.OrNop(logger)
	}
}

// NewHandler builds a Handler. defaultLimit applies when a request has no limit.
func NewHandler(searcher Searcher, defaultLimit int, opts ...Option) *Handler {
	h := &Handler{searcher: searcher, defaultLimit: defaultLimit, logger: &log.NopLogger{}}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// NewApp returns a Fiber app with the routes, request ids and access logs.
func NewApp(h *Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			h.logger.Log(c.UserContext(), log.LevelError, "handler error",
				log.String("method", c.Method()),
				log.String("path", c.Path()),
				log.Err(err))

			return RenderError(c, err)
		},
	})

	app.Use(h.withRequestLogging)
	h.Register(app)

	return app
}

// Register mounts the routes on router.
func (h *Handler) Register(router fiber.Router) {
	v1 := router.Group("/v1")
	v1.Get("/search", h.Search)
	v1.Get("/health", h.Health)
	v1.Delete("/cache", h.Invalidate)

	if h.indexer != nil {
		v1.Put("/documents", h.Index)
	}
}

func (h *Handler) withRequestLogging(c *fiber.Ctx) error {
	start := time.Now()

	requestID := c.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	c.Set(HeaderRequestID, requestID)

	ctx, span := opentelemetry.Tracer(nil).Start(opentelemetry.ExtractHTTPContext(c), c.Method()+" "+c.Path(),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("http.request_id", requestID)))
	defer span.End()

	c.SetUserContext(ctx)

	err := c.Next()

	span.SetAttributes(attribute.Int("http.response.status_code", c.Response().StatusCode()))

	if h.logger.Enabled(log.LevelDebug) {
		h.logger.Log(c.UserContext(), log.LevelDebug, "http request",
			log.String("request_id", requestID),
			log.String("method", c.Method()),
			log.String("path", c.Path()),
			log.Int("status", c.Response().StatusCode()),
			log.Duration("duration", time.Since(start)))
	}

	return err
}

// Search handles GET /v1/search.
func (h *Handler) Search(c *fiber.Ctx) error {
	query := c.Query("q")
	if strings.TrimSpace(query) == "" {
		return WriteError(c, fiber.StatusBadRequest, "invalid_query", "query parameter q is required")
	}

	opts, err := h.parseOptions(c)
	if err != nil {
		return WriteError(c, fiber.StatusBadRequest, "invalid_query", err.Error())
	}

	result, record, err := h.searcher.Search(c.UserContext(), query, opts)
	if err != nil {
		return RenderError(c, err)
	}

	return c.JSON(SearchResponse{Items: result.Items, Total: result.Total, Record: record})
}

func (h *Handler) parseOptions(c *fiber.Ctx) (backend.Options, error) {
	opts := backend.Options{Limit: h.defaultLimit}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return opts, errors.New("limit must be an integer")
		}

		opts.Limit = limit
	}

	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			return opts, errors.New("offset must be an integer")
		}

		opts.Offset = offset
	}

	switch sortBy := backend.SortBy(c.Query("sortBy")); sortBy {
	case "":
	case backend.SortRelevance, backend.SortDate, backend.SortCustom:
		opts.SortBy = sortBy
	default:
		return opts, fmt.Errorf("unsupported sortBy %q", sortBy)
	}

	switch order := backend.SortOrder(strings.ToLower(c.Query("sortOrder"))); order {
	case "":
	case backend.SortAsc, backend.SortDesc:
		opts.SortOrder = order
	default:
		return opts, fmt.Errorf("unsupported sortOrder %q", order)
	}

	if raw := c.Query("noCache"); raw != "" {
		noCache, err := strconv.ParseBool(raw)
		if err != nil {
			return opts, errors.New("noCache must be a boolean")
		}

		opts.DisableCache = noCache
	}

	c.Context().QueryArgs().VisitAll(func(key, value []byte) {
		name, ok := strings.CutPrefix(string(key), filterPrefix)
		if !ok || name == "" {
			return
		}

		if opts.Filters == nil {
			opts.Filters = make(map[string][]string)
		}

		opts.Filters[name] = append(opts.Filters[name], string(value))
	})

	return opts, nil
}

// Health handles GET /v1/health. It answers 503 when no backend can serve.
func (h *Handler) Health(c *fiber.Ctx) error {
	report := h.searcher.Health(c.UserContext())

	status := fiber.StatusOK
	if !report.Healthy() {
		status = fiber.StatusServiceUnavailable
	}

	return c.Status(status).JSON(report)
}

// Invalidate handles DELETE /v1/cache.
func (h *Handler) Invalidate(c *fiber.Ctx) error {
	removed, err := h.searcher.Invalidate(c.UserContext(), c.Query("pattern"))
	if err != nil {
		return RenderError(c, err)
	}

	return c.JSON(fiber.Map{"removed": removed})
}

// Index handles PUT /v1/documents with a JSON array of documents.
func (h *Handler) Index(c *fiber.Ctx) error {
	var docs []backend.Document
	if err := c.BodyParser(&docs); err != nil {
		return WriteError(c, fiber.StatusBadRequest, "invalid_body", "body must be a JSON array of documents")
	}

	if len(docs) > maxIndexBatch {
		return WriteError(c, fiber.StatusRequestEntityTooLarge, "batch_too_large",
			fmt.Sprintf("at most %d documents per request", maxIndexBatch))
	}

	for _, doc := range docs {
		if strings.TrimSpace(doc.ID) == "" {
			return WriteError(c, fiber.StatusBadRequest, "invalid_body", "every document needs an id")
		}
	}

	if err := h.indexer.Index(c.UserContext(), docs...); err != nil {
		h.logger.Log(c.UserContext(), log.LevelWarn, "index request failed", log.Err(err))

		return RenderError(c, backend.Classify(backend.Primary, err))
	}

	// Cached result sets may now be stale.
	if _, err := h.searcher.Invalidate(c.UserContext(), ""); err != nil {
		h.logger.Log(c.UserContext(), log.LevelWarn, "cache invalidation after indexing failed", log.Err(err))
	}

	return c.SendStatus(fiber.StatusNoContent)
}

//go:build unit

package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/LerianStudio/lib-searchkit/searchkit/backend"
	"github.com/LerianStudio/lib-searchkit/searchkit/circuitbreaker"
	"github.com/LerianStudio/lib-searchkit/searchkit/memory"
	"github.com/LerianStudio/lib-searchkit/searchkit/orchestrator"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearcher struct {
	lastQuery   string
	lastOpts    backend.Options
	lastPattern string
	result      backend.Result
	err         error
	report      orchestrator.HealthReport
	removed     int
}

func (f *fakeSearcher) Search(_ context.Context, query string, opts backend.Options) (backend.Result, orchestrator.PerformanceRecord, error) {
	f.lastQuery, f.lastOpts = query, opts

	return f.result, orchestrator.PerformanceRecord{QueryID: "q-1", ResultCount: len(f.result.Items)}, f.err
}

func (f *fakeSearcher) Health(context.Context) orchestrator.HealthReport { return f.report }

func (f *fakeSearcher) Invalidate(_ context.Context, pattern string) (int, error) {
	f.lastPattern = pattern
	return f.removed, f.err
}

func do(t *testing.T, app *fiber.App, method, target string, body io.Reader) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, data
}

func TestSearch_ParsesOptions(t *testing.T) {
	searcher := &fakeSearcher{result: backend.Result{Items: []backend.Item{{ID: "a", Source: backend.Cache}}, Total: 1}}
	app := NewApp(NewHandler(searcher, 20))

	resp, body := do(t, app, http.MethodGet,
		"/v1/search?q=circuit+breaker&limit=5&offset=2&sortBy=date&sortOrder=ASC&noCache=true&filter.lang=go&filter.lang=en&filter.kind=doc", nil)

	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(HeaderRequestID))

	assert.Equal(t, "circuit breaker", searcher.lastQuery)
	assert.Equal(t, 5, searcher.lastOpts.Limit)
	assert.Equal(t, 2, searcher.lastOpts.Offset)
	assert.Equal(t, backend.SortDate, searcher.lastOpts.SortBy)
	assert.Equal(t, backend.SortAsc, searcher.lastOpts.SortOrder)
	assert.True(t, searcher.lastOpts.DisableCache)
	assert.Equal(t, map[string][]string{"lang": {"go", "en"}, "kind": {"doc"}}, searcher.lastOpts.Filters)

	var got SearchResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, 1, got.Total)
	assert.Equal(t, "q-1", got.Record.QueryID)
	assert.Equal(t, backend.Cache, got.Items[0].Source)
}

func TestSearch_DefaultLimitAndRequestID(t *testing.T) {
	searcher := &fakeSearcher{}
	app := NewApp(NewHandler(searcher, 20))

	req := httptest.NewRequest(http.MethodGet, "/v1/search?q=go", nil)
	req.Header.Set(HeaderRequestID, "req-42")

	resp, err := app.Test(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-42", resp.Header.Get(HeaderRequestID))
	assert.Equal(t, 20, searcher.lastOpts.Limit)
	assert.Nil(t, searcher.lastOpts.Filters)
}

func TestSearch_BadRequests(t *testing.T) {
	app := NewApp(NewHandler(&fakeSearcher{}, 20))

	for _, target := range []string{
		"/v1/search",
		"/v1/search?q=%20",
		"/v1/search?q=go&limit=ten",
		"/v1/search?q=go&offset=x",
		"/v1/search?q=go&sortBy=popularity",
		"/v1/search?q=go&sortOrder=sideways",
		"/v1/search?q=go&noCache=maybe",
	} {
		t.Run(target, func(t *testing.T) {
			resp, body := do(t, app, http.MethodGet, target, nil)
			assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

			var errResp ErrorResponse
			require.NoError(t, json.Unmarshal(body, &errResp))
			assert.Equal(t, "400", errResp.Code)
			assert.Equal(t, "invalid_query", errResp.Title)
		})
	}
}

func TestRenderError_StatusMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: empty", backend.ErrInvalidQuery), fiber.StatusBadRequest},
		{backend.ErrBackendUnavailable, fiber.StatusServiceUnavailable},
		{circuitbreaker.ErrCircuitOpen, fiber.StatusServiceUnavailable},
		{orchestrator.ErrClosed, fiber.StatusServiceUnavailable},
		{backend.Classify(backend.Primary, context.DeadlineExceeded), fiber.StatusGatewayTimeout},
		{errors.New("boom"), fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			app := NewApp(NewHandler(&fakeSearcher{err: tt.err}, 20))

			resp, body := do(t, app, http.MethodGet, "/v1/search?q=go", nil)
			assert.Equal(t, tt.status, resp.StatusCode)

			if tt.status >= fiber.StatusInternalServerError {
				assert.NotContains(t, string(body), tt.err.Error())
			}
		})
	}
}

func TestHealth_StatusFollowsReport(t *testing.T) {
	healthy := orchestrator.HealthReport{
		Primary: orchestrator.BackendReport{
			Health:  backend.HealthyStatus(0),
			Breaker: circuitbreaker.Snapshot{Backend: backend.Primary, State: circuitbreaker.StateClosed},
		},
	}

	resp, body := do(t, NewApp(NewHandler(&fakeSearcher{report: healthy}, 20)), http.MethodGet, "/v1/health", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"state":"closed"`)

	resp, _ = do(t, NewApp(NewHandler(&fakeSearcher{}, 20)), http.MethodGet, "/v1/health", nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestInvalidate(t *testing.T) {
	searcher := &fakeSearcher{removed: 4}
	app := NewApp(NewHandler(searcher, 20))

	resp, body := do(t, app, http.MethodDelete, "/v1/cache?pattern=searchkit:*", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"removed":4}`, string(body))
	assert.Equal(t, "searchkit:*", searcher.lastPattern)
}

func TestInvalidate_MalformedPatternIsBadRequest(t *testing.T) {
	cache, store := memory.NewCache(), memory.NewStore()

	orch, err := orchestrator.New(cache, store, orchestrator.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, orch.Connect(context.Background()))
	t.Cleanup(func() { _ = orch.Close(context.Background()) })

	app := NewApp(NewHandler(orch, 20))

	for range 3 {
		resp, _ := do(t, app, http.MethodDelete, "/v1/cache?pattern=%5B", nil)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	}

	assert.True(t, orch.Breakers().IsAvailable(backend.Cache))
	assert.Equal(t, uint32(0), orch.Breakers().Snapshot(backend.Cache).FailureCount)
}

func TestIndex(t *testing.T) {
	searcher := &fakeSearcher{}
	store := memory.NewStore()
	require.NoError(t, store.Connect(context.Background()))

	app := NewApp(NewHandler(searcher, 20, WithIndexer(store)))

	resp, _ := do(t, app, http.MethodPut, "/v1/documents",
		strings.NewReader(`[{"id":"a","text":"circuit breaker","fields":{"lang":"go"}}]`))
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "", searcher.lastPattern)

	result, err := store.Search(context.Background(), "circuit", backend.Options{Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total)

	resp, _ = do(t, app, http.MethodPut, "/v1/documents", strings.NewReader(`[{"text":"no id"}]`))
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, app, http.MethodPut, "/v1/documents", strings.NewReader(`{`))
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestIndex_NotMountedWithoutIndexer(t *testing.T) {
	app := NewApp(NewHandler(&fakeSearcher{}, 20))

	resp, _ := do(t, app, http.MethodPut, "/v1/documents", strings.NewReader(`[]`))
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestEndToEnd_WithOrchestrator(t *testing.T) {
	ctx := context.Background()

	cache := memory.NewCache()
	store := memory.NewStore(backend.Document{ID: "a", Text: "circuit breaker"})

	orch, err := orchestrator.New(cache, store, orchestrator.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, orch.Connect(ctx))

	t.Cleanup(func() { _ = orch.Close(ctx) })

	app := NewApp(NewHandler(orch, 20, WithIndexer(store)))

	resp, body := do(t, app, http.MethodGet, "/v1/search?q=circuit", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var first SearchResponse
	require.NoError(t, json.Unmarshal(body, &first))
	require.Len(t, first.Items, 1)
	assert.False(t, first.Record.CacheHit)

	resp, body = do(t, app, http.MethodGet, "/v1/search?q=circuit", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var second SearchResponse
	require.NoError(t, json.Unmarshal(body, &second))
	assert.True(t, second.Record.CacheHit)

	resp, _ = do(t, app, http.MethodGet, "/v1/health", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, body = do(t, app, http.MethodDelete, "/v1/cache", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"removed":1}`, string(body))
}

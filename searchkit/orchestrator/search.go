package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LerianStudio/lib-searchkit/searchkit/backend"
	"github.com/LerianStudio/lib-searchkit/searchkit/circuitbreaker"
	"github.com/LerianStudio/lib-searchkit/searchkit/errgroup"
	"github.com/LerianStudio/lib-searchkit/searchkit/log"
	"github.com/LerianStudio/lib-searchkit/searchkit/merge"
	"github.com/LerianStudio/lib-searchkit/searchkit/runtime"
	"github.com/LerianStudio/lib-searchkit/searchkit/strategy"
	"github.com/google/uuid"
)

// Search runs query against the backends chosen by the strategy selector.
// It always returns a PerformanceRecord describing the call.
func (o *Orchestrator) Search(ctx context.Context, query string, opts backend.Options) (backend.Result, PerformanceRecord, error) {
	start := time.Now()
	rec := PerformanceRecord{QueryID: uuid.NewString(), Timestamp: start}

	ctx, span := o.startSpan(ctx, rec.QueryID)
	defer span.End()

	if o.closed.Load() {
		return o.finish(ctx, span, start, rec, backend.Result{}, ErrClosed)
	}

	if strings.TrimSpace(query) == "" {
		return o.finish(ctx, span, start, rec, backend.Result{}, fmt.Errorf("%w: query must not be empty", backend.ErrInvalidQuery))
	}

	opts, rec.LimitClamped = o.normalize(opts)

	rec.Strategy = strategy.Select(strategy.Input{
		CacheHealth:      o.monitor.Get(ctx, backend.Cache),
		PrimaryHealth:    o.monitor.Get(ctx, backend.Primary),
		CacheAvailable:   o.breakers.IsAvailable(backend.Cache),
		PrimaryAvailable: o.breakers.IsAvailable(backend.Primary),
		Options:          opts,
		Preference:       o.cfg.Preference,
	})

	var (
		result backend.Result
		err    error
	)

	switch rec.Strategy {
	case strategy.CacheOnly:
		result, err = o.cacheOnly(ctx, query, opts, &rec)
	case strategy.PrimaryOnly:
		result, err = o.primaryOnly(ctx, query, opts)
	case strategy.Hybrid:
		result, err = o.hybrid(ctx, query, opts, &rec)
	default:
		result, err = o.fallback(ctx, query, opts, &rec)
	}

	return o.finish(ctx, span, start, rec, result, err)
}

// normalize clamps limit and offset. The returned flag reports a clamped limit.
func (o *Orchestrator) normalize(opts backend.Options) (backend.Options, bool) {
	clamped := false

	switch {
	case opts.Limit < 1:
		opts.Limit = 1
		clamped = true
	case opts.Limit > o.cfg.MaxLimit:
		opts.Limit = o.cfg.MaxLimit
		clamped = true
	}

	if opts.Offset < 0 {
		opts.Offset = 0
	}

	return opts, clamped
}

func (o *Orchestrator) cacheOnly(ctx context.Context, query string, opts backend.Options, rec *PerformanceRecord) (backend.Result, error) {
	result, err := o.call(ctx, backend.Cache, o.cache, query, opts)
	if errors.Is(err, backend.ErrCacheMiss) {
		return backend.Result{}, fmt.Errorf("%s: %w: cache miss while the primary store is unavailable",
			backend.Primary, backend.ErrBackendUnavailable)
	}

	if err != nil {
		return backend.Result{}, err
	}

	rec.CacheHit = true

	return result, nil
}

func (o *Orchestrator) primaryOnly(ctx context.Context, query string, opts backend.Options) (backend.Result, error) {
	return o.call(ctx, backend.Primary, o.primary, query, opts)
}

// fallback tries the cache first and falls through to the primary store on a
// miss or a cache failure. Primary results are written back to the cache.
func (o *Orchestrator) fallback(ctx context.Context, query string, opts backend.Options, rec *PerformanceRecord) (backend.Result, error) {
	result, err := o.call(ctx, backend.Cache, o.cache, query, opts)
	if err == nil {
		rec.CacheHit = true
		return result, nil
	}

	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return backend.Result{}, err
	}

	if !errors.Is(err, backend.ErrCacheMiss) {
		rec.Failures = append(rec.Failures, newFailure(backend.Cache, err))
		o.logger.Log(ctx, log.LevelWarn, "cache search failed, falling back to primary store",
			log.String("query_id", rec.QueryID),
			log.Err(err))
	}

	result, err = o.call(ctx, backend.Primary, o.primary, query, opts)
	if err != nil {
		return backend.Result{}, err
	}

	o.writeThrough(ctx, query, opts, result)

	return result, nil
}

type sideOutcome struct {
	result backend.Result
	err    error
	done   bool
}

// hybrid queries both backends concurrently, waits for both and merges what
// came back. Losing one side does not fail the call.
func (o *Orchestrator) hybrid(ctx context.Context, query string, opts backend.Options, rec *PerformanceRecord) (backend.Result, error) {
	var cacheSide, primarySide sideOutcome

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLogger(o.logger)

	group.Go(func() error {
		cacheSide.result, cacheSide.err = o.call(groupCtx, backend.Cache, o.cache, query, opts)
		cacheSide.done = true

		return nil
	})

	group.Go(func() error {
		primarySide.result, primarySide.err = o.call(groupCtx, backend.Primary, o.primary, query, opts)
		primarySide.done = true

		return nil
	})

	if err := group.Wait(); err != nil {
		for _, side := range []*sideOutcome{&cacheSide, &primarySide} {
			if !side.done {
				side.err = fmt.Errorf("%w: %w", backend.ErrBackendUnavailable, err)
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return backend.Result{}, err
	}

	cacheMissed := errors.Is(cacheSide.err, backend.ErrCacheMiss)
	cacheFailed := cacheSide.err != nil && !cacheMissed

	switch {
	case primarySide.err != nil && cacheSide.err != nil:
		if cacheFailed {
			rec.Failures = append(rec.Failures, newFailure(backend.Cache, cacheSide.err))
		}

		return backend.Result{}, primarySide.err
	case primarySide.err != nil:
		rec.Failures = append(rec.Failures, newFailure(backend.Primary, primarySide.err))
		rec.CacheHit = true

		return cacheSide.result, nil
	case cacheFailed:
		rec.Failures = append(rec.Failures, newFailure(backend.Cache, cacheSide.err))
	}

	rec.CacheHit = cacheSide.err == nil

	items, err := merge.Merge(cacheSide.result.Items, primarySide.result.Items, o.cfg.MergePolicy, merge.Options{
		Priority: o.cfg.Priority,
		Weights:  o.cfg.Weights,
		Limit:    opts.Limit,
	})
	if err != nil {
		o.logger.Log(ctx, log.LevelError, "merging hybrid results failed", log.String("query_id", rec.QueryID), log.Err(err))
		return backend.Result{}, err
	}

	if !rec.CacheHit {
		o.writeThrough(ctx, query, opts, primarySide.result)
	}

	return backend.Result{
		Items: items,
		Total: max(cacheSide.result.Total, primarySide.result.Total),
	}, nil
}

// call makes one breaker-gated backend call bounded by the per-call timeout.
func (o *Orchestrator) call(ctx context.Context, id backend.Identity, b backend.Backend, query string, opts backend.Options) (result backend.Result, err error) {
	permit, err := o.breakers.Acquire(id)
	if err != nil {
		return backend.Result{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout(opts))
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			runtime.HandlePanicValue(ctx, o.logger, r, "orchestrator", "search_"+id.String())
			permit.Failure()

			result, err = backend.Result{}, fmt.Errorf("%s: %w: panic: %v", id, backend.ErrBackendUnavailable, r)
		}
	}()

	result, err = b.Search(callCtx, query, opts)
	if err != nil {
		o.settle(ctx, permit, err)
		return backend.Result{}, backend.Classify(id, err)
	}

	permit.Success()

	if result.Items == nil {
		result.Items = []backend.Item{}
	}

	for i := range result.Items {
		if result.Items[i].Source == "" {
			result.Items[i].Source = id
		}
	}

	return result, nil
}

// settle reports a failed call on its permit. Cache misses and caller errors
// are not backend failures, and a call cancelled by the caller carries no outcome.
func (o *Orchestrator) settle(ctx context.Context, permit *circuitbreaker.Permit, err error) {
	switch {
	case errors.Is(err, backend.ErrCacheMiss):
		permit.Success()
	case errors.Is(err, backend.ErrInvalidQuery):
		permit.Release()
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		permit.Release()
	default:
		permit.Failure()
	}
}

func (o *Orchestrator) timeout(opts backend.Options) time.Duration {
	if opts.Timeout > 0 {
		return opts.Timeout
	}

	return o.cfg.Timeout
}

// writeThrough stores a primary result under the query fingerprint. It only
// runs while the cache breaker is closed and its outcome is not reported to
// the breaker: reads alone decide cache availability. Failures are logged and
// never fail the search.
func (o *Orchestrator) writeThrough(ctx context.Context, query string, opts backend.Options, result backend.Result) {
	if opts.DisableCache || o.breakers.State(backend.Cache) != circuitbreaker.StateClosed {
		return
	}

	data, err := backend.EncodeResult(result)
	if err != nil {
		o.logger.Log(ctx, log.LevelWarn, "encoding result for cache failed", log.Err(err))
		return
	}

	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = o.cfg.CacheTTL
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout(opts))
	defer cancel()

	if err := o.cache.Set(callCtx, backend.Fingerprint(query, opts), data, ttl); err != nil {
		o.logger.Log(ctx, log.LevelWarn, "cache write-through failed", log.Err(err))
	}
}

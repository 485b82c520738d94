package orchestrator

import (
	"context"
	"time"

	"github.com/LerianStudio/lib-searchkit/searchkit/backend"
	constant "github.com/LerianStudio/lib-searchkit/searchkit/constants"
	"github.com/LerianStudio/lib-searchkit/searchkit/log"
	"github.com/LerianStudio/lib-searchkit/searchkit/opentelemetry"
	"github.com/LerianStudio/lib-searchkit/searchkit/opentelemetry/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SpanName is the name of the span opened around every Search call.
const SpanName = "searchkit.search"

var (
	searchDurationMetric = metrics.Metric{
		Name:        constant.MetricSearchDurationMs,
		Unit:        "ms",
		Description: "Search latency in milliseconds",
		Buckets:     metrics.DefaultLatencyMsBuckets,
	}

	searchRequestsMetric = metrics.Metric{
		Name:        constant.MetricSearchRequestsTotal,
		Unit:        "1",
		Description: "Total number of searches, by strategy and outcome",
	}

	cacheHitsMetric = metrics.Metric{
		Name:        constant.MetricSearchCacheHitsTotal,
		Unit:        "1",
		Description: "Total number of searches answered from the cache",
	}

	slowQueriesMetric = metrics.Metric{
		Name:        constant.MetricSearchSlowQueriesTotal,
		Unit:        "1",
		Description: "Total number of searches slower than the slow query threshold",
	}
)

func (o *Orchestrator) startSpan(ctx context.Context, queryID string) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := opentelemetry.Tracer(o.tracer).Start(ctx, SpanName)
	span.SetAttributes(attribute.String(constant.AttrQueryID, queryID))

	return ctx, span
}

// finish seals the record and emits telemetry. The record is not touched afterwards.
func (o *Orchestrator) finish(ctx context.Context, span trace.Span, start time.Time, rec PerformanceRecord, result backend.Result, err error) (backend.Result, PerformanceRecord, error) {
	rec.SearchDuration = time.Since(start)
	rec.SearchDurationMs = rec.SearchDuration.Milliseconds()
	rec.Err = err
	rec.Slow = o.cfg.SlowQueryThreshold > 0 && rec.SearchDuration >= o.cfg.SlowQueryThreshold

	if err != nil {
		result = backend.Result{}
		rec.ResultCount = 0
		rec.CacheHit = false
	} else {
		if result.Items == nil {
			result.Items = []backend.Item{}
		}

		rec.ResultCount = len(result.Items)
	}

	span.SetAttributes(
		attribute.String(constant.AttrStrategy, string(rec.Strategy)),
		attribute.Bool(constant.AttrCacheHit, rec.CacheHit),
		attribute.Int(constant.AttrResultCount, rec.ResultCount),
		attribute.Bool(constant.AttrLimitClamped, rec.LimitClamped),
	)

	for _, failure := range rec.Failures {
		opentelemetry.HandleSpanBusinessErrorEvent(span, "searchkit.backend_failure."+failure.Backend.String(), failure.Err)
	}

	opentelemetry.HandleSpanError(span, "search failed", err)

	o.logRecord(ctx, rec)
	o.recordMetrics(ctx, rec)

	return result, rec, err
}

func (o *Orchestrator) logRecord(ctx context.Context, rec PerformanceRecord) {
	fields := []log.Field{
		log.String("query_id", rec.QueryID),
		log.String("strategy", string(rec.Strategy)),
		log.Bool("cache_hit", rec.CacheHit),
		log.Int("result_count", rec.ResultCount),
		log.Int64("duration_ms", rec.SearchDurationMs),
	}

	if rec.LimitClamped {
		fields = append(fields, log.Bool("limit_clamped", true))
	}

	if rec.Slow {
		o.logger.Log(ctx, log.LevelWarn, "slow search", append(fields,
			log.Duration("threshold", o.cfg.SlowQueryThreshold))...)
	}

	if rec.Err != nil {
		o.logger.Log(ctx, log.LevelWarn, "search failed", append(fields, log.Err(rec.Err))...)
		return
	}

	if o.logger.Enabled(log.LevelDebug) {
		o.logger.Log(ctx, log.LevelDebug, "search completed", fields...)
	}
}

func (o *Orchestrator) recordMetrics(ctx context.Context, rec PerformanceRecord) {
	if !o.cfg.EnableMetrics || o.metricsFactory == nil {
		return
	}

	outcome := "success"
	if rec.Err != nil {
		outcome = "error"
	}

	strategyLabel := string(rec.Strategy)
	if strategyLabel == "" {
		strategyLabel = "none"
	}

	labels := map[string]string{"strategy": constant.SanitizeMetricLabel(strategyLabel)}

	if histogram, err := o.metricsFactory.Histogram(searchDurationMetric); err == nil {
		_ = histogram.WithLabels(labels).Record(ctx, rec.SearchDurationMs)
	}

	if counter, err := o.metricsFactory.Counter(searchRequestsMetric); err == nil {
		_ = counter.WithLabels(map[string]string{
			"strategy": labels["strategy"],
			"outcome":  outcome,
		}).AddOne(ctx)
	}

	if rec.CacheHit {
		if counter, err := o.metricsFactory.Counter(cacheHitsMetric); err == nil {
			_ = counter.WithLabels(labels).AddOne(ctx)
		}
	}

	if rec.Slow {
		if counter, err := o.metricsFactory.Counter(slowQueriesMetric); err == nil {
			_ = counter.WithLabels(labels).AddOne(ctx)
		}
	}
}

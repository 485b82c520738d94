//go:build unit

package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/LerianStudio/lib-searchkit/searchkit/backend"
	constant "github.com/LerianStudio/lib-searchkit/searchkit/constants"
	"github.com/LerianStudio/lib-searchkit/searchkit/log"
	"github.com/LerianStudio/lib-searchkit/searchkit/opentelemetry/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func counterTotal(t *testing.T, rm metricdata.ResourceMetrics, name string, match map[string]string) int64 {
	t.Helper()

	var total int64

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}

			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)

		points:
			for _, dp := range sum.DataPoints {
				for k, v := range match {
					got, found := dp.Attributes.Value(attribute.Key(k))
					if !found || got.AsString() != v {
						continue points
					}
				}

				total += dp.Value
			}
		}
	}

	return total
}

func histogramCount(rm metricdata.ResourceMetrics, name string) uint64 {
	var count uint64

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}

			if hist, ok := m.Data.(metricdata.Histogram[int64]); ok {
				for _, dp := range hist.DataPoints {
					count += dp.Count
				}
			}
		}
	}

	return count
}

func TestSearch_EmitsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	factory, err := metrics.NewMetricsFactory(provider.Meter("orchestrator-test"), &log.NopLogger{})
	require.NoError(t, err)

	o := newTestOrchestrator(t, newConnectedCache(t), newConnectedStore(t), nil, WithMetricsFactory(factory))
	opts := backend.Options{Limit: 10}

	_, _, err = o.Search(context.Background(), "search", opts)
	require.NoError(t, err)
	_, _, err = o.Search(context.Background(), "search", opts)
	require.NoError(t, err)
	_, _, err = o.Search(context.Background(), " ", opts)
	require.Error(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	assert.Equal(t, int64(2), counterTotal(t, rm, constant.MetricSearchRequestsTotal,
		map[string]string{"strategy": "circuit-guarded-fallback", "outcome": "success"}))
	assert.Equal(t, int64(1), counterTotal(t, rm, constant.MetricSearchRequestsTotal,
		map[string]string{"strategy": "none", "outcome": "error"}))
	assert.Equal(t, int64(1), counterTotal(t, rm, constant.MetricSearchCacheHitsTotal, nil))
	assert.Equal(t, uint64(3), histogramCount(rm, constant.MetricSearchDurationMs))
	assert.Positive(t, counterTotal(t, rm, constant.MetricHealthProbesTotal, map[string]string{"result": "healthy"}))
}

func TestSearch_MetricsCanBeDisabled(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	factory, err := metrics.NewMetricsFactory(provider.Meter("orchestrator-test"), &log.NopLogger{})
	require.NoError(t, err)

	o := newTestOrchestrator(t, newConnectedCache(t), newConnectedStore(t), func(cfg *Config) {
		cfg.EnableMetrics = false
	}, WithMetricsFactory(factory))

	_, _, err = o.Search(context.Background(), "search", backend.Options{Limit: 10})
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	assert.Zero(t, counterTotal(t, rm, constant.MetricSearchRequestsTotal, nil))
}

func TestSearch_OpensSpan(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	primary := &stubPrimary{}
	primary.set(nil, errors.New("down"), 0)

	o := newTestOrchestrator(t, newConnectedCache(t), primary, nil, WithTracer(tp.Tracer("test")))

	_, rec, err := o.Search(context.Background(), "q", backend.Options{Limit: 3})
	require.Error(t, err)

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, SpanName, spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes {
		attrs[kv.Key] = kv.Value
	}

	assert.Equal(t, rec.QueryID, attrs[constant.AttrQueryID].AsString())
	assert.Equal(t, "circuit-guarded-fallback", attrs[constant.AttrStrategy].AsString())
	assert.Equal(t, int64(0), attrs[constant.AttrResultCount].AsInt64())
}

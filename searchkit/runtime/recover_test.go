//go:build unit

package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/LerianStudio/lib-searchkit/searchkit/log"
	"github.com/LerianStudio/lib-searchkit/searchkit/opentelemetry/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type recordingLogger struct {
	log.NopLogger
	mu       sync.Mutex
	messages []string
	fields   [][]log.Field
}

func (l *recordingLogger) Log(_ context.Context, _ log.Level, msg string, fields ...log.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = append(l.messages, msg)
	l.fields = append(l.fields, fields)
}

func (l *recordingLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.messages)
}

func (l *recordingLogger) field(i int, key string) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, f := range l.fields[i] {
		if f.Key == key {
			return f.Value, true
		}
	}

	return nil, false
}

type capturingReporter struct {
	mu   sync.Mutex
	errs []error
	tags []map[string]string
}

func (r *capturingReporter) CaptureException(_ context.Context, err error, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errs = append(r.errs, err)
	r.tags = append(r.tags, tags)
}

func TestHandlePanicValue_LogsPanic(t *testing.T) {
	logger := &recordingLogger{}

	HandlePanicValue(context.Background(), logger, "boom", "orchestrator", "hybrid.cache")

	require.Equal(t, 1, logger.count())
	assert.Equal(t, "panic recovered", logger.messages[0])

	value, ok := logger.field(0, "panic_value")
	require.True(t, ok)
	assert.Equal(t, "boom", value)
}

func TestHandlePanicValue_NilValueIgnored(t *testing.T) {
	logger := &recordingLogger{}

	HandlePanicValue(context.Background(), logger, nil, "orchestrator", "hybrid.cache")

	assert.Equal(t, 0, logger.count())
}

func TestHandlePanicValue_NilLoggerAndContext(t *testing.T) {
	assert.NotPanics(t, func() {
		//nolint:staticcheck
		HandlePanicValue(nil, nil, errors.New("boom"), "orchestrator", "hybrid.primary")
	})
}

func TestRecoverAndLog_RecoversPanic(t *testing.T) {
	logger := &recordingLogger{}

	assert.NotPanics(t, func() {
		defer RecoverAndLog(context.Background(), logger, "health", "probe")

		panic("probe exploded")
	})

	assert.Equal(t, 1, logger.count())
}

func TestSafeGo_RecoversPanic(t *testing.T) {
	logger := &recordingLogger{}
	done := make(chan struct{})

	SafeGo(context.Background(), logger, "circuitbreaker", "listener", func() {
		defer close(done)
		panic("listener exploded")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}

	assert.Eventually(t, func() bool { return logger.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestErrorReporter_ReceivesPanic(t *testing.T) {
	reporter := &capturingReporter{}
	SetErrorReporter(reporter)

	t.Cleanup(func() { SetErrorReporter(nil) })

	HandlePanicValue(context.Background(), nil, "reported", "orchestrator", "search")

	reporter.mu.Lock()
	defer reporter.mu.Unlock()

	require.Len(t, reporter.errs, 1)
	assert.Equal(t, "reported", reporter.errs[0].Error())
	assert.Equal(t, "orchestrator", reporter.tags[0]["component"])
	assert.NotEmpty(t, reporter.tags[0]["stack_trace"])
}

func TestProductionModeRedactsDetails(t *testing.T) {
	SetProductionMode(true)
	t.Cleanup(func() { SetProductionMode(false) })

	err := toPanicError("secret", IsProductionMode())
	assert.Equal(t, redactedPanicMsg, err.Error())
}

func TestFormatPanicValue(t *testing.T) {
	assert.Equal(t, "<nil>", formatPanicValue(nil))
	assert.Equal(t, "text", formatPanicValue("text"))
	assert.Equal(t, "err", formatPanicValue(errors.New("err")))
	assert.Equal(t, "panic: 42", formatPanicValue(42))
}

func TestPanicMetrics_CountsRecoveredPanics(t *testing.T) {
	ResetPanicMetrics()
	t.Cleanup(ResetPanicMetrics)

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	factory, err := metrics.NewMetricsFactory(provider.Meter("test-runtime"), nil)
	require.NoError(t, err)

	InitPanicMetrics(factory, nil)
	require.NotNil(t, GetPanicMetrics())

	HandlePanicValue(context.Background(), nil, "counted", "orchestrator", "search")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "panic_recovered_total" {
				continue
			}

			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)

			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}

	assert.Equal(t, int64(1), total)
}

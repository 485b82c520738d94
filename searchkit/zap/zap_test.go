//go:build unit

package zap

import (
	"context"
	"errors"
	"testing"

	logpkg "github.com/LerianStudio/lib-searchkit/searchkit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, observed := observer.New(level)

	return Wrap(zap.New(core)), observed
}

func TestLoggerNilReceiverFallsBackToNop(t *testing.T) {
	var nilLogger *Logger

	assert.NotPanics(t, func() {
		nilLogger.Log(context.Background(), logpkg.LevelInfo, "message")
	})
	assert.NotNil(t, nilLogger.Raw())
}

func TestLogAllLevels(t *testing.T) {
	logger, observed := newObservedLogger(zapcore.DebugLevel)
	ctx := context.Background()

	logger.Log(ctx, logpkg.LevelDebug, "d")
	logger.Log(ctx, logpkg.LevelInfo, "i")
	logger.Log(ctx, logpkg.LevelWarn, "w")
	logger.Log(ctx, logpkg.LevelError, "e", logpkg.Err(errors.New("boom")))

	entries := observed.All()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	assert.Equal(t, "boom", entries[3].ContextMap()["error"])
}

func TestLogDefaultLevelIsInfo(t *testing.T) {
	logger, observed := newObservedLogger(zapcore.DebugLevel)

	logger.Log(context.Background(), logpkg.Level(99), "odd")

	entries := observed.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
}

func TestWithReturnsChildLogger(t *testing.T) {
	logger, observed := newObservedLogger(zapcore.InfoLevel)

	child := logger.With(logpkg.String("backend", "primary"))
	child.Log(context.Background(), logpkg.LevelInfo, "child")
	logger.Log(context.Background(), logpkg.LevelInfo, "parent")

	entries := observed.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "primary", entries[0].ContextMap()["backend"])
	assert.NotContains(t, entries[1].ContextMap(), "backend")
}

func TestWithGroupNamespacesFields(t *testing.T) {
	logger, observed := newObservedLogger(zapcore.InfoLevel)

	logger.WithGroup("search").Log(context.Background(), logpkg.LevelInfo, "grouped", logpkg.Int("results", 3))

	entries := observed.All()
	require.Len(t, entries, 1)

	group, ok := entries[0].ContextMap()["search"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 3, group["results"])
}

func TestEnabledReportsCorrectly(t *testing.T) {
	logger, _ := newObservedLogger(zapcore.WarnLevel)

	assert.True(t, logger.Enabled(logpkg.LevelError))
	assert.True(t, logger.Enabled(logpkg.LevelWarn))
	assert.False(t, logger.Enabled(logpkg.LevelInfo))
	assert.False(t, logger.Enabled(logpkg.LevelDebug))
}

func TestLogWithOTelSpanInjectsTraceFields(t *testing.T) {
	logger, observed := newObservedLogger(zapcore.InfoLevel)

	traceID, err := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	require.NoError(t, err)

	spanID, err := trace.SpanIDFromHex("0102030405060708")
	require.NoError(t, err)

	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	logger.Log(ctx, logpkg.LevelInfo, "traced")

	entries := observed.All()
	require.Len(t, entries, 1)
	assert.Equal(t, traceID.String(), entries[0].ContextMap()["trace_id"])
	assert.Equal(t, spanID.String(), entries[0].ContextMap()["span_id"])
}

func TestSyncWithCancelledContext(t *testing.T) {
	logger, _ := newObservedLogger(zapcore.InfoLevel)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, logger.Sync(ctx), context.Canceled)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Environment: EnvironmentProduction})
	assert.ErrorContains(t, err, "OTelLibraryName is required")

	_, err = New(Config{Environment: "moon", OTelLibraryName: "searchkit"})
	assert.ErrorContains(t, err, "invalid environment")

	_, err = New(Config{Environment: EnvironmentLocal, OTelLibraryName: "searchkit", Level: "loud"})
	assert.ErrorContains(t, err, "invalid level")
}

func TestNewResolvesLevelByEnvironment(t *testing.T) {
	dev, err := New(Config{Environment: EnvironmentDevelopment, OTelLibraryName: "searchkit"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, dev.Level().Level())

	prod, err := New(Config{Environment: EnvironmentProduction, OTelLibraryName: "searchkit"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, prod.Level().Level())

	explicit, err := New(Config{Environment: EnvironmentProduction, OTelLibraryName: "searchkit", Level: "warn"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, explicit.Level().Level())
}

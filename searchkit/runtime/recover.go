package runtime

import (
	"context"
	"fmt"
	"runtime/debug"

	constant "github.com/LerianStudio/lib-searchkit/searchkit/constants"
	"github.com/LerianStudio/lib-searchkit/searchkit/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// HandlePanicValue processes a value obtained from recover(). A nil value is ignored.
func HandlePanicValue(ctx context.Context, logger log.Logger, panicValue any, component, goroutineName string) {
	if panicValue == nil {
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}

	stack := debug.Stack()

	logPanicWithStack(ctx, logger, goroutineName, panicValue, stack)
	recordPanicOnSpan(ctx, panicValue, component, goroutineName)
	recordPanicMetric(ctx, component, goroutineName)
	reportPanicToErrorService(ctx, panicValue, stack, component, goroutineName)
}

// RecoverAndLog is meant to be deferred; it recovers a panic and handles it
// without re-panicking.
func RecoverAndLog(ctx context.Context, logger log.Logger, component, goroutineName string) {
	if recovered := recover(); recovered != nil {
		HandlePanicValue(ctx, logger, recovered, component, goroutineName)
	}
}

// SafeGo runs fn in a new goroutine with panic recovery.
func SafeGo(ctx context.Context, logger log.Logger, component, goroutineName string, fn func()) {
	go func() {
		defer RecoverAndLog(ctx, logger, component, goroutineName)

		fn()
	}()
}

func logPanicWithStack(ctx context.Context, logger log.Logger, name string, panicValue any, stack []byte) {
	if logger == nil {
		return
	}

	fields := []log.Field{
		log.String("goroutine_name", name),
		log.String("panic_value", toPanicError(panicValue, IsProductionMode()).Error()),
	}

	if !IsProductionMode() {
		fields = append(fields, log.String("stack", string(stack)))
	}

	logger.Log(ctx, log.LevelError, "panic recovered", fields...)
}

func recordPanicOnSpan(ctx context.Context, panicValue any, component, goroutineName string) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	span.AddEvent(constant.EventPanicRecovered, trace.WithAttributes(
		attribute.String("panic.component", component),
		attribute.String("panic.goroutine_name", goroutineName),
		attribute.String("panic.value", fmt.Sprint(toPanicError(panicValue, IsProductionMode()))),
	))
}

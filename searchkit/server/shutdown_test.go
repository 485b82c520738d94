//go:build unit

package server

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/LerianStudio/lib-searchkit/searchkit/log"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeAddress(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().String()
	require.NoError(t, l.Close())

	return addr
}

func TestRun_RequiresServer(t *testing.T) {
	require.ErrorIs(t, NewManager(nil).Run(), ErrNoServerConfigured)
}

func TestRun_ShutdownChannelRunsClosersInOrder(t *testing.T) {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	shutdown := make(chan struct{})

	var order []string

	m := NewManager(&log.NopLogger{}).
		WithHTTPServer(app, freeAddress(t)).
		WithShutdownChannel(shutdown).
		WithShutdownTimeout(time.Second).
		WithCloser("first", func(context.Context) error { order = append(order, "first"); return nil }).
		WithCloser("second", func(context.Context) error { order = append(order, "second"); return errors.New("boom") })

	done := make(chan error, 1)

	go func() { done <- m.Run() }()

	<-m.Started()
	close(shutdown)

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "second: boom")
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	assert.Equal(t, []string{"first", "second"}, order)

	// Shutdown is idempotent.
	require.NoError(t, m.Shutdown())
}

func TestRun_ListenFailureTriggersShutdown(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	t.Cleanup(func() { _ = l.Close() })

	closed := false

	m := NewManager(nil).
		WithHTTPServer(fiber.New(fiber.Config{DisableStartupMessage: true}), l.Addr().String()).
		WithShutdownChannel(make(chan struct{})).
		WithCloser("orchestrator", func(context.Context) error { closed = true; return nil })

	err = m.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http server")
	assert.True(t, closed)
}

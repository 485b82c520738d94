package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/LerianStudio/lib-searchkit/searchkit/log"
	"github.com/LerianStudio/lib-searchkit/searchkit/runtime"
	"github.com/gofiber/fiber/v2"
)

// ErrNoServerConfigured is returned by Run when WithHTTPServer was not called.
var ErrNoServerConfigured = errors.New("server: no HTTP server configured")

// Closer releases a resource during shutdown, after the HTTP server stopped.
type Closer func(ctx context.Context) error

// Manager owns the HTTP server lifecycle.
type Manager struct {
	app             *fiber.App
	address         string
	logger          log.Logger
	closers         []namedCloser
	shutdownChan    <-chan struct{}
	shutdownTimeout time.Duration
	started         chan struct{}
	startedOnce     sync.Once
	shutdownOnce    sync.Once
	startupErrors   chan error
}

type namedCloser struct {
	name string
	fn   Closer
}

// NewManager creates a Manager. A nil logger is replaced with a no-op one.
func NewManager(logger log.Logger) *Manager {
	return &Manager{
		logger:          log.OrNop(logger),
		shutdownTimeout: 30 * time.Second,
		started:         make(chan struct{}),
		startupErrors:   make(chan error, 1),
	}
}

// WithHTTPServer sets the app and the address it listens on.
func (m *Manager) WithHTTPServer(app *fiber.App, address string) *Manager {
	m.app = app
	m.address = address

	return m
}

// WithCloser registers fn to run on shutdown. Closers run in registration order.
func (m *Manager) WithCloser(name string, fn Closer) *Manager {
	if fn != nil {
		m.closers = append(m.closers, namedCloser{name: name, fn: fn})
	}

	return m
}

// WithShutdownChannel replaces signal handling with ch, mainly for tests.
func (m *Manager) WithShutdownChannel(ch <-chan struct{}) *Manager {
	m.shutdownChan = ch

	return m
}

// WithShutdownTimeout bounds the HTTP drain and every closer. Defaults to 30s.
func (m *Manager) WithShutdownTimeout(d time.Duration) *Manager {
	if d > 0 {
		m.shutdownTimeout = d
	}

	return m
}

// Started is closed once the server goroutine has been launched.
func (m *Manager) Started() <-chan struct{} {
	return m.started
}

// Run starts the server and blocks until a signal arrives, the shutdown
// channel closes or the listener fails. It returns the listener error, if
// any, joined with closer errors.
func (m *Manager) Run() error {
	if m.app == nil {
		return ErrNoServerConfigured
	}

	runtime.SafeGo(context.Background(), m.logger, "server", "http_listener", func() {
		m.logger.Log(context.Background(), log.LevelInfo, "starting HTTP server", log.String("address", m.address))

		if err := m.app.Listen(m.address); err != nil {
			select {
			case m.startupErrors <- fmt.Errorf("http server: %w", err):
			default:
			}
		}
	})

	m.startedOnce.Do(func() { close(m.started) })

	var listenErr error

	if m.shutdownChan != nil {
		select {
		case <-m.shutdownChan:
		case listenErr = <-m.startupErrors:
		}
	} else {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

		select {
		case <-signals:
		case listenErr = <-m.startupErrors:
		}

		signal.Stop(signals)
	}

	if listenErr != nil {
		m.logger.Log(context.Background(), log.LevelError, "HTTP server failed", log.Err(listenErr))
	}

	return errors.Join(listenErr, m.Shutdown())
}

// Shutdown drains the server and runs the closers. Only the first call does
// any work.
func (m *Manager) Shutdown() error {
	var errs []error

	m.shutdownOnce.Do(func() {
		ctx := context.Background()

		m.logger.Log(ctx, log.LevelInfo, "gracefully shutting down")

		if m.app != nil {
			if err := m.app.ShutdownWithTimeout(m.shutdownTimeout); err != nil {
				errs = append(errs, fmt.Errorf("http shutdown: %w", err))
			}
		}

		for _, c := range m.closers {
			closeCtx, cancel := context.WithTimeout(ctx, m.shutdownTimeout)

			if err := c.fn(closeCtx); err != nil {
				m.logger.Log(ctx, log.LevelError, "closer failed", log.String("name", c.name), log.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			}

			cancel()
		}

		if err := m.logger.Sync(ctx); err != nil {
			errs = append(errs, fmt.Errorf("sync logger: %w", err))
		}

		m.logger.Log(ctx, log.LevelInfo, "graceful shutdown completed")
	})

	return errors.Join(errs...)
}

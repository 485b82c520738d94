package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/LerianStudio/lib-searchkit/searchkit/backend"
	"github.com/LerianStudio/lib-searchkit/searchkit/log"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

var (
	// ErrNoPath is returned by New when neither a path nor in-memory mode is set.
	ErrNoPath = errors.New("badger: path is required unless running in memory")
	// ErrNotDirectory is returned by Connect when the path exists but is a file.
	ErrNotDirectory = errors.New("badger: path is not a directory")
)

// Config configures a Cache.
type Config struct {
	Path     string
	InMemory bool
	Logger   log.Logger
}

// Cache is a BadgerDB backed backend.CacheStore.
type Cache struct {
	mu     sync.RWMutex
	cfg    Config
	logger log.Logger
	db     *badger.DB
}

// New validates cfg. The database is opened by Connect.
func New(cfg Config) (*Cache, error) {
	if !cfg.InMemory && strings.TrimSpace(cfg.Path) == "" {
		return nil, ErrNoPath
	}

	return &Cache{cfg: cfg, logger: log.OrNop(cfg.Logger)}, nil
}

// loggerAdapter routes Badger's internal logging into a log.Logger.
type loggerAdapter struct {
	logger log.Logger
}

var _ badger.Logger = (*loggerAdapter)(nil)

func (a *loggerAdapter) Errorf(msg string, items ...any) {
	a.logger.Log(context.Background(), log.LevelError, strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (a *loggerAdapter) Warningf(msg string, items ...any) {
	a.logger.Log(context.Background(), log.LevelWarn, strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (a *loggerAdapter) Infof(msg string, items ...any) {
	a.logger.Log(context.Background(), log.LevelDebug, strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (a *loggerAdapter) Debugf(msg string, items ...any) {
	a.logger.Log(context.Background(), log.LevelDebug, strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (c *Cache) openOptions() (badger.Options, error) {
	var opts badger.Options

	if c.cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		info, err := os.Stat(c.cfg.Path)

		switch {
		case errors.Is(err, os.ErrNotExist):
			if err := os.MkdirAll(c.cfg.Path, 0o755); err != nil {
				return opts, err
			}
		case err != nil:
			return opts, err
		case !info.IsDir():
			return opts, fmt.Errorf("%w: %s", ErrNotDirectory, c.cfg.Path)
		}

		opts = badger.DefaultOptions(c.cfg.Path)
	}

	opts.Logger = &loggerAdapter{logger: c.logger}
	opts.Compression = options.None

	return opts, nil
}

// Connect opens the database. Calling Connect on an open cache is a no-op.
func (c *Cache) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil && !c.db.IsClosed() {
		return nil
	}

	opts, err := c.openOptions()
	if err != nil {
		return backend.NewError(backend.Cache, "connect", "badger", fmt.Errorf("%w: %w", backend.ErrConnection, err))
	}

	db, err := badger.Open(opts)
	if err != nil {
		return backend.NewError(backend.Cache, "connect", "badger", fmt.Errorf("%w: %w", backend.ErrConnection, err))
	}

	c.db = db

	c.logger.Log(ctx, log.LevelInfo, "badger cache opened",
		log.String("path", c.cfg.Path), log.Bool("in_memory", c.cfg.InMemory))

	return nil
}

// Disconnect closes the database. It is safe to call more than once.
func (c *Cache) Disconnect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		return nil
	}

	err := c.db.Close()
	c.db = nil

	if err != nil {
		return fmt.Errorf("badger: close: %w", err)
	}

	return nil
}

func (c *Cache) conn() (*badger.DB, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.db == nil || c.db.IsClosed() {
		return nil, backend.NewError(backend.Cache, "not_connected", "badger", backend.ErrNotConnected)
	}

	return c.db, nil
}

// Search returns the result set stored for the query, or backend.ErrCacheMiss.
func (c *Cache) Search(ctx context.Context, query string, opts backend.Options) (backend.Result, error) {
	return backend.LookupCached(ctx, c, query, opts)
}

// Get returns the value stored under key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	db, err := c.conn()
	if err != nil {
		return nil, false, err
	}

	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var value []byte

	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}

		value, err = item.ValueCopy(nil)

		return err
	})

	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, backend.NewError(backend.Cache, "get", "badger", err)
	}

	return value, true, nil
}

// Set stores value under key. A non-positive ttl never expires.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	db, err := c.conn()
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	entry := badger.NewEntry([]byte(key), value)
	if ttl > 0 {
		entry = entry.WithTTL(ttl)
	}

	if err := db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry)
	}); err != nil {
		return backend.NewError(backend.Cache, "set", "badger", err)
	}

	return nil
}

// Invalidate deletes every live key matching the glob pattern. An empty
// pattern matches everything under backend.KeyPrefix.
func (c *Cache) Invalidate(ctx context.Context, pattern string) (int, error) {
	db, err := c.conn()
	if err != nil {
		return 0, err
	}

	if pattern == "" {
		pattern = backend.KeyPrefix + "*"
	}

	if _, err := path.Match(pattern, ""); err != nil {
		return 0, backend.NewError(backend.Cache, "bad_pattern", pattern, fmt.Errorf("%w: %w", backend.ErrInvalidQuery, err))
	}

	var keys [][]byte

	err = db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.PrefetchValues = false
		iterOpts.Prefix = []byte(literalPrefix(pattern))

		iter := txn.NewIterator(iterOpts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			key := iter.Item().KeyCopy(nil)
			if ok, _ := path.Match(pattern, string(key)); ok {
				keys = append(keys, key)
			}
		}

		return nil
	})
	if err != nil {
		return 0, backend.NewError(backend.Cache, "invalidate", "badger", err)
	}

	batch := db.NewWriteBatch()
	defer batch.Cancel()

	for _, key := range keys {
		if err := batch.Delete(key); err != nil {
			return 0, backend.NewError(backend.Cache, "invalidate", "badger", err)
		}
	}

	if err := batch.Flush(); err != nil {
		return 0, backend.NewError(backend.Cache, "invalidate", "badger", err)
	}

	return len(keys), nil
}

// literalPrefix returns the part of a glob before its first meta character.
func literalPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, `*?[\`); i >= 0 {
		return pattern[:i]
	}

	return pattern
}

// CheckHealth reports whether the database is open and readable.
func (c *Cache) CheckHealth(context.Context) backend.HealthStatus {
	db, err := c.conn()
	if err != nil {
		return backend.UnhealthyStatus(0, err)
	}

	start := time.Now()

	err = db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(backend.KeyPrefix))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}

		return err
	})
	if err != nil {
		return backend.UnhealthyStatus(time.Since(start), err)
	}

	return backend.HealthyStatus(time.Since(start))
}

var _ backend.CacheStore = (*Cache)(nil)

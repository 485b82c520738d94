package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrUnknownKind reports a cache or primary kind outside the supported set.
	ErrUnknownKind = errors.New("config: unknown backend kind")
	// ErrValidationFailed reports a configuration that breaks a field rule.
	ErrValidationFailed = errors.New("config: validation failed")
	// ErrMissingSetting reports a setting required by the selected backend kind.
	ErrMissingSetting = errors.New("config: missing setting")
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})

	return validate
}

// Validate checks backend kinds, field rules and the settings each selected
// backend needs.
func (c Config) Validate() error {
	switch c.Cache.Kind {
	case CacheRedis, CacheBadger, CacheMemory:
	default:
		return fmt.Errorf("%w: cache kind %q", ErrUnknownKind, c.Cache.Kind)
	}

	switch c.Primary.Kind {
	case PrimaryPostgres, PrimarySQLite, PrimaryMongo, PrimaryMemory:
	default:
		return fmt.Errorf("%w: primary kind %q", ErrUnknownKind, c.Primary.Kind)
	}

	if err := getValidator().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}

			return fmt.Errorf("%w: %s", ErrValidationFailed, strings.Join(msgs, "; "))
		}

		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	return c.validateBackends()
}

func (c Config) validateBackends() error {
	missing := func(name string) error {
		return fmt.Errorf("%w: %s", ErrMissingSetting, name)
	}

	switch c.Cache.Kind {
	case CacheRedis:
		if strings.TrimSpace(c.Cache.Redis.Address) == "" {
			return missing("cache.redis.address")
		}
	case CacheBadger:
		if !c.Cache.Badger.InMemory && strings.TrimSpace(c.Cache.Badger.Path) == "" {
			return missing("cache.badger.path")
		}
	}

	switch c.Primary.Kind {
	case PrimaryPostgres:
		if strings.TrimSpace(c.Primary.Postgres.PrimaryDSN) == "" {
			return missing("primary.postgres.primaryDSN")
		}
	case PrimarySQLite:
		if strings.TrimSpace(c.Primary.SQLite.Path) == "" {
			return missing("primary.sqlite.path")
		}
	case PrimaryMongo:
		if strings.TrimSpace(c.Primary.Mongo.URI) == "" {
			return missing("primary.mongo.uri")
		}

		if strings.TrimSpace(c.Primary.Mongo.Database) == "" || strings.TrimSpace(c.Primary.Mongo.Collection) == "" {
			return missing("primary.mongo.database/collection")
		}
	}

	return nil
}

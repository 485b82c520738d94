package backend

import (
	"context"
	"fmt"
)

// Getter is the read half of CacheStore.
type Getter interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
}

// LookupCached implements CacheStore.Search on top of Get. Items come back tagged
// with the Cache provenance.
func LookupCached(ctx context.Context, cache Getter, query string, opts Options) (Result, error) {
	data, found, err := cache.Get(ctx, Fingerprint(query, opts))
	if err != nil {
		return Result{}, err
	}

	if !found {
		return Result{}, ErrCacheMiss
	}

	result, err := DecodeResult(data)
	if err != nil {
		return Result{}, NewError(Cache, "decode", "stored result is corrupt", fmt.Errorf("%w: %w", ErrBackendUnavailable, err))
	}

	result.Items = Tag(result.Items, Cache)

	return result, nil
}

// Package cache persists encoded artifacts under their content address.
//
// Every backend implements the same contract: an artifact is written at most
// once and never modified. Put on an occupied key is a no-op when the bytes
// match and fails with domain.ErrAlreadyExists when they differ, which can
// only happen if the pipeline stopped being deterministic or two requests
// collided on a key.
package cache

import (
	"bytes"
	"context"
	"fmt"

	"github.com/dunamismax/pixelcache/internal/cachekey"
	"github.com/dunamismax/pixelcache/internal/domain"
)

type Store interface {
	Exists(ctx context.Context, key cachekey.Key) (bool, error)
	// Get returns domain.ErrNotFound when nothing is stored under key.
	Get(ctx context.Context, key cachekey.Key) ([]byte, error)
	Put(ctx context.Context, key cachekey.Key, data []byte) error
}

func checkKey(key cachekey.Key) error {
	if !key.Valid() {
		return fmt.Errorf("%w: cache key %q", domain.ErrInvalidReference, key)
	}
	return nil
}

func compareExisting(key cachekey.Key, existing, data []byte) error {
	if bytes.Equal(existing, data) {
		return nil
	}
	return fmt.Errorf("%w: key %s holds %d bytes, refusing %d different bytes",
		domain.ErrAlreadyExists, key, len(existing), len(data))
}

func notFound(key cachekey.Key) error {
	return fmt.Errorf("%w: artifact %s", domain.ErrNotFound, key)
}

func ioFailure(op string, key cachekey.Key, err error) error {
	return fmt.Errorf("%w: %s %s: %v", domain.ErrIO, op, key, err)
}

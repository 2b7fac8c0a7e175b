package cache

import (
	"context"
	"errors"

	"github.com/dunamismax/pixelcache/internal/cachekey"
	"github.com/dunamismax/pixelcache/internal/domain"
)

// TieredStore serves from a fast front store and falls back to a durable
// back store, copying back-store hits forward.
type TieredStore struct {
	front Store
	back  Store
}

func NewTieredStore(front, back Store) *TieredStore {
	return &TieredStore{front: front, back: back}
}

func (s *TieredStore) Exists(ctx context.Context, key cachekey.Key) (bool, error) {
	ok, err := s.front.Exists(ctx, key)
	if err != nil || ok {
		return ok, err
	}
	return s.back.Exists(ctx, key)
}

func (s *TieredStore) Get(ctx context.Context, key cachekey.Key) ([]byte, error) {
	data, err := s.front.Get(ctx, key)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	data, err = s.back.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := s.front.Put(ctx, key, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Put writes the durable copy first so the front never holds an artifact the
// back store rejected.
func (s *TieredStore) Put(ctx context.Context, key cachekey.Key, data []byte) error {
	if err := s.back.Put(ctx, key, data); err != nil {
		return err
	}
	return s.front.Put(ctx, key, data)
}

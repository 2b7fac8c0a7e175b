package cache

import (
	"context"
	"fmt"

	"github.com/dunamismax/pixelcache/internal/cachekey"
	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMemoryEntries = 256

// MemoryStore is a bounded in-process LRU. Eviction only drops the local
// copy; it is meant to sit in front of a durable store.
type MemoryStore struct {
	entries *lru.Cache[cachekey.Key, []byte]
}

func NewMemoryStore(maxEntries int) (*MemoryStore, error) {
	if maxEntries <= 0 {
		maxEntries = defaultMemoryEntries
	}
	entries, err := lru.New[cachekey.Key, []byte](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &MemoryStore{entries: entries}, nil
}

func (s *MemoryStore) Len() int {
	return s.entries.Len()
}

func (s *MemoryStore) Exists(_ context.Context, key cachekey.Key) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	return s.entries.Contains(key), nil
}

func (s *MemoryStore) Get(_ context.Context, key cachekey.Key) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	data, ok := s.entries.Get(key)
	if !ok {
		return nil, notFound(key)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) Put(_ context.Context, key cachekey.Key, data []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	stored := append([]byte(nil), data...)
	if found, _ := s.entries.ContainsOrAdd(key, stored); !found {
		return nil
	}
	existing, ok := s.entries.Peek(key)
	if !ok {
		// Evicted between the two calls; the slot is free again.
		s.entries.Add(key, stored)
		return nil
	}
	return compareExisting(key, existing, data)
}

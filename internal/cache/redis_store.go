package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dunamismax/pixelcache/internal/cachekey"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps artifacts as plain string values. SETNX gives
// put-if-absent across every process sharing the instance. A zero ttl keeps
// artifacts until redis evicts them by its own policy.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

func NewRedisStore(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisStore {
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = "pixelcache:artifact"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (s *RedisStore) redisKey(key cachekey.Key) string {
	return s.keyPrefix + ":" + key.String()
}

func (s *RedisStore) Exists(ctx context.Context, key cachekey.Key) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	n, err := s.client.Exists(ctx, s.redisKey(key)).Result()
	if err != nil {
		return false, ioFailure("exists", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Get(ctx context.Context, key cachekey.Key) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFound(key)
		}
		return nil, ioFailure("get", key, err)
	}
	return data, nil
}

func (s *RedisStore) Put(ctx context.Context, key cachekey.Key, data []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	stored, err := s.client.SetNX(ctx, s.redisKey(key), data, s.ttl).Result()
	if err != nil {
		return ioFailure("setnx", key, err)
	}
	if stored {
		return nil
	}

	existing, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return compareExisting(key, existing, data)
}

package cache

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/dunamismax/pixelcache/internal/cachekey"
	"github.com/dunamismax/pixelcache/internal/pipeline"
	"github.com/dunamismax/pixelcache/internal/storage"
)

type objectStorage interface {
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

// ObjectStore keeps artifacts in an S3-compatible bucket under
// <prefix>/<key>.jpg. Object PUTs replace whole objects atomically, so
// readers never observe partial artifacts; two processes racing past the
// existence check write identical bytes.
type ObjectStore struct {
	storage objectStorage
	prefix  string
}

func NewObjectStore(storage objectStorage, prefix string) *ObjectStore {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = "cached"
	}
	return &ObjectStore{storage: storage, prefix: prefix}
}

func (s *ObjectStore) objectKey(key cachekey.Key) string {
	return path.Join(s.prefix, key.Filename())
}

func (s *ObjectStore) Exists(ctx context.Context, key cachekey.Key) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	ok, err := s.storage.ObjectExists(ctx, s.objectKey(key))
	if err != nil {
		return false, ioFailure("stat", key, err)
	}
	return ok, nil
}

func (s *ObjectStore) Get(ctx context.Context, key cachekey.Key) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	data, err := s.storage.ReadObject(ctx, s.objectKey(key))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, notFound(key)
		}
		return nil, ioFailure("read", key, err)
	}
	return data, nil
}

func (s *ObjectStore) Put(ctx context.Context, key cachekey.Key, data []byte) error {
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		existing, err := s.Get(ctx, key)
		if err != nil {
			return err
		}
		return compareExisting(key, existing, data)
	}

	if err := s.storage.WriteObject(ctx, s.objectKey(key), data, pipeline.ContentType); err != nil {
		return ioFailure("write", key, err)
	}
	return nil
}

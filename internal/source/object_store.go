package source

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/dunamismax/pixelcache/internal/domain"
	"github.com/dunamismax/pixelcache/internal/storage"
	"github.com/gabriel-vasile/mimetype"
)

type objectStorage interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// ObjectStore keeps source images in a bucket under <prefix>/<name>.
type ObjectStore struct {
	storage objectStorage
	prefix  string
}

func NewObjectStore(storage objectStorage, prefix string) *ObjectStore {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = "images"
	}
	return &ObjectStore{storage: storage, prefix: prefix}
}

func (s *ObjectStore) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	data, err := s.storage.ReadObject(ctx, path.Join(s.prefix, name))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: image %s", domain.ErrNotFound, name)
		}
		return nil, fmt.Errorf("%w: read image %s: %v", domain.ErrIO, name, err)
	}
	return data, nil
}

func (s *ObjectStore) Write(ctx context.Context, name string, data []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	contentType := mimetype.Detect(data).String()
	if err := s.storage.WriteObject(ctx, path.Join(s.prefix, name), data, contentType); err != nil {
		return fmt.Errorf("%w: write image %s: %v", domain.ErrIO, name, err)
	}
	return nil
}

func (s *ObjectStore) List(ctx context.Context) ([]string, error) {
	keys, err := s.storage.ListObjects(ctx, s.prefix+"/")
	if err != nil {
		return nil, fmt.Errorf("%w: list images: %v", domain.ErrIO, err)
	}

	names := make([]string, 0, len(keys))
	for _, key := range keys {
		name := strings.TrimPrefix(key, s.prefix+"/")
		if ValidateName(name) != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/pixelcache/internal/cachekey"
	"github.com/dunamismax/pixelcache/internal/domain"
)

// FSStore keeps artifacts as <dir>/<key>.jpg. Writes go to a temp file in
// the same directory and are hard-linked into place, so readers never see
// partial files and an existing artifact is never replaced.
type FSStore struct {
	dir string
}

func NewFSStore(dir string) (*FSStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create cache dir: %v", domain.ErrIO, err)
	}
	return &FSStore{dir: dir}, nil
}

func (s *FSStore) Dir() string {
	return s.dir
}

func (s *FSStore) path(key cachekey.Key) string {
	return filepath.Join(s.dir, key.Filename())
}

func (s *FSStore) Exists(_ context.Context, key cachekey.Key) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(key))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, ioFailure("stat", key, err)
	}
}

func (s *FSStore) Get(_ context.Context, key cachekey.Key) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(key)
		}
		return nil, ioFailure("read", key, err)
	}
	return data, nil
}

func (s *FSStore) Put(ctx context.Context, key cachekey.Key, data []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "."+key.String()+"-*.tmp")
	if err != nil {
		return ioFailure("create temp", key, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return ioFailure("write temp", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return ioFailure("sync temp", key, err)
	}
	if err := tmp.Close(); err != nil {
		return ioFailure("close temp", key, err)
	}

	err = os.Link(tmpPath, s.path(key))
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrExist) {
		return ioFailure("link", key, err)
	}

	existing, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return compareExisting(key, existing, data)
}

package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dunamismax/pixelcache/internal/domain"
	"github.com/dunamismax/pixelcache/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateName(t *testing.T) {
	for _, name := range []string{"cat.png", "IMG_0001.JPG", "a-b_c.jpeg"} {
		assert.NoError(t, ValidateName(name), name)
	}

	for _, name := range []string{
		"",
		"   ",
		"../../etc/passwd",
		"..",
		"a..b.png",
		"dir/cat.png",
		`dir\cat.png`,
		"cat\x00.png",
	} {
		assert.ErrorIs(t, ValidateName(name), domain.ErrInvalidReference, "%q", name)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"cat.png":               "cat.png",
		"My Holiday Photo.JPG":  "My_Holiday_Photo.JPG",
		"../../etc/passwd":      "passwd",
		`C:\Users\me\photo.jpg`: "photo.jpg",
		".hidden.png":           "hidden.png",
		"weird$%chars!.gif":     "weirdchars.gif",
		"a...b.png":             "a.b.png",
		"日本.png":                "png",
		"..":                    "",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFilename(in), "SanitizeFilename(%q)", in)
	}
}

func TestAllowedExtension(t *testing.T) {
	assert.True(t, AllowedExtension("cat.PNG", DefaultAllowedExtensions))
	assert.True(t, AllowedExtension("cat.jpeg", DefaultAllowedExtensions))
	assert.True(t, AllowedExtension("cat.webp", []string{".webp"}))
	assert.False(t, AllowedExtension("cat.exe", DefaultAllowedExtensions))
	assert.False(t, AllowedExtension("cat", DefaultAllowedExtensions))
	assert.False(t, AllowedExtension("cat.", DefaultAllowedExtensions))
}

func TestFSStoreReadWriteList(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFSStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Write(context.Background(), "b.png", []byte("bbb")))
	require.NoError(t, s.Write(context.Background(), "a.png", []byte("aaa")))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	data, err := s.Read(context.Background(), "a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("aaa"), data)

	names, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png", "b.png"}, names)

	_, err = s.Read(context.Background(), "missing.png")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.Read(context.Background(), "nested")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFSStoreRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret.txt"), []byte("secret"), 0o644))

	s, err := NewFSStore(filepath.Join(root, "images"))
	require.NoError(t, err)

	_, err = s.Read(context.Background(), "../secret.txt")
	require.ErrorIs(t, err, domain.ErrInvalidReference)
	require.ErrorIs(t, s.Write(context.Background(), "../evil.png", []byte("x")), domain.ErrInvalidReference)
}

func TestObjectStore(t *testing.T) {
	objects := &fakeObjectStorage{objects: map[string][]byte{}}
	s := NewObjectStore(objects, "")

	require.NoError(t, s.Write(context.Background(), "cat.png", []byte("\x89PNG\r\n\x1a\n")))
	assert.Equal(t, "image/png", objects.contentTypes["images/cat.png"])

	data, err := s.Read(context.Background(), "cat.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG\r\n\x1a\n"), data)

	_, err = s.Read(context.Background(), "dog.png")
	require.ErrorIs(t, err, domain.ErrNotFound)

	objects.objects["images/nested/skip.png"] = []byte("x")
	names, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"cat.png"}, names)
}

type fakeObjectStorage struct {
	objects      map[string][]byte
	contentTypes map[string]string
}

func (f *fakeObjectStorage) ReadObject(_ context.Context, objectKey string) ([]byte, error) {
	data, ok := f.objects[objectKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, objectKey)
	}
	return data, nil
}

func (f *fakeObjectStorage) WriteObject(_ context.Context, objectKey string, data []byte, contentType string) error {
	if f.contentTypes == nil {
		f.contentTypes = map[string]string{}
	}
	f.objects[objectKey] = data
	f.contentTypes[objectKey] = contentType
	return nil
}

func (f *fakeObjectStorage) ListObjects(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	for key := range f.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

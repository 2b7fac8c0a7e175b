// Package cachekey derives content addresses for transformed images.
//
// A key is the MD5 digest of "<image>-<canonical>" where canonical is the
// set request fields rendered as a JSON object with sorted keys, string
// values, ", " between items and ": " between key and value. The layout is a
// compatibility contract: changing any byte of it orphans every artifact
// already stored.
package cachekey

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/dunamismax/pixelcache/internal/domain"
)

const (
	separator = "-"
	extension = "jpg"
)

type Key string

func (k Key) String() string {
	return string(k)
}

// Filename is the persisted name of the artifact stored under k.
func (k Key) Filename() string {
	return string(k) + "." + extension
}

// Valid reports whether k looks like a digest produced by Derive.
func (k Key) Valid() bool {
	if len(k) != hex.EncodedLen(md5.Size) {
		return false
	}
	_, err := hex.DecodeString(string(k))
	return err == nil && strings.ToLower(string(k)) == string(k)
}

// Derive returns the cache key for image transformed by req. Callers must not
// derive keys for empty requests; those are served from the source.
func Derive(image string, req domain.TransformRequest) Key {
	sum := md5.Sum([]byte(image + separator + Canonical(req)))
	return Key(hex.EncodeToString(sum[:]))
}

// Canonical renders the set fields of req in the stable hash-input layout,
// for example {"flip": "h", "w": "100"}.
func Canonical(req domain.TransformRequest) string {
	fields := req.Fields()
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quote(name))
		b.WriteString(": ")
		b.WriteString(quote(fields[name]))
	}
	b.WriteByte('}')
	return b.String()
}

func quote(s string) string {
	out, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(out)
}

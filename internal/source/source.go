// Package source reads and writes the original uploaded images that
// derivatives are computed from.
package source

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/dunamismax/pixelcache/internal/domain"
)

// DefaultAllowedExtensions are the upload extensions accepted when the
// configuration does not name any.
var DefaultAllowedExtensions = []string{"png", "jpg", "jpeg", "gif"}

type Store interface {
	// Read returns domain.ErrNotFound when no image has that name.
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name string, data []byte) error
	List(ctx context.Context) ([]string, error)
}

// ValidateName rejects identifiers that could address anything outside the
// source directory. It never touches storage.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty image name", domain.ErrInvalidReference)
	case strings.Contains(name, ".."):
		return fmt.Errorf("%w: %q contains a parent reference", domain.ErrInvalidReference, name)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a path separator", domain.ErrInvalidReference, name)
	}
	return nil
}

// SanitizeFilename reduces an uploaded filename to a safe flat name: ASCII
// letters, digits, '-', '_' and '.', whitespace folded to '_', directory
// components and leading dots dropped. It returns "" when nothing usable is
// left.
func SanitizeFilename(filename string) string {
	filename = strings.ReplaceAll(filename, "\\", "/")
	filename = path.Base(strings.TrimSpace(filename))

	var b strings.Builder
	b.Grow(len(filename))
	lastUnderscore := false
	for _, r := range filename {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == ' ' || r == '\t':
			if !lastUnderscore {
				b.WriteRune('_')
			}
			lastUnderscore = true
		}
	}

	out := strings.Trim(b.String(), "._")
	for strings.Contains(out, "..") {
		out = strings.ReplaceAll(out, "..", ".")
	}
	return out
}

// AllowedExtension reports whether filename ends in one of the allowed
// extensions, compared case-insensitively.
func AllowedExtension(filename string, allowed []string) bool {
	idx := strings.LastIndexByte(filename, '.')
	if idx < 0 || idx == len(filename)-1 {
		return false
	}
	ext := strings.ToLower(filename[idx+1:])
	for _, candidate := range allowed {
		if strings.EqualFold(strings.TrimPrefix(strings.TrimSpace(candidate), "."), ext) {
			return true
		}
	}
	return false
}

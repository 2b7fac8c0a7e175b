package domain

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	assert.Equal(t, "none", Kind(nil))
	assert.Equal(t, "invalid_parameter", Kind(fmt.Errorf("variants[0]: %w", ErrInvalidParameter)))
	assert.Equal(t, "invalid_reference", Kind(ErrInvalidReference))
	assert.Equal(t, "not_found", Kind(fmt.Errorf("%w: image x", ErrNotFound)))
	assert.Equal(t, "decode", Kind(ErrDecode))
	assert.Equal(t, "invalid_geometry", Kind(fmt.Errorf("resize stage: %w", ErrInvalidGeometry)))
	assert.Equal(t, "io", Kind(ErrIO))
	assert.Equal(t, "already_exists", Kind(ErrAlreadyExists))
	assert.Equal(t, "internal", Kind(context.Canceled))
}

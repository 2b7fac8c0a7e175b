package domain

import "errors"

// Error kinds surfaced by the serving core. Callers classify failures with
// errors.Is; every layer wraps these with context instead of replacing them.
var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInvalidReference = errors.New("invalid image reference")
	ErrNotFound         = errors.New("not found")
	ErrDecode           = errors.New("decode image")
	ErrInvalidGeometry  = errors.New("invalid geometry")
	ErrIO               = errors.New("storage i/o failure")
	ErrAlreadyExists    = errors.New("artifact already exists with different content")
)

// Kind names the error kind of err for logs and metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrInvalidParameter):
		return "invalid_parameter"
	case errors.Is(err, ErrInvalidReference):
		return "invalid_reference"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrInvalidGeometry):
		return "invalid_geometry"
	case errors.Is(err, ErrIO):
		return "io"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	default:
		return "internal"
	}
}

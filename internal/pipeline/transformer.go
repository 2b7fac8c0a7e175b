// Package pipeline turns a source image and a TransformRequest into an
// encoded derivative. Stages run in a fixed order: resize, square crop,
// rotate, flip. Output is always baseline JPEG at quality 80 so identical
// input produces identical bytes.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/dunamismax/pixelcache/internal/domain"
)

const (
	ContentType = "image/jpeg"
	Extension   = "jpg"
	JPEGQuality = 80
)

type Output struct {
	Data   []byte
	Width  int
	Height int
}

type Transformer interface {
	Transform(ctx context.Context, input []byte, req domain.TransformRequest) (Output, error)
}

// New returns the transformer compiled into this binary: libvips when built
// with the govips tag and cgo, the pure Go backend otherwise.
func New() (Transformer, error) {
	return newTransformer()
}

// resizeTarget computes the output size of the resize stage. When only one
// side is given the other keeps the source aspect ratio, rounded to the
// nearest pixel. ok is false when the request does not resize.
func resizeTarget(srcW, srcH int, req domain.TransformRequest) (w, h int, ok bool, err error) {
	switch {
	case req.Width != nil && req.Height != nil:
		w, h = *req.Width, *req.Height
	case req.Height != nil:
		h = *req.Height
		if srcH <= 0 {
			return 0, 0, false, fmt.Errorf("%w: source height is %d", domain.ErrInvalidGeometry, srcH)
		}
		w = int(math.Round(float64(h) * float64(srcW) / float64(srcH)))
	case req.Width != nil:
		w = *req.Width
		if srcW <= 0 {
			return 0, 0, false, fmt.Errorf("%w: source width is %d", domain.ErrInvalidGeometry, srcW)
		}
		h = int(math.Round(float64(w) * float64(srcH) / float64(srcW)))
	default:
		return srcW, srcH, false, nil
	}

	if w <= 0 || h <= 0 {
		return 0, 0, false, fmt.Errorf("%w: resize target %dx%d", domain.ErrInvalidGeometry, w, h)
	}
	return w, h, true, nil
}

// squareCrop returns the centered square inside a w x h canvas. The offset
// is the truncated half of the size difference. ok is false for square input.
func squareCrop(w, h int) (image.Rectangle, bool) {
	switch {
	case w > h:
		left := (w - h) / 2
		return image.Rect(left, 0, left+h, h), true
	case h > w:
		top := (h - w) / 2
		return image.Rect(0, top, w, top+w), true
	default:
		return image.Rect(0, 0, w, h), false
	}
}

// normalizeAngle maps any integer angle into [0, 360).
func normalizeAngle(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}

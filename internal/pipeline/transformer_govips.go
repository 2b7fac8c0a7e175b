//go:build govips && cgo

package pipeline

import (
	"context"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/pixelcache/internal/domain"
)

type govipsTransformer struct{}

func (t govipsTransformer) Transform(ctx context.Context, input []byte, req domain.TransformRequest) (Output, error) {
	select {
	case <-ctx.Done():
		return Output{}, ctx.Err()
	default:
	}

	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return Output{}, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	defer img.Close()

	if img.HasAlpha() {
		if err := img.Flatten(&vips.Color{R: 255, G: 255, B: 255}); err != nil {
			return Output{}, fmt.Errorf("flatten alpha: %w", err)
		}
	}

	steps := []struct {
		name string
		run  func(*vips.ImageRef, domain.TransformRequest) error
	}{
		{"resize", applyGovipsResize},
		{"crop", applyGovipsSquareCrop},
		{"rotate", applyGovipsRotate},
		{"flip", applyGovipsFlip},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return Output{}, err
		}
		if err := step.run(img, req); err != nil {
			return Output{}, fmt.Errorf("%s stage: %w", step.name, err)
		}
	}

	params := vips.NewJpegExportParams()
	params.Quality = JPEGQuality
	params.StripMetadata = true
	params.Interlace = false
	data, _, err := img.ExportJpeg(params)
	if err != nil {
		return Output{}, fmt.Errorf("encode jpeg: %w", err)
	}

	return Output{Data: data, Width: img.Width(), Height: img.Height()}, nil
}

func applyGovipsResize(img *vips.ImageRef, req domain.TransformRequest) error {
	w, h, ok, err := resizeTarget(img.Width(), img.Height(), req)
	if err != nil || !ok {
		return err
	}

	hScale := float64(w) / float64(img.Width())
	vScale := float64(h) / float64(img.Height())
	if err := img.ResizeWithVScale(hScale, vScale, vips.KernelCubic); err != nil {
		return fmt.Errorf("resize image: %w", err)
	}

	// libvips rounds the scaled size; trim any extra row or column.
	if img.Width() > w || img.Height() > h {
		if err := img.ExtractArea(0, 0, min(w, img.Width()), min(h, img.Height())); err != nil {
			return fmt.Errorf("trim resized image: %w", err)
		}
	}
	return nil
}

func applyGovipsSquareCrop(img *vips.ImageRef, req domain.TransformRequest) error {
	if !req.Square {
		return nil
	}
	rect, ok := squareCrop(img.Width(), img.Height())
	if !ok {
		return nil
	}
	if err := img.ExtractArea(rect.Min.X, rect.Min.Y, rect.Dx(), rect.Dy()); err != nil {
		return fmt.Errorf("crop image: %w", err)
	}
	return nil
}

func applyGovipsRotate(img *vips.ImageRef, req domain.TransformRequest) error {
	if req.Rotate == nil {
		return nil
	}

	var err error
	switch deg := normalizeAngle(*req.Rotate); deg {
	case 0:
		return nil
	case 90:
		// vips right angles are clockwise.
		err = img.Rotate(vips.Angle270)
	case 180:
		err = img.Rotate(vips.Angle180)
	case 270:
		err = img.Rotate(vips.Angle90)
	default:
		fill := &vips.ColorRGBA{R: 0, G: 0, B: 0, A: 255}
		err = img.Similarity(1.0, float64(-deg), fill, 0, 0, 0, 0)
	}
	if err != nil {
		return fmt.Errorf("rotate image: %w", err)
	}
	return nil
}

func applyGovipsFlip(img *vips.ImageRef, req domain.TransformRequest) error {
	var err error
	switch req.Flip {
	case domain.FlipNone:
		return nil
	case domain.FlipHorizontal:
		err = img.Flip(vips.DirectionHorizontal)
	case domain.FlipVertical:
		err = img.Flip(vips.DirectionVertical)
	case domain.FlipBoth:
		if err = img.Flip(vips.DirectionVertical); err == nil {
			err = img.Flip(vips.DirectionHorizontal)
		}
	default:
		return fmt.Errorf("%w: flip mode %q", domain.ErrInvalidParameter, req.Flip)
	}
	if err != nil {
		return fmt.Errorf("flip image: %w", err)
	}
	return nil
}

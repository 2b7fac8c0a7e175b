package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelcache/internal/domain"
	_ "golang.org/x/image/webp"
)

// Rotated corners are filled with opaque black; JPEG has no alpha channel.
var rotateFill = color.Black

type stage struct {
	name  string
	apply func(image.Image) (image.Image, error)
}

type imagingTransformer struct{}

func (t imagingTransformer) Transform(ctx context.Context, input []byte, req domain.TransformRequest) (Output, error) {
	select {
	case <-ctx.Done():
		return Output{}, ctx.Err()
	default:
	}

	src, err := decode(input)
	if err != nil {
		return Output{}, err
	}

	out, err := applyStages(ctx, src, buildStages(req))
	if err != nil {
		return Output{}, err
	}

	data, err := encode(out)
	if err != nil {
		return Output{}, err
	}

	bounds := out.Bounds()
	return Output{Data: data, Width: bounds.Dx(), Height: bounds.Dy()}, nil
}

func decode(input []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: source image has no pixels", domain.ErrDecode)
	}
	return flatten(img), nil
}

// flatten composites translucent images onto white so every stage works on
// opaque pixels.
func flatten(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	bounds := img.Bounds()
	bg := imaging.New(bounds.Dx(), bounds.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

func buildStages(req domain.TransformRequest) []stage {
	stages := make([]stage, 0, 4)
	if req.Width != nil || req.Height != nil {
		stages = append(stages, stage{name: "resize", apply: resizeStage(req)})
	}
	if req.Square {
		stages = append(stages, stage{name: "crop", apply: squareCropStage})
	}
	if req.Rotate != nil {
		stages = append(stages, stage{name: "rotate", apply: rotateStage(*req.Rotate)})
	}
	if req.Flip != domain.FlipNone {
		stages = append(stages, stage{name: "flip", apply: flipStage(req.Flip)})
	}
	return stages
}

func applyStages(ctx context.Context, img image.Image, stages []stage) (image.Image, error) {
	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, err := s.apply(img)
		if err != nil {
			return nil, fmt.Errorf("%s stage: %w", s.name, err)
		}
		img = next
	}
	return img, nil
}

func resizeStage(req domain.TransformRequest) func(image.Image) (image.Image, error) {
	return func(img image.Image) (image.Image, error) {
		bounds := img.Bounds()
		w, h, ok, err := resizeTarget(bounds.Dx(), bounds.Dy(), req)
		if err != nil {
			return nil, err
		}
		if !ok {
			return img, nil
		}
		return imaging.Resize(img, w, h, imaging.CatmullRom), nil
	}
}

func squareCropStage(img image.Image) (image.Image, error) {
	bounds := img.Bounds()
	rect, ok := squareCrop(bounds.Dx(), bounds.Dy())
	if !ok {
		return img, nil
	}
	return imaging.Crop(img, rect.Add(bounds.Min)), nil
}

func rotateStage(angle int) func(image.Image) (image.Image, error) {
	return func(img image.Image) (image.Image, error) {
		deg := normalizeAngle(angle)
		if deg == 0 {
			return img, nil
		}
		return imaging.Rotate(img, float64(deg), rotateFill), nil
	}
}

func flipStage(mode domain.FlipMode) func(image.Image) (image.Image, error) {
	return func(img image.Image) (image.Image, error) {
		switch mode {
		case domain.FlipHorizontal:
			return imaging.FlipH(img), nil
		case domain.FlipVertical:
			return imaging.FlipV(img), nil
		case domain.FlipBoth:
			return imaging.FlipH(imaging.FlipV(img)), nil
		default:
			return nil, fmt.Errorf("%w: flip mode %q", domain.ErrInvalidParameter, mode)
		}
	}
}

func encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(JPEGQuality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

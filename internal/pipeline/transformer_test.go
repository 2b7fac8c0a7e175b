package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/dunamismax/pixelcache/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestResizeTarget(t *testing.T) {
	tests := []struct {
		name         string
		srcW, srcH   int
		req          domain.TransformRequest
		wantW, wantH int
		wantResize   bool
	}{
		{"height only keeps aspect", 200, 100, domain.TransformRequest{Height: intPtr(50)}, 100, 50, true},
		{"width only keeps aspect", 200, 100, domain.TransformRequest{Width: intPtr(50)}, 50, 25, true},
		{"width only rounds", 300, 200, domain.TransformRequest{Width: intPtr(100)}, 100, 67, true},
		{"both ignore aspect", 200, 100, domain.TransformRequest{Width: intPtr(10), Height: intPtr(90)}, 10, 90, true},
		{"neither", 200, 100, domain.TransformRequest{Square: true}, 200, 100, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w, h, ok, err := resizeTarget(tc.srcW, tc.srcH, tc.req)
			require.NoError(t, err)
			assert.Equal(t, tc.wantResize, ok)
			assert.Equal(t, tc.wantW, w)
			assert.Equal(t, tc.wantH, h)
		})
	}
}

func TestResizeTargetRejectsDegenerateSizes(t *testing.T) {
	for name, tc := range map[string]struct {
		srcW, srcH int
		req        domain.TransformRequest
	}{
		"zero width":         {100, 100, domain.TransformRequest{Width: intPtr(0)}},
		"negative height":    {100, 100, domain.TransformRequest{Height: intPtr(-5)}},
		"rounds to zero":     {1000, 1, domain.TransformRequest{Width: intPtr(1)}},
		"explicit zero pair": {100, 100, domain.TransformRequest{Width: intPtr(10), Height: intPtr(0)}},
	} {
		t.Run(name, func(t *testing.T) {
			_, _, _, err := resizeTarget(tc.srcW, tc.srcH, tc.req)
			require.ErrorIs(t, err, domain.ErrInvalidGeometry)
		})
	}
}

func TestSquareCrop(t *testing.T) {
	rect, ok := squareCrop(300, 100)
	require.True(t, ok)
	assert.Equal(t, image.Rect(100, 0, 200, 100), rect)

	rect, ok = squareCrop(100, 301)
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 100, 100, 200), rect)

	rect, ok = squareCrop(301, 100)
	require.True(t, ok)
	assert.Equal(t, 100, rect.Dx())
	assert.Equal(t, 100, rect.Dy())

	_, ok = squareCrop(64, 64)
	assert.False(t, ok)
}

func TestSquareCropTruncatesOnce(t *testing.T) {
	tests := []struct {
		w, h int
		want image.Rectangle
	}{
		{300, 101, image.Rect(99, 0, 200, 101)},
		{100, 41, image.Rect(29, 0, 70, 41)},
		{101, 300, image.Rect(0, 99, 101, 200)},
		{41, 100, image.Rect(0, 29, 41, 70)},
		{301, 101, image.Rect(100, 0, 201, 101)},
	}

	for _, tc := range tests {
		t.Run(fmt.Sprintf("%dx%d", tc.w, tc.h), func(t *testing.T) {
			rect, ok := squareCrop(tc.w, tc.h)
			require.True(t, ok)
			assert.Equal(t, tc.want, rect)

			short := min(tc.w, tc.h)
			offset := int(float64(max(tc.w, tc.h))/2 - float64(short)/2)
			assert.Equal(t, offset, rect.Min.X+rect.Min.Y)
		})
	}
}

func TestNormalizeAngle(t *testing.T) {
	assert.Equal(t, 0, normalizeAngle(0))
	assert.Equal(t, 0, normalizeAngle(720))
	assert.Equal(t, 270, normalizeAngle(-90))
	assert.Equal(t, 45, normalizeAngle(405))
}

func TestSquareCropStageKeepsCenterColumns(t *testing.T) {
	src := columnImage(300, 100)

	out, err := applyStages(context.Background(), src, buildStages(domain.TransformRequest{Square: true}))
	require.NoError(t, err)

	require.Equal(t, 100, out.Bounds().Dx())
	require.Equal(t, 100, out.Bounds().Dy())
	assertSameColor(t, src.At(100, 0), out.At(out.Bounds().Min.X, out.Bounds().Min.Y))
	assertSameColor(t, src.At(199, 99), out.At(out.Bounds().Max.X-1, out.Bounds().Max.Y-1))
}

func TestRotateStageRightAngleIsCounterClockwise(t *testing.T) {
	src := columnImage(200, 100)

	out, err := applyStages(context.Background(), src, buildStages(domain.TransformRequest{Rotate: intPtr(90)}))
	require.NoError(t, err)

	require.Equal(t, 100, out.Bounds().Dx())
	require.Equal(t, 200, out.Bounds().Dy())
	assertSameColor(t, src.At(199, 0), out.At(0, 0))
}

func TestRotateStageExpandsCanvas(t *testing.T) {
	src := columnImage(100, 100)

	out, err := applyStages(context.Background(), src, buildStages(domain.TransformRequest{Rotate: intPtr(45)}))
	require.NoError(t, err)

	assert.Greater(t, out.Bounds().Dx(), 100)
	assert.Greater(t, out.Bounds().Dy(), 100)
	r, g, b, a := out.At(0, 0).RGBA()
	assert.Equal(t, [4]uint32{0, 0, 0, 0xffff}, [4]uint32{r, g, b, a})
}

func TestRotateStageZeroIsNoop(t *testing.T) {
	src := columnImage(30, 10)

	out, err := applyStages(context.Background(), src, buildStages(domain.TransformRequest{Rotate: intPtr(360)}))
	require.NoError(t, err)
	assert.Equal(t, src, out)
}

func TestFlipStage(t *testing.T) {
	src := columnImage(3, 2)

	out, err := applyStages(context.Background(), src, buildStages(domain.TransformRequest{Flip: domain.FlipHorizontal}))
	require.NoError(t, err)
	assertSameColor(t, src.At(2, 0), out.At(0, 0))

	out, err = applyStages(context.Background(), src, buildStages(domain.TransformRequest{Flip: domain.FlipVertical}))
	require.NoError(t, err)
	assertSameColor(t, src.At(0, 1), out.At(0, 0))

	out, err = applyStages(context.Background(), src, buildStages(domain.TransformRequest{Flip: domain.FlipBoth}))
	require.NoError(t, err)
	assertSameColor(t, src.At(2, 1), out.At(0, 0))
}

func TestBuildStagesOrder(t *testing.T) {
	stages := buildStages(domain.TransformRequest{
		Flip:   domain.FlipBoth,
		Rotate: intPtr(10),
		Square: true,
		Width:  intPtr(10),
	})

	names := make([]string, 0, len(stages))
	for _, s := range stages {
		names = append(names, s.name)
	}
	assert.Equal(t, []string{"resize", "crop", "rotate", "flip"}, names)
}

func TestTransformResizeKeepsAspect(t *testing.T) {
	tr, err := New()
	require.NoError(t, err)

	out, err := tr.Transform(context.Background(), buildTestPNG(t, 200, 100), domain.TransformRequest{Height: intPtr(50)})
	require.NoError(t, err)

	assert.Equal(t, 100, out.Width)
	assert.Equal(t, 50, out.Height)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(out.Data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)
}

func TestTransformSquareCrop(t *testing.T) {
	tr, err := New()
	require.NoError(t, err)

	out, err := tr.Transform(context.Background(), buildTestPNG(t, 300, 100), domain.TransformRequest{Square: true})
	require.NoError(t, err)
	assert.Equal(t, 100, out.Width)
	assert.Equal(t, 100, out.Height)
}

func TestTransformIsDeterministic(t *testing.T) {
	tr, err := New()
	require.NoError(t, err)

	src := buildTestPNG(t, 160, 90)
	req := domain.TransformRequest{Width: intPtr(120), Square: true, Rotate: intPtr(30), Flip: domain.FlipBoth}

	first, err := tr.Transform(context.Background(), src, req)
	require.NoError(t, err)
	second, err := tr.Transform(context.Background(), src, req)
	require.NoError(t, err)

	assert.True(t, bytes.Equal(first.Data, second.Data), "expected byte-identical output")
}

func TestTransformRejectsUndecodableInput(t *testing.T) {
	tr, err := New()
	require.NoError(t, err)

	_, err = tr.Transform(context.Background(), []byte("definitely not an image"), domain.TransformRequest{Width: intPtr(10)})
	require.ErrorIs(t, err, domain.ErrDecode)
}

func TestTransformRejectsZeroWidth(t *testing.T) {
	tr, err := New()
	require.NoError(t, err)

	_, err = tr.Transform(context.Background(), buildTestPNG(t, 20, 20), domain.TransformRequest{Width: intPtr(0)})
	require.ErrorIs(t, err, domain.ErrInvalidGeometry)
}

func TestTransformHonorsCancellation(t *testing.T) {
	tr, err := New()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = tr.Transform(ctx, buildTestPNG(t, 20, 20), domain.TransformRequest{Width: intPtr(10)})
	require.ErrorIs(t, err, context.Canceled)
}

// columnImage encodes each pixel's coordinates in its color so crops,
// rotations and flips can be checked exactly.
func columnImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x % 256), G: uint8(x / 256), B: uint8(y), A: 255})
		}
	}
	return img
}

func assertSameColor(t *testing.T, want, got color.Color) {
	t.Helper()

	wr, wg, wb, wa := want.RGBA()
	gr, gg, gb, ga := got.RGBA()
	assert.Equal(t, [4]uint32{wr, wg, wb, wa}, [4]uint32{gr, gg, gb, ga})
}

func buildTestPNG(t testing.TB, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

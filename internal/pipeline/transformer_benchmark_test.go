package pipeline

import (
	"context"
	"testing"

	"github.com/dunamismax/pixelcache/internal/domain"
)

func BenchmarkTransformResize(b *testing.B) {
	benchmarkTransform(b, domain.TransformRequest{Width: intPtr(640)})
}

func BenchmarkTransformSquareRotateFlip(b *testing.B) {
	benchmarkTransform(b, domain.TransformRequest{
		Height: intPtr(720),
		Square: true,
		Rotate: intPtr(30),
		Flip:   domain.FlipBoth,
	})
}

func benchmarkTransform(b *testing.B, req domain.TransformRequest) {
	source := buildTestPNG(b, 1920, 1080)
	tr, err := New()
	if err != nil {
		b.Fatalf("new transformer: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := tr.Transform(context.Background(), source, req); err != nil {
			b.Fatalf("transform: %v", err)
		}
	}
}

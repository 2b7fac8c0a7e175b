package domain

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestParseTransformRequest(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  TransformRequest
	}{
		{
			name:  "empty",
			query: "",
			want:  TransformRequest{},
		},
		{
			name:  "unknown keys only",
			query: "v=2&cachebust=1",
			want:  TransformRequest{},
		},
		{
			name:  "empty values are absent",
			query: "w=&h=&rot=&flip=",
			want:  TransformRequest{},
		},
		{
			name:  "size",
			query: "w=100&h=50",
			want:  TransformRequest{Width: intPtr(100), Height: intPtr(50)},
		},
		{
			name:  "all families",
			query: "flip=hv&rot=-90&format=square&h=20",
			want: TransformRequest{
				Height: intPtr(20),
				Square: true,
				Rotate: intPtr(-90),
				Flip:   FlipBoth,
			},
		},
		{
			name:  "zero rotation is kept",
			query: "rot=0",
			want:  TransformRequest{Rotate: intPtr(0)},
		},
		{
			name:  "non square format ignored",
			query: "format=round",
			want:  TransformRequest{},
		},
		{
			name:  "signed and padded integers",
			query: "w=+120&rot=%20720%20",
			want:  TransformRequest{Width: intPtr(120), Rotate: intPtr(720)},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			values, err := url.ParseQuery(tc.query)
			require.NoError(t, err)

			got, err := ParseTransformRequest(values)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseTransformRequestRejectsMalformedValues(t *testing.T) {
	for _, query := range []string{
		"rot=abc",
		"w=1.5",
		"h=ten",
		"flip=x",
		"flip=vh",
	} {
		t.Run(query, func(t *testing.T) {
			values, err := url.ParseQuery(query)
			require.NoError(t, err)

			_, err = ParseTransformRequest(values)
			require.ErrorIs(t, err, ErrInvalidParameter)
		})
	}
}

func TestTransformRequestValuesRoundTrip(t *testing.T) {
	req := TransformRequest{Width: intPtr(64), Square: true, Rotate: intPtr(45), Flip: FlipVertical}

	parsed, err := ParseTransformRequest(req.Values())
	require.NoError(t, err)
	assert.Equal(t, req, parsed)
	assert.False(t, parsed.IsEmpty())
	assert.Equal(t, "original", TransformRequest{}.String())
}

func TestWarmRequestValidate(t *testing.T) {
	valid := WarmRequest{Variants: []Variant{{"w": "100"}, {"format": "square", "flip": "h"}}}
	require.NoError(t, valid.Validate())

	require.ErrorIs(t, WarmRequest{}.Validate(), ErrInvalidParameter)
	require.ErrorIs(t, WarmRequest{Variants: []Variant{{"rot": "abc"}}}.Validate(), ErrInvalidParameter)
	require.ErrorIs(t, WarmRequest{Variants: []Variant{{"unknown": "1"}}}.Validate(), ErrInvalidParameter)
}

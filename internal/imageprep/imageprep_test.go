package imageprep

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/xkilldash9x/bitesense/internal/config"
)

func solid(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(w, h)))
	return buf.Bytes()
}

func decodeJPEG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestPrepare(t *testing.T) {
	p := New(config.ImageConfig{MaxWidth: 1024, MaxHeight: 1024, JPEGQuality: 85})

	t.Run("should downscale a large landscape image", func(t *testing.T) {
		out, err := p.Prepare(encodePNG(t, 2048, 1024))
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", out.MIMEType)
		assert.Equal(t, 1024, out.Width)
		assert.Equal(t, 512, out.Height)
		b := decodeJPEG(t, out.Data).Bounds()
		assert.Equal(t, 1024, b.Dx())
		assert.Equal(t, 512, b.Dy())
	})

	t.Run("should downscale a large portrait image", func(t *testing.T) {
		out, err := p.Prepare(encodePNG(t, 600, 1800))
		require.NoError(t, err)
		assert.Equal(t, 341, out.Width)
		assert.Equal(t, 1024, out.Height)
	})

	t.Run("should keep small images at their size", func(t *testing.T) {
		out, err := p.Prepare(encodePNG(t, 320, 240))
		require.NoError(t, err)
		assert.Equal(t, 320, out.Width)
		assert.Equal(t, 240, out.Height)
		assert.Equal(t, byte(0xff), out.Data[0])
		assert.Equal(t, byte(0xd8), out.Data[1])
	})

	t.Run("should accept bmp and gif input", func(t *testing.T) {
		var bmpBuf bytes.Buffer
		require.NoError(t, bmp.Encode(&bmpBuf, solid(64, 32)))
		out, err := p.Prepare(bmpBuf.Bytes())
		require.NoError(t, err)
		assert.Equal(t, 64, out.Width)

		var gifBuf bytes.Buffer
		require.NoError(t, gif.Encode(&gifBuf, solid(16, 16), nil))
		out, err = p.Prepare(gifBuf.Bytes())
		require.NoError(t, err)
		assert.Equal(t, 16, out.Height)
	})

	t.Run("should reject data that is not an image", func(t *testing.T) {
		_, err := p.Prepare([]byte("definitely not an image"))
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})
}

func TestNew_Defaults(t *testing.T) {
	p := New(config.ImageConfig{})
	assert.Equal(t, 1024, p.maxWidth)
	assert.Equal(t, 1024, p.maxHeight)
	assert.Equal(t, 85, p.quality)
}

func TestFitWithin(t *testing.T) {
	tests := []struct {
		name             string
		w, h, maxW, maxH int
		wantW, wantH     int
	}{
		{"inside bounds", 800, 600, 1024, 1024, 800, 600},
		{"exact bounds", 1024, 1024, 1024, 1024, 1024, 1024},
		{"wide", 4000, 1000, 1024, 1024, 1024, 256},
		{"tall", 1000, 4000, 1024, 1024, 256, 1024},
		{"square", 3000, 3000, 1024, 1024, 1024, 1024},
		{"wide into short box", 2000, 1000, 1024, 256, 512, 256},
		{"extreme strip", 100000, 10, 1024, 1024, 1024, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := FitWithin(tt.w, tt.h, tt.maxW, tt.maxH)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

// internal/imageprep/imageprep.go
package imageprep

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	// Decoders registered with image.Decode.
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/xkilldash9x/bitesense/api/schemas"
	"github.com/xkilldash9x/bitesense/internal/config"
)

// ErrUnsupportedFormat is returned when the input is not a decodable image.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// Preparer normalizes uploaded photos before they reach a model: it bounds
// their dimensions and re-encodes them as JPEG.
type Preparer struct {
	maxWidth  int
	maxHeight int
	quality   int
}

// New creates a Preparer from the image settings.
func New(cfg config.ImageConfig) *Preparer {
	p := &Preparer{maxWidth: cfg.MaxWidth, maxHeight: cfg.MaxHeight, quality: cfg.JPEGQuality}
	if p.maxWidth <= 0 {
		p.maxWidth = 1024
	}
	if p.maxHeight <= 0 {
		p.maxHeight = 1024
	}
	if p.quality <= 0 || p.quality > 100 {
		p.quality = 85
	}
	return p
}

// Prepare decodes data, scales it to fit the configured bounds while keeping
// the aspect ratio and returns it as a JPEG image.
func (p *Preparer) Prepare(data []byte) (*schemas.Image, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	b := src.Bounds()
	w, h := FitWithin(b.Dx(), b.Dy(), p.maxWidth, p.maxHeight)

	var out image.Image = src
	if w != b.Dx() || h != b.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
		out = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: p.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode %s image as jpeg: %w", format, err)
	}
	return &schemas.Image{
		Data:     buf.Bytes(),
		MIMEType: "image/jpeg",
		Width:    w,
		Height:   h,
	}, nil
}

// FitWithin returns the largest dimensions no bigger than maxW x maxH that
// keep the width/height ratio. Images already inside the bounds are unchanged.
func FitWithin(width, height, maxW, maxH int) (int, int) {
	if width <= maxW && height <= maxH {
		return width, height
	}
	if width >= height {
		h := max(1, height*maxW/width)
		if h > maxH {
			return max(1, width*maxH/height), maxH
		}
		return maxW, h
	}
	w := max(1, width*maxH/height)
	if w > maxW {
		return maxW, max(1, height*maxW/width)
	}
	return w, maxH
}

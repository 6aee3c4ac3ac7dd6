// Package snapshot encodes captured frames as still images for the control API.
package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/Rishiwins/attendance-tracker/internal/types"
)

// Format is an output image format
type Format string

const (
	JPEG Format = "jpeg"
	WebP Format = "webp"
)

var (
	// ErrEmptyFrame is returned for frames without pixels
	ErrEmptyFrame = errors.New("snapshot: empty frame")
	// ErrBadFrame is returned when the pixel buffer does not match the frame size
	ErrBadFrame = errors.New("snapshot: pixel buffer does not match frame size")
	// ErrUnsupportedFormat is returned by ParseFormat
	ErrUnsupportedFormat = errors.New("snapshot: unsupported format")
)

// ParseFormat accepts "jpeg", "jpg" and "webp"; empty means JPEG
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "jpeg", "jpg":
		return JPEG, nil
	case "webp":
		return WebP, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// ContentType returns the MIME type of f
func (f Format) ContentType() string {
	if f == WebP {
		return "image/webp"
	}
	return "image/jpeg"
}

// Options controls encoding
type Options struct {
	Format   Format
	Quality  int // 1-100, 0 means 85
	MaxWidth int // Downscale keeping aspect ratio; 0 keeps the frame size
}

// Image converts an RGB24 frame into an image
func Image(f types.Frame) (*image.NRGBA, error) {
	if f.Empty() || f.Width <= 0 || f.Height <= 0 {
		return nil, ErrEmptyFrame
	}
	if len(f.Data) != f.Width*f.Height*3 {
		return nil, fmt.Errorf("%w: %dx%d needs %d bytes, got %d",
			ErrBadFrame, f.Width, f.Height, f.Width*f.Height*3, len(f.Data))
	}

	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i, j := 0, 0; i < len(f.Data); i, j = i+3, j+4 {
		img.Pix[j] = f.Data[i]
		img.Pix[j+1] = f.Data[i+1]
		img.Pix[j+2] = f.Data[i+2]
		img.Pix[j+3] = 0xff
	}
	return img, nil
}

// Encode renders the frame in the requested format
func Encode(f types.Frame, opts Options) ([]byte, error) {
	img, err := Image(f)
	if err != nil {
		return nil, err
	}

	var out image.Image = img
	if opts.MaxWidth > 0 && opts.MaxWidth < f.Width {
		out = imaging.Resize(img, opts.MaxWidth, 0, imaging.Linear)
	}

	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = 85
	}

	var buf bytes.Buffer
	switch opts.Format {
	case WebP:
		err = webp.Encode(&buf, out, &webp.Options{Quality: float32(quality)})
	case JPEG, "":
		err = imaging.Encode(&buf, out, imaging.JPEG, imaging.JPEGQuality(quality))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, opts.Format)
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode %s: %w", opts.Format, err)
	}
	return buf.Bytes(), nil
}

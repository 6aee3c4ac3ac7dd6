package snapshot

import (
	"bytes"
	"image/jpeg"
	"testing"

	"github.com/chai2010/webp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rishiwins/attendance-tracker/internal/types"
)

func redFrame(w, h int) types.Frame {
	data := make([]byte, w*h*3)
	for i := 0; i < len(data); i += 3 {
		data[i] = 0xff
	}
	return types.Frame{Width: w, Height: h, Data: data}
}

func TestParseFormat(t *testing.T) {
	testCases := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", JPEG, false},
		{"JPG", JPEG, false},
		{"jpeg", JPEG, false},
		{" webp ", WebP, false},
		{"png", "", true},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseFormat(tc.in)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestImage(t *testing.T) {
	img, err := Image(redFrame(4, 2))
	require.NoError(t, err)
	r, g, b, a := img.At(3, 1).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Zero(t, g)
	assert.Zero(t, b)
	assert.Equal(t, uint32(0xffff), a)

	_, err = Image(types.Frame{})
	assert.ErrorIs(t, err, ErrEmptyFrame)

	_, err = Image(types.Frame{Width: 4, Height: 4, Data: make([]byte, 10)})
	assert.ErrorIs(t, err, ErrBadFrame)
}

func TestEncode_JPEGDownscale(t *testing.T) {
	data, err := Encode(redFrame(64, 48), Options{Format: JPEG, MaxWidth: 32})
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
	assert.Equal(t, 24, img.Bounds().Dy(), "aspect ratio kept")
}

func TestEncode_WebP(t *testing.T) {
	data, err := Encode(redFrame(16, 16), Options{Format: WebP, Quality: 60})
	require.NoError(t, err)

	cfg, err := webp.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Width)
	assert.Equal(t, "image/webp", WebP.ContentType())
}

package ocr

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 10, B: 10, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPrepare_UpscalesToGray(t *testing.T) {
	out, err := Prepare(encodePNG(t, 400, 100))
	require.NoError(t, err)

	img, _, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, minWidth, img.Bounds().Dx())
	assert.Equal(t, 400, img.Bounds().Dy())
	_, isGray := img.(*image.Gray)
	assert.True(t, isGray)
}

func TestPrepare_KeepsWideImages(t *testing.T) {
	out, err := Prepare(encodePNG(t, 2000, 50))
	require.NoError(t, err)
	img, _, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 2000, img.Bounds().Dx())
}

func TestPrepare_InvalidImage(t *testing.T) {
	_, err := Prepare([]byte("not an image"))
	assert.Error(t, err)
}

func TestDisabled(t *testing.T) {
	_, err := Disabled{}.ExtractText(context.Background(), nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

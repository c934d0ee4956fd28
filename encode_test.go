package promptnode_test

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/mashiike/promptnode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSolidImage(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestEncodeImage(t *testing.T) {
	img := newSolidImage(32, 24, color.NRGBA{R: 200, G: 40, B: 40, A: 255})
	encoded, err := promptnode.EncodeImage(img)
	require.NoError(t, err)
	require.Equal(t, "image/jpeg", encoded.MIMEType)

	decoded, err := jpeg.Decode(bytes.NewReader(encoded.Data))
	require.NoError(t, err)
	assert.Equal(t, 32, decoded.Bounds().Dx())
	assert.Equal(t, 24, decoded.Bounds().Dy())
	_, isYCbCr := decoded.(*image.YCbCr)
	assert.True(t, isYCbCr, "jpeg output is three channel")
}

func TestEncodeImage__Deterministic(t *testing.T) {
	img := newSolidImage(16, 16, color.NRGBA{R: 10, G: 120, B: 250, A: 255})
	first, err := promptnode.EncodeImage(img)
	require.NoError(t, err)
	second, err := promptnode.EncodeImage(img)
	require.NoError(t, err)
	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, first.Base64(), second.Base64())
}

func TestEncodeImage__DropsAlpha(t *testing.T) {
	img := newSolidImage(16, 16, color.NRGBA{R: 255, G: 0, B: 0, A: 0})
	encoded, err := promptnode.EncodeImage(img)
	require.NoError(t, err)

	decoded, err := jpeg.Decode(bytes.NewReader(encoded.Data))
	require.NoError(t, err)
	r, g, b, _ := decoded.At(8, 8).RGBA()
	assert.Greater(t, r>>8, uint32(200), "transparent pixels keep their colour")
	assert.Less(t, g>>8, uint32(60))
	assert.Less(t, b>>8, uint32(60))
}

func TestEncodeImage__NonZeroOrigin(t *testing.T) {
	src := newSolidImage(40, 40, color.NRGBA{R: 0, G: 255, B: 0, A: 128})
	sub := src.SubImage(image.Rect(10, 10, 30, 20))
	encoded, err := promptnode.EncodeImage(sub)
	require.NoError(t, err)

	decoded, err := jpeg.Decode(bytes.NewReader(encoded.Data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 10), decoded.Bounds())
}

func TestEncodeImage__Errors(t *testing.T) {
	_, err := promptnode.EncodeImage(nil)
	require.ErrorIs(t, err, promptnode.ErrEncoding)

	_, err = promptnode.EncodeImage(image.NewRGBA(image.Rect(0, 0, 0, 0)))
	require.ErrorIs(t, err, promptnode.ErrEncoding)
}

func TestEncodeImageBytes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, newSolidImage(8, 8, color.NRGBA{R: 1, G: 2, B: 3, A: 255})))

	encoded, err := promptnode.EncodeImageBytes(buf.Bytes())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded.DataURL(), "data:image/jpeg;base64,"))
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(encoded.DataURL(), "data:image/jpeg;base64,"))
	require.NoError(t, err)
	assert.Equal(t, encoded.Data, raw)

	_, err = promptnode.EncodeImageBytes([]byte("not an image"))
	require.ErrorIs(t, err, promptnode.ErrEncoding)
}

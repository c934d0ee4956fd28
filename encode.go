package promptnode

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	EncodedImageMIMEType = "image/jpeg"
	EncodedImageQuality  = 85
)

// EncodedImage is a JPEG serialized image ready to be embedded in a request.
type EncodedImage struct {
	MIMEType string
	Data     []byte
}

func (e *EncodedImage) Base64() string {
	return base64.StdEncoding.EncodeToString(e.Data)
}

func (e *EncodedImage) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", e.MIMEType, e.Base64())
}

// EncodeImage normalizes img to RGB and serializes it as JPEG.
// The alpha channel, if any, is dropped.
func EncodeImage(img image.Image) (*EncodedImage, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: image is nil", ErrEncoding)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: image has no pixels", ErrEncoding)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, toRGB(img), &jpeg.Options{Quality: EncodedImageQuality}); err != nil {
		return nil, fmt.Errorf("%w: jpeg encode: %w", ErrEncoding, err)
	}
	return &EncodedImage{
		MIMEType: EncodedImageMIMEType,
		Data:     buf.Bytes(),
	}, nil
}

// DecodeImage decodes data in any registered format: png, jpeg, gif, webp, bmp and tiff.
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrEncoding, err)
	}
	return img, nil
}

// EncodeImageBytes decodes data with DecodeImage and encodes it with EncodeImage.
func EncodeImageBytes(data []byte) (*EncodedImage, error) {
	img, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}
	return EncodeImage(img)
}

func toRGB(img image.Image) image.Image {
	switch v := img.(type) {
	case *image.YCbCr:
		return v
	case *image.RGBA:
		if v.Opaque() {
			return v
		}
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			// straight colour, so a transparent pixel keeps its rgb value
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			dst.SetRGBA(x-b.Min.X, y-b.Min.Y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
		}
	}
	return dst
}

package preprocess

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Normalize turns uploaded bytes into the [1, 128, 128, 3] tensor the
// classifier expects.
func Normalize(raw RawImage) (*Tensor, error) {
	switch {
	case raw.Encoding == EncodingFormField:
		return nil, ErrUnsupportedEncoding
	case len(raw.Data) == 0:
		return nil, ErrEmptyInput
	}

	img, _, err := Decode(raw.Data)
	if err != nil {
		return nil, err
	}

	resized := resize.Resize(ImageSize, ImageSize, ToRGB(img), resize.Lanczos3)
	return toTensor(resized), nil
}

// MaxPixels bounds the source resolution accepted before a full decode.
const MaxPixels = 1 << 26

// Decode sniffs the container format from the bytes themselves.
func Decode(data []byte) (image.Image, string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", &DecodeError{Err: err}
	}
	if cfg.Width*cfg.Height > MaxPixels {
		return nil, "", &DecodeError{Err: fmt.Errorf("image too large: %dx%d", cfg.Width, cfg.Height)}
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", &DecodeError{Err: err}
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, "", &DecodeError{Err: image.ErrFormat}
	}
	return img, format, nil
}

// ToRGB drops alpha without compositing and expands grayscale and palette
// images, so every pixel ends up opaque with its straight color values.
func ToRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			i := dst.PixOffset(x-b.Min.X, y-b.Min.Y)
			dst.Pix[i+0] = c.R
			dst.Pix[i+1] = c.G
			dst.Pix[i+2] = c.B
			dst.Pix[i+3] = 0xff
		}
	}
	return dst
}

func toTensor(img image.Image) *Tensor {
	b := img.Bounds()
	t := &Tensor{
		Shape: [4]int{1, ImageSize, ImageSize, Channels},
		Data:  make([]float32, ImageSize*ImageSize*Channels),
	}
	for y := 0; y < ImageSize; y++ {
		for x := 0; x < ImageSize; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := (y*ImageSize + x) * Channels
			t.Data[i+0] = float32(r>>8) / 255.0
			t.Data[i+1] = float32(g>>8) / 255.0
			t.Data[i+2] = float32(bl>>8) / 255.0
		}
	}
	return t
}

package preprocess

import (
	"errors"
	"fmt"
)

// ImageSize is the square resolution the classifier was trained on.
const ImageSize = 128

const Channels = 3

// Encoding tags how the transport packaged the image bytes.
type Encoding int

const (
	EncodingNone Encoding = iota
	EncodingBody
	EncodingMultipartFile
	EncodingFormField
)

func (e Encoding) String() string {
	switch e {
	case EncodingBody:
		return "body"
	case EncodingMultipartFile:
		return "multipart-file"
	case EncodingFormField:
		return "form-field"
	default:
		return "none"
	}
}

type RawImage struct {
	Data     []byte
	Encoding Encoding
}

// Tensor is a single-image NHWC batch of float32 values in [0, 1].
type Tensor struct {
	Shape [4]int
	Data  []float32
}

func (t *Tensor) At(y, x, c int) float32 {
	return t.Data[(y*t.Shape[2]+x)*t.Shape[3]+c]
}

var (
	ErrEmptyInput          = errors.New("no image data provided")
	ErrUnsupportedEncoding = errors.New("image must be sent as binary data or multipart file")
)

type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

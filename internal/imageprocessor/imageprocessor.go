package imageprocessor

import (
	"bytes"
	"errors"
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

	"github.com/marco-scarnato/greenhouse-dt-module/internal/plant"
)

// Classifier input geometry. The model was trained on 256x256 RGB images with raw
// 0..255 pixel values; pixels must not be rescaled.
const (
	TargetWidth  = 256
	TargetHeight = 256
	Channels     = 3
)

// MaxPixels bounds the decoded size of a photo. Codecs allocate the full pixel
// buffer from the header before reading any data.
const MaxPixels = 50_000_000

var errEmptyImage = errors.New("empty image")

// Tensor is a dense float32 batch laid out as NHWC.
type Tensor struct {
	Shape [4]int64
	Data  []float32
}

// InputShape is the only shape Decode produces.
func InputShape() [4]int64 {
	return [4]int64{1, TargetHeight, TargetWidth, Channels}
}

// DecodeError reports photo bytes that could not be turned into an image.
type DecodeError struct {
	Size int
	Err  error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode image (%d bytes): %v", e.Size, e.Err)
}

// Unwrap exposes both the taxonomy sentinel and the codec error.
func (e *DecodeError) Unwrap() []error {
	return []error{plant.ErrDecode, e.Err}
}

// Decode turns encoded photo bytes into a [1,256,256,3] float32 RGB tensor.
func Decode(raw []byte) (*Tensor, error) {
	if len(raw) == 0 {
		return nil, &DecodeError{Err: errEmptyImage}
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, &DecodeError{Size: len(raw), Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, &DecodeError{Size: len(raw), Err: errEmptyImage}
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, &DecodeError{Size: len(raw), Err: fmt.Errorf("image %dx%d exceeds %d pixels", cfg.Width, cfg.Height, MaxPixels)}
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, &DecodeError{Size: len(raw), Err: err}
	}
	if img.Bounds().Empty() {
		return nil, &DecodeError{Size: len(raw), Err: errEmptyImage}
	}
	return Normalize(img), nil
}

// Normalize resizes img to the classifier geometry, ignoring aspect ratio, and
// copies its RGB channels into a batch of one. Alpha is dropped.
func Normalize(img image.Image) *Tensor {
	resized := resize.Resize(TargetWidth, TargetHeight, img, resize.Bicubic)
	bounds := resized.Bounds()

	t := &Tensor{
		Shape: InputShape(),
		Data:  make([]float32, TargetHeight*TargetWidth*Channels),
	}
	i := 0
	for y := bounds.Min.Y; y < bounds.Min.Y+TargetHeight; y++ {
		for x := bounds.Min.X; x < bounds.Min.X+TargetWidth; x++ {
			c := color.NRGBAModel.Convert(resized.At(x, y)).(color.NRGBA)
			t.Data[i] = float32(c.R)
			t.Data[i+1] = float32(c.G)
			t.Data[i+2] = float32(c.B)
			i += Channels
		}
	}
	return t
}

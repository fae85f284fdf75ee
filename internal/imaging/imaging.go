// Package imaging turns uploaded image bytes into normalized NHWC float32 tensors.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"time"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder

	"github.com/agrisol/cropdoctor/internal/errors"
	"github.com/agrisol/cropdoctor/internal/logger"
)

// Channels is the number of color channels fed to the models
const Channels = 3

// Sentinel errors, all reported as client input errors
var (
	ErrEmptyImage           = errors.NewStd("empty image data")
	ErrFileTooLarge         = errors.NewStd("file too large")
	ErrUnsupportedExtension = errors.NewStd("unsupported file extension")
	ErrMissingFilename      = errors.NewStd("no file selected")
	ErrUndecodable          = errors.NewStd("invalid or unsupported image")
)

// Size is a spatial target size in pixels
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Tensor is a batch of one image laid out as (1, height, width, 3), values in [0,1].
type Tensor struct {
	Data  []float32
	Shape [4]int
}

// Height returns the spatial height
func (t *Tensor) Height() int { return t.Shape[1] }

// Width returns the spatial width
func (t *Tensor) Width() int { return t.Shape[2] }

// Len returns the number of elements
func (t *Tensor) Len() int { return len(t.Data) }

// Preprocessor decodes and normalizes images.
type Preprocessor struct {
	// MaxBytes rejects larger inputs when positive
	MaxBytes int64
	// Interpolation used for resizing, Bilinear by default
	Interpolation resize.InterpolationFunction
}

// NewPreprocessor returns a Preprocessor that rejects inputs larger than maxBytes (0 disables the check).
func NewPreprocessor(maxBytes int64) *Preprocessor {
	return &Preprocessor{MaxBytes: maxBytes, Interpolation: resize.Bilinear}
}

// Preprocess decodes data, forces three channels, distorts it to size and scales channels to [0,1].
func (p *Preprocessor) Preprocess(data []byte, size Size) (*Tensor, error) {
	start := time.Now()

	if len(data) == 0 {
		return nil, errors.New(ErrEmptyImage).
			Component("imaging").
			Category(errors.CategoryValidation).
			Build()
	}
	if p.MaxBytes > 0 && int64(len(data)) > p.MaxBytes {
		return nil, errors.New(fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFileTooLarge, len(data), p.MaxBytes)).
			Component("imaging").
			Category(errors.CategoryValidation).
			Build()
	}
	if size.Width <= 0 || size.Height <= 0 {
		return nil, errors.Newf("invalid target size %s", size).
			Component("imaging").
			Category(errors.CategoryConfiguration).
			Build()
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.New(fmt.Errorf("%w: %w", ErrUndecodable, err)).
			Component("imaging").
			Category(errors.CategoryImageDecode).
			Context("bytes", len(data)).
			Build()
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, errors.New(fmt.Errorf("%w: image has no pixels", ErrUndecodable)).
			Component("imaging").
			Category(errors.CategoryImageDecode).
			Context("format", format).
			Build()
	}

	resized := resize.Resize(uint(size.Width), uint(size.Height), toRGB(img), p.Interpolation) //nolint:gosec // size validated above

	rgba, ok := resized.(*image.RGBA)
	if !ok {
		rgba = toRGB(resized)
	}

	tensor := fromRGBA(rgba, size)

	GetLogger().Debug("image preprocessed",
		logger.String("format", format),
		logger.String("source_size", fmt.Sprintf("%dx%d", img.Bounds().Dx(), img.Bounds().Dy())),
		logger.String("target_size", size.String()),
		logger.Int64("duration_us", time.Since(start).Microseconds()))

	return tensor, nil
}

// Preprocess runs a default Preprocessor without a size limit.
func Preprocess(data []byte, size Size) (*Tensor, error) {
	return NewPreprocessor(0).Preprocess(data, size)
}

// toRGB copies img into an opaque RGBA image. Alpha is dropped rather than
// composited, so transparent pixels keep their stored color.
func toRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA) //nolint:errcheck // NRGBAModel always returns NRGBA
			i := out.PixOffset(x-b.Min.X, y-b.Min.Y)
			out.Pix[i+0] = c.R
			out.Pix[i+1] = c.G
			out.Pix[i+2] = c.B
			out.Pix[i+3] = 0xff
		}
	}
	return out
}

// fromRGBA lays pixels out row-major in NHWC order scaled to [0,1]
func fromRGBA(img *image.RGBA, size Size) *Tensor {
	w, h := size.Width, size.Height
	data := make([]float32, h*w*Channels)

	for y := range h {
		for x := range w {
			src := img.PixOffset(img.Rect.Min.X+x, img.Rect.Min.Y+y)
			dst := (y*w + x) * Channels
			data[dst+0] = float32(img.Pix[src+0]) / 255.0
			data[dst+1] = float32(img.Pix[src+1]) / 255.0
			data[dst+2] = float32(img.Pix[src+2]) / 255.0
		}
	}

	return &Tensor{Data: data, Shape: [4]int{1, h, w, Channels}}
}

// Synthetic returns a deterministic gradient tensor of the given size, used to smoke
// test loaded models without an upload.
func Synthetic(size Size) *Tensor {
	w, h := size.Width, size.Height
	data := make([]float32, h*w*Channels)
	for i := range data {
		data[i] = float32(i%256) / 255.0
	}
	return &Tensor{Data: data, Shape: [4]int{1, h, w, Channels}}
}

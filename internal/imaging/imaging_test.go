package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/agrisol/cropdoctor/internal/errors"
)

var defaultSize = Size{Width: 256, Height: 256}

func solidImage(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func TestPreprocessGreenPNGAndJPEGAreClose(t *testing.T) {
	green := solidImage(10, 10, color.NRGBA{G: 255, A: 255})

	fromPNG, err := Preprocess(encodePNG(t, green), defaultSize)
	require.NoError(t, err)
	fromJPEG, err := Preprocess(encodeJPEG(t, green), defaultSize)
	require.NoError(t, err)

	for _, tensor := range []*Tensor{fromPNG, fromJPEG} {
		assert.Equal(t, [4]int{1, 256, 256, 3}, tensor.Shape)
		assert.Equal(t, 256*256*3, tensor.Len())
		for _, v := range tensor.Data {
			require.GreaterOrEqual(t, v, float32(0))
			require.LessOrEqual(t, v, float32(1))
		}
	}

	var maxDiff float64
	for i := range fromPNG.Data {
		maxDiff = math.Max(maxDiff, math.Abs(float64(fromPNG.Data[i]-fromJPEG.Data[i])))
	}
	assert.Less(t, maxDiff, 0.1)

	// pixel 0 of the PNG variant is exactly pure green
	assert.Equal(t, []float32{0, 1, 0}, fromPNG.Data[:3])
}

func TestPreprocessNonSquareTarget(t *testing.T) {
	img := solidImage(40, 20, color.NRGBA{R: 255, B: 255, A: 255})

	tensor, err := Preprocess(encodePNG(t, img), Size{Width: 30, Height: 12})
	require.NoError(t, err)
	assert.Equal(t, [4]int{1, 12, 30, 3}, tensor.Shape)
	assert.Equal(t, 12, tensor.Height())
	assert.Equal(t, 30, tensor.Width())
	assert.InDelta(t, 1.0, tensor.Data[0], 1e-6)
	assert.InDelta(t, 0.0, tensor.Data[1], 1e-6)
	assert.InDelta(t, 1.0, tensor.Data[2], 1e-6)
}

func TestPreprocessDropsAlpha(t *testing.T) {
	// fully transparent red keeps its color channels
	img := solidImage(4, 4, color.NRGBA{R: 255, A: 0})

	tensor, err := Preprocess(encodePNG(t, img), Size{Width: 4, Height: 4})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, tensor.Data[:3])
}

func TestPreprocessGrayscaleBecomesThreeChannels(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range gray.Pix {
		gray.Pix[i] = 51
	}

	tensor, err := Preprocess(encodePNG(t, gray), Size{Width: 8, Height: 8})
	require.NoError(t, err)
	assert.Equal(t, Channels, tensor.Shape[3])
	assert.InDelta(t, 0.2, tensor.Data[0], 1e-6)
	assert.InDelta(t, 0.2, tensor.Data[1], 1e-6)
	assert.InDelta(t, 0.2, tensor.Data[2], 1e-6)
}

func TestPreprocessBMP(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, solidImage(6, 6, color.NRGBA{B: 255, A: 255})))

	tensor, err := Preprocess(buf.Bytes(), defaultSize)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 1}, tensor.Data[:3])
}

func TestPreprocessErrors(t *testing.T) {
	pngData := encodePNG(t, solidImage(2, 2, color.White))

	tests := []struct {
		name     string
		p        *Preprocessor
		data     []byte
		size     Size
		sentinel error
		category errors.ErrorCategory
	}{
		{"empty", NewPreprocessor(0), nil, defaultSize, ErrEmptyImage, errors.CategoryValidation},
		{"too large", NewPreprocessor(int64(len(pngData) - 1)), pngData, defaultSize, ErrFileTooLarge, errors.CategoryValidation},
		{"garbage", NewPreprocessor(0), []byte("definitely not an image"), defaultSize, ErrUndecodable, errors.CategoryImageDecode},
		{"truncated png", NewPreprocessor(0), pngData[:len(pngData)/2], defaultSize, ErrUndecodable, errors.CategoryImageDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tensor, err := tt.p.Preprocess(tt.data, tt.size)
			require.Error(t, err)
			assert.Nil(t, tensor)
			require.ErrorIs(t, err, tt.sentinel)
			assert.True(t, errors.IsCategory(err, tt.category), "category %s", errors.CategoryOf(err))
		})
	}

	_, err := Preprocess(pngData, Size{})
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestValidateUpload(t *testing.T) {
	policy := UploadPolicy{
		MaxBytes:          1024,
		AllowedExtensions: []string{".jpg", ".jpeg", ".png"},
	}

	tests := []struct {
		name     string
		filename string
		size     int64
		want     error
	}{
		{"valid", "leaf.JPG", 100, nil},
		{"no name", "", 100, ErrMissingFilename},
		{"bad extension", "leaf.gif", 100, ErrUnsupportedExtension},
		{"no extension", "leaf", 100, ErrUnsupportedExtension},
		{"empty", "leaf.png", 0, ErrEmptyImage},
		{"too large", "leaf.png", 1025, ErrFileTooLarge},
		{"at limit", "leaf.png", 1024, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := policy.ValidateUpload(tt.filename, tt.size)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
			assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
		})
	}
}

func TestSyntheticIsDeterministic(t *testing.T) {
	a := Synthetic(Size{Width: 8, Height: 4})
	b := Synthetic(Size{Width: 8, Height: 4})

	assert.Equal(t, [4]int{1, 4, 8, 3}, a.Shape)
	assert.Equal(t, a.Data, b.Data)
	for _, v := range a.Data {
		assert.True(t, v >= 0 && v <= 1)
	}
}

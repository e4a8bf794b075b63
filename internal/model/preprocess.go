package model

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"

	"github.com/nfnt/resize"
)

// ErrNotImage means the bytes could not be decoded by any registered format.
var ErrNotImage = errors.New("not a decodable image")

// DecodeImage decodes JPEG, PNG or GIF data.
func DecodeImage(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, "", fmt.Errorf("%w: empty image", ErrNotImage)
	}
	return img, format, nil
}

// Preprocess converts img to the model input: RGB, resized to
// ImageSize x ImageSize, scaled to [0,1], normalized per channel with
// Mean/Std, laid out as CHW.
func Preprocess(img image.Image, meta Metadata) []float32 {
	size := uint(meta.ImageSize)
	resized := resize.Resize(size, size, img, resize.Bilinear)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height
	input := make([]float32, 3*plane)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b := rgb(resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA())

			i := y*width + x
			input[i] = (r - meta.Mean[0]) / meta.Std[0]
			input[plane+i] = (g - meta.Mean[1]) / meta.Std[1]
			input[2*plane+i] = (b - meta.Mean[2]) / meta.Std[2]
		}
	}
	return input
}

// rgb drops alpha the way an RGB conversion does: colour channels are
// un-premultiplied, not composited onto a background.
func rgb(r, g, b, a uint32) (float32, float32, float32) {
	if a != 0 && a != 0xffff {
		r = r * 0xffff / a
		g = g * 0xffff / a
		b = b * 0xffff / a
	}
	return float32(r) / 0xffff, float32(g) / 0xffff, float32(b) / 0xffff
}

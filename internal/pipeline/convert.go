package pipeline

import (
	"image"
	"image/draw"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// toEncoderInput scales the frame to size x size and packs it as ARGB bytes
// with an opaque alpha channel, the layout the image encoder expects.
func toEncoderInput(f Frame, size int) ([]byte, error) {
	if !f.Valid() {
		return nil, errors.Errorf("frame %d: pixel buffer does not match %dx%d", f.Seq, f.Width, f.Height)
	}
	if size <= 0 {
		return nil, errors.New("encoder input size must be positive")
	}
	scaled := resize.Resize(uint(size), uint(size), f.Image(), resize.Bilinear)
	rgba, ok := scaled.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) {
		b := scaled.Bounds()
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Rect, scaled, b.Min, draw.Src)
	}
	out := make([]byte, 4*size*size)
	for y := 0; y < size; y++ {
		row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+4*size]
		for x := 0; x < size; x++ {
			i := 4 * (y*size + x)
			out[i] = 0xff
			out[i+1] = row[4*x]
			out[i+2] = row[4*x+1]
			out[i+3] = row[4*x+2]
		}
	}
	return out, nil
}

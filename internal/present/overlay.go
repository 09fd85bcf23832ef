package present

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"segd/internal/pipeline"
)

// DefaultOpacity is the overlay opacity of a visible mask.
const DefaultOpacity = 0.6

// MaskColor tints masks in overlays.
var MaskColor = color.NRGBA{R: 30, G: 144, B: 255, A: 255}

// Overlay composites the mask over the frame. The mask is scaled to the frame
// when sizes differ. A nil mask or zero opacity returns the frame alone.
func Overlay(f pipeline.Frame, mask *pipeline.MaskImage, opacity float64) *image.NRGBA {
	bg := imaging.Clone(f.Image())
	if mask == nil || opacity <= 0 {
		return bg
	}
	tint := Tint(mask, MaskColor)
	if mask.Width != f.Width || mask.Height != f.Height {
		tint = imaging.Resize(tint, f.Width, f.Height, imaging.NearestNeighbor)
	}
	return imaging.Overlay(bg, tint, image.Pt(0, 0), opacity)
}

// Tint renders the mask in c, transparent outside the mask.
func Tint(mask *pipeline.MaskImage, c color.NRGBA) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, mask.Width, mask.Height))
	for i, v := range mask.Pix {
		if v == 0 {
			continue
		}
		out.Pix[4*i] = c.R
		out.Pix[4*i+1] = c.G
		out.Pix[4*i+2] = c.B
		out.Pix[4*i+3] = c.A
	}
	return out
}

// Gray renders the mask white on black.
func Gray(mask *pipeline.MaskImage) *image.Gray {
	return &image.Gray{Pix: append([]uint8(nil), mask.Pix...), Stride: mask.Width, Rect: image.Rect(0, 0, mask.Width, mask.Height)}
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	return imaging.Encode(w, img, imaging.PNG)
}

// ExportMasks writes each result's mask as segmentation_<n>.png (1-based)
// into dir, creating it if needed, and returns the written paths.
func ExportMasks(dir string, results []*pipeline.SegmentationResult) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	var paths []string
	for i, r := range results {
		if r == nil || r.Mask == nil {
			continue
		}
		p := filepath.Join(dir, fmt.Sprintf("segmentation_%d.png", i+1))
		if err := imaging.Save(Gray(r.Mask), p); err != nil {
			return paths, fmt.Errorf("save %s: %w", p, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

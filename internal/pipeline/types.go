package pipeline

import (
	"image"
	"image/color"
	"time"
)

// Frame is an immutable snapshot of one captured image.
// Pix holds RGBA pixels, row-major, 4 bytes per pixel.
// Pix MUST NOT be modified after the frame is handed to UpdateFrame.
type Frame struct {
	Pix        []byte
	Width      int
	Height     int
	Seq        uint64
	CapturedAt time.Time
}

// Image returns the frame as an *image.RGBA sharing the pixel slice.
func (f Frame) Image() *image.RGBA {
	return &image.RGBA{Pix: f.Pix, Stride: 4 * f.Width, Rect: image.Rect(0, 0, f.Width, f.Height)}
}

// Valid reports whether the pixel buffer matches the declared dimensions.
// Width is compared by division first so huge dimensions cannot overflow.
func (f Frame) Valid() bool {
	if f.Width <= 0 || f.Height <= 0 || len(f.Pix)%4 != 0 {
		return false
	}
	n := len(f.Pix) / 4
	return f.Width <= n/f.Height && f.Width*f.Height == n
}

// Category tags a prompt point as part of the object or not.
type Category int

const (
	Foreground Category = iota
	Background
)

func (c Category) String() string {
	switch c {
	case Foreground:
		return "foreground"
	case Background:
		return "background"
	default:
		return "unknown"
	}
}

// ParseCategory accepts "foreground"/"fg" and "background"/"bg".
func ParseCategory(s string) (Category, bool) {
	switch s {
	case "foreground", "fg", "":
		return Foreground, true
	case "background", "bg":
		return Background, true
	default:
		return Foreground, false
	}
}

// PromptPoint is a normalized coordinate in [0,1] on both axes.
type PromptPoint struct {
	X        float64
	Y        float64
	Category Category
}

// Size is a width/height pair in pixels.
type Size struct {
	Width  int
	Height int
}

// MaskImage is a single-channel mask; Pix holds 0 or 255 per pixel, row-major.
type MaskImage struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewMask allocates an empty mask.
func NewMask(w, h int) *MaskImage {
	return &MaskImage{Width: w, Height: h, Pix: make([]uint8, w*h)}
}

// Set marks (x, y) as inside the mask.
func (m *MaskImage) Set(x, y int) { m.Pix[y*m.Width+x] = 255 }

// At reports whether (x, y) is inside the mask.
func (m *MaskImage) At(x, y int) bool { return m.Pix[y*m.Width+x] != 0 }

// Area returns the number of set pixels.
func (m *MaskImage) Area() int {
	n := 0
	for _, v := range m.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

// Alpha returns the mask as an *image.Alpha sharing the pixel slice.
func (m *MaskImage) Alpha() *image.Alpha {
	return &image.Alpha{Pix: m.Pix, Stride: m.Width, Rect: image.Rect(0, 0, m.Width, m.Height)}
}

// MaskFromImage thresholds any image into a mask: pixels with non-zero alpha
// and non-black luminance are set.
func MaskFromImage(img image.Image) *MaskImage {
	b := img.Bounds()
	m := NewMask(b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			_, _, _, a := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			if a != 0 && g.Y >= 128 {
				m.Set(x, y)
			}
		}
	}
	return m
}

// SegmentationResult is the output of one completed request. A newer result
// supersedes the previous one; results are never merged.
type SegmentationResult struct {
	ID        string
	Title     string
	Mask      *MaskImage
	Points    []PromptPoint
	FrameSeq  uint64
	CreatedAt time.Time
}

// Stage names one of the three sequential inference calls.
type Stage string

const (
	StageIdle           Stage = "idle"
	StageEncoding       Stage = "encoding"
	StagePromptEncoding Stage = "prompt_encoding"
	StageDecoding       Stage = "decoding"
)

// Status is a read-only projection of the pipeline state.
type Status struct {
	ModelReady        bool
	Busy              bool
	Stage             Stage
	HasFrame          bool
	FrameSeq          uint64
	FrameWidth        int
	FrameHeight       int
	FramesReceived    uint64
	FramesOverwritten uint64
	Completed         uint64
	Dropped           uint64
	Failed            uint64
}

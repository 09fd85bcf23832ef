package frames

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"segd/internal/pipeline"
)

// Sink accepts frames; *pipeline.Coordinator implements it.
type Sink interface {
	UpdateFrame(pipeline.Frame)
}

// imageExts lists the file extensions DirSource picks up.
var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true}

// ErrTooLarge reports an image whose declared dimensions exceed the limit.
var ErrTooLarge = errors.New("image dimensions exceed limit")

// Decode reads one image, applies EXIF orientation, and returns it as a frame.
func Decode(r io.Reader) (pipeline.Frame, error) {
	return DecodeBounded(r, 0)
}

// DecodeBounded is Decode with a pixel budget checked against the image
// header before any pixel buffer is allocated. maxPixels <= 0 disables it.
func DecodeBounded(r io.Reader, maxPixels int64) (pipeline.Frame, error) {
	if maxPixels > 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return pipeline.Frame{}, fmt.Errorf("read image: %w", err)
		}
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return pipeline.Frame{}, fmt.Errorf("decode image header: %w", err)
		}
		if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width) > maxPixels/int64(cfg.Height) {
			return pipeline.Frame{}, fmt.Errorf("%w: %dx%d, max %d pixels", ErrTooLarge, cfg.Width, cfg.Height, maxPixels)
		}
		r = bytes.NewReader(data)
	}
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return pipeline.Frame{}, fmt.Errorf("decode image: %w", err)
	}
	return FromImage(img), nil
}

// FromImage copies img into a new RGBA frame.
func FromImage(img image.Image) pipeline.Frame {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || b.Min != (image.Point{}) || rgba.Stride != 4*b.Dx() {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Rect, img, b.Min, draw.Src)
	} else {
		rgba = &image.RGBA{Pix: append([]byte(nil), rgba.Pix...), Stride: rgba.Stride, Rect: rgba.Rect}
	}
	return pipeline.Frame{Pix: rgba.Pix, Width: b.Dx(), Height: b.Dy(), CapturedAt: time.Now()}
}

// LoadFile decodes the image at path.
func LoadFile(path string) (pipeline.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return pipeline.Frame{}, err
	}
	defer f.Close()
	fr, err := Decode(f)
	if err != nil {
		return pipeline.Frame{}, fmt.Errorf("%s: %w", path, err)
	}
	return fr, nil
}

// ListImages returns the image files directly under dir, sorted by name.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// DirSource replays the images of a directory as a continuous frame stream,
// standing in for a camera preview.
type DirSource struct {
	Dir      string
	Interval time.Duration
	// Once stops after a single pass instead of looping.
	Once bool
	Log  zerolog.Logger
}

// Load decodes every image in the directory. Unreadable images are skipped and logged.
func (s *DirSource) Load() ([]pipeline.Frame, error) {
	paths, err := ListImages(s.Dir)
	if err != nil {
		return nil, err
	}
	var frames []pipeline.Frame
	for _, p := range paths {
		fr, err := LoadFile(p)
		if err != nil {
			s.Log.Warn().Err(err).Str("path", p).Msg("skipping image")
			continue
		}
		frames = append(frames, fr)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("no decodable images in %s", s.Dir)
	}
	return frames, nil
}

// Run publishes frames to sink at the configured interval until ctx ends.
// The sink never applies backpressure; each frame overwrites the last.
func (s *DirSource) Run(ctx context.Context, sink Sink) error {
	frames, err := s.Load()
	if err != nil {
		return err
	}
	interval := s.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	s.Log.Info().Str("dir", s.Dir).Int("frames", len(frames)).Dur("interval", interval).Msg("frame source started")
	t := time.NewTicker(interval)
	defer t.Stop()
	for i := 0; ; i++ {
		if s.Once && i == len(frames) {
			return nil
		}
		fr := frames[i%len(frames)]
		fr.CapturedAt = time.Now()
		sink.UpdateFrame(fr)
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

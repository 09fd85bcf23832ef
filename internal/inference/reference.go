package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"segd/internal/pipeline"
)

// ErrStageOrder is returned when stages are called out of order.
var ErrStageOrder = errors.New("inference stage called out of order")

// ErrNotLoaded is returned when a stage runs before Load.
var ErrNotLoaded = errors.New("model not loaded")

const (
	defaultGrid      = 64
	defaultTolerance = 48.0
)

type refStage int

const (
	refEmpty refStage = iota
	refEncoded
	refPrompted
)

// ReferenceOptions tunes the reference model.
type ReferenceOptions struct {
	// Grid is the embedding resolution (Grid x Grid cells).
	Grid int
	// Tolerance is the maximum RGB distance from a seed for a cell to join its region.
	Tolerance float64
	// Latency is added to every stage to mimic model compute time.
	Latency time.Duration
	// LoadDelay is spent in Load.
	LoadDelay time.Duration
}

// Reference is a model-free segmentation service with the same stateful
// contract as a real encoder/decoder pair. It grows colour-similar regions
// from foreground seeds on a coarse embedding grid and subtracts the regions
// grown from background seeds.
type Reference struct {
	mu     sync.Mutex
	opts   ReferenceOptions
	loaded bool
	stage  refStage
	embed  []float64 // Grid*Grid*3 mean RGB
	points []pipeline.PromptPoint
	target pipeline.Size
}

// NewReference constructs a Reference service, applying defaults.
func NewReference(opts ReferenceOptions) *Reference {
	if opts.Grid <= 0 {
		opts.Grid = defaultGrid
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = defaultTolerance
	}
	return &Reference{opts: opts}
}

// Load prepares the service.
func (r *Reference) Load(ctx context.Context) error {
	if err := wait(ctx, r.opts.LoadDelay); err != nil {
		return err
	}
	r.mu.Lock()
	r.loaded = true
	r.mu.Unlock()
	return nil
}

// EncodeImage averages ARGB pixels into the embedding grid and discards any previous prompt.
func (r *Reference) EncodeImage(ctx context.Context, pixels []byte, width, height int) error {
	if width <= 0 || height <= 0 || len(pixels) != 4*width*height {
		return fmt.Errorf("encode image: %d bytes for %dx%d", len(pixels), width, height)
	}
	if err := wait(ctx, r.opts.Latency); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.loaded {
		return ErrNotLoaded
	}
	g := r.opts.Grid
	sum := make([]float64, g*g*3)
	count := make([]int, g*g)
	for y := 0; y < height; y++ {
		cy := y * g / height
		for x := 0; x < width; x++ {
			cx := x * g / width
			i := 4 * (y*width + x)
			c := cy*g + cx
			sum[3*c] += float64(pixels[i+1])
			sum[3*c+1] += float64(pixels[i+2])
			sum[3*c+2] += float64(pixels[i+3])
			count[c]++
		}
	}
	for c, n := range count {
		if n == 0 {
			continue
		}
		sum[3*c] /= float64(n)
		sum[3*c+1] /= float64(n)
		sum[3*c+2] /= float64(n)
	}
	r.embed = sum
	r.points = nil
	r.stage = refEncoded
	return nil
}

// EncodePrompt stores the points for the next DecodeMask.
func (r *Reference) EncodePrompt(ctx context.Context, points []pipeline.PromptPoint, target pipeline.Size) error {
	if err := wait(ctx, r.opts.Latency); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.loaded {
		return ErrNotLoaded
	}
	if r.stage == refEmpty {
		return fmt.Errorf("encode prompt: %w", ErrStageOrder)
	}
	r.points = append([]pipeline.PromptPoint(nil), points...)
	r.target = target
	r.stage = refPrompted
	return nil
}

// DecodeMask returns the mask at target size, or nil if no cell is selected.
// The image embedding stays valid for another prompt.
func (r *Reference) DecodeMask(ctx context.Context, target pipeline.Size) (*pipeline.MaskImage, error) {
	if err := wait(ctx, r.opts.Latency); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.loaded {
		return nil, ErrNotLoaded
	}
	if r.stage != refPrompted {
		return nil, fmt.Errorf("decode mask: %w", ErrStageOrder)
	}
	if target != r.target {
		return nil, fmt.Errorf("decode mask: target %dx%d differs from prompt target %dx%d",
			target.Width, target.Height, r.target.Width, r.target.Height)
	}
	r.stage = refEncoded

	g := r.opts.Grid
	sel := make([]bool, g*g)
	for _, p := range r.points {
		if p.Category == pipeline.Foreground {
			r.grow(p, func(c int) { sel[c] = true })
		}
	}
	for _, p := range r.points {
		if p.Category == pipeline.Background {
			r.grow(p, func(c int) { sel[c] = false })
		}
	}
	found := false
	for _, s := range sel {
		if s {
			found = true
			break
		}
	}
	if !found {
		return nil, nil
	}
	m := pipeline.NewMask(target.Width, target.Height)
	for y := 0; y < target.Height; y++ {
		cy := y * g / target.Height
		for x := 0; x < target.Width; x++ {
			if sel[cy*g+x*g/target.Width] {
				m.Set(x, y)
			}
		}
	}
	return m, nil
}

// grow floods 4-connected cells whose colour is within tolerance of the seed cell.
func (r *Reference) grow(p pipeline.PromptPoint, visit func(int)) {
	g := r.opts.Grid
	sx, sy := cell(p.X, g), cell(p.Y, g)
	seed := sy*g + sx
	seen := make([]bool, g*g)
	queue := []int{seed}
	seen[seed] = true
	tol2 := r.opts.Tolerance * r.opts.Tolerance
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		visit(c)
		cx, cy := c%g, c/g
		for _, d := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
			nx, ny := cx+d[0], cy+d[1]
			if nx < 0 || ny < 0 || nx >= g || ny >= g {
				continue
			}
			n := ny*g + nx
			if seen[n] || r.dist2(seed, n) > tol2 {
				continue
			}
			seen[n] = true
			queue = append(queue, n)
		}
	}
}

func (r *Reference) dist2(a, b int) float64 {
	var d float64
	for k := 0; k < 3; k++ {
		v := r.embed[3*a+k] - r.embed[3*b+k]
		d += v * v
	}
	return d
}

func cell(v float64, g int) int {
	c := int(v * float64(g))
	if c >= g {
		c = g - 1
	}
	if c < 0 {
		c = 0
	}
	return c
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

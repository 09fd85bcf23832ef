package frames

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"segd/internal/pipeline"
)

// Segmenter is the coordinator surface the trigger needs.
type Segmenter interface {
	RequestSegmentation(ctx context.Context, points []pipeline.PromptPoint, target pipeline.Size) (*pipeline.SegmentationResult, error)
	Status() pipeline.Status
}

// Trigger requests a segmentation at a fixed cadence with fixed prompt points.
// Ticks that land while a request is in flight are dropped by the coordinator.
type Trigger struct {
	Interval time.Duration
	Points   []pipeline.PromptPoint
	// Target is the mask size; zero means the latest frame's size.
	Target pipeline.Size
	Log    zerolog.Logger
}

// Run fires until ctx ends. Each request runs on its own goroutine so a slow
// model never delays the ticker; Run returns once all of them have finished.
func (t *Trigger) Run(ctx context.Context, seg Segmenter) {
	if t.Interval <= 0 || len(t.Points) == 0 {
		return
	}
	var wg sync.WaitGroup
	defer wg.Wait()
	tk := time.NewTicker(t.Interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			target := t.Target
			if target.Width <= 0 || target.Height <= 0 {
				st := seg.Status()
				if !st.HasFrame {
					continue
				}
				target = pipeline.Size{Width: st.FrameWidth, Height: st.FrameHeight}
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				t.fire(ctx, seg, target)
			}()
		}
	}
}

func (t *Trigger) fire(ctx context.Context, seg Segmenter, target pipeline.Size) {
	res, err := seg.RequestSegmentation(ctx, t.Points, target)
	switch {
	case err != nil:
		t.Log.Warn().Err(err).Msg("timed segmentation failed")
	case res == nil:
		t.Log.Debug().Msg("timed segmentation dropped")
	default:
		t.Log.Debug().Str("id", res.ID).Msg("timed segmentation completed")
	}
}

package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Coordinator owns the latest frame and the single-flight inference gate,
// and sequences the three model stages for each admitted request.
type Coordinator struct {
	st           state
	svc          InferenceService
	encoderSize  int
	title        string
	stageTimeout time.Duration
	presenter    Presenter
	log          zerolog.Logger
}

// New constructs a Coordinator for svc with package defaults.
func New(svc InferenceService) *Coordinator {
	return NewWithConfig(Config{Service: svc})
}

func nopLogger() zerolog.Logger { return zerolog.Nop() }

// SetLogger installs a structured logger.
func (c *Coordinator) SetLogger(l zerolog.Logger) {
	c.log = l.With().Str("component", "pipeline").Logger()
}

// SetPresenter installs the display boundary. Must be called before frames
// or requests start flowing.
func (c *Coordinator) SetPresenter(p Presenter) {
	if p == nil {
		p = noopPresenter{}
	}
	c.presenter = p
}

// LoadModel runs the service's load step, if any, and marks the model ready.
func (c *Coordinator) LoadModel(ctx context.Context) error {
	if c.svc == nil {
		return ErrDependencyUnavailable("inference service not configured")
	}
	if l, ok := c.svc.(Loader); ok {
		if err := l.Load(ctx); err != nil {
			c.st.setModelReady(false)
			c.log.Error().Err(err).Msg("model load failed")
			return ErrDependencyUnavailable("model load failed: " + err.Error())
		}
	}
	c.st.setModelReady(true)
	c.log.Info().Msg("model ready")
	return nil
}

// Ready reports whether the model accepts requests.
func (c *Coordinator) Ready() bool { return c.st.isModelReady() }

// Status returns a read-only view of the pipeline state.
func (c *Coordinator) Status() Status { return c.st.status() }

// UpdateFrame stores f as the latest frame. It never blocks on inference and
// never fails. The frame's Seq is assigned here.
func (c *Coordinator) UpdateFrame(f Frame) { c.StoreFrame(f) }

// StoreFrame is UpdateFrame that also returns the stored frame, with its
// assigned Seq, and whether a request was in flight at that moment.
func (c *Coordinator) StoreFrame(f Frame) (stored Frame, busy bool) {
	stored, overwritten, busy := c.st.setFrame(f)
	framesTotal.Inc()
	if overwritten {
		framesOverwrittenTotal.Inc()
	}
	c.presenter.Present(Presentation{Frame: &stored, Busy: busy})
	return stored, busy
}

// RequestSegmentation runs one segmentation over the latest frame.
//
// A nil result with a nil error means the request was dropped: another
// request is in flight, no frame has arrived yet, the model is not ready, or
// the model found no mask. Stage failures are returned as
// *InferenceFailedError. The gate is released on every path.
func (c *Coordinator) RequestSegmentation(ctx context.Context, points []PromptPoint, target Size) (*SegmentationResult, error) {
	res, _, err := c.Segment(ctx, points, target)
	return res, err
}

// Segment is RequestSegmentation that also reports the drop reason when the
// result is nil and err is nil.
func (c *Coordinator) Segment(ctx context.Context, points []PromptPoint, target Size) (res *SegmentationResult, reason string, err error) {
	if err := validatePrompt(points, target); err != nil {
		return nil, "", err
	}
	if c.svc == nil {
		return nil, "", ErrDependencyUnavailable("inference service not configured")
	}
	if !c.st.tryBeginInference() {
		c.st.record(outcomeDropped)
		observeOutcome(DropBusy)
		c.log.Debug().Str("reason", DropBusy).Msg("segmentation dropped")
		return nil, DropBusy, nil
	}
	defer c.st.endInference()

	busyGauge.Set(1)
	c.presenter.Present(Presentation{Busy: true})

	defer func() {
		busyGauge.Set(0)
		switch {
		case err != nil:
			c.st.record(outcomeFailed)
			observeOutcome("failed")
		case res == nil:
			c.st.record(outcomeDropped)
			observeOutcome(reason)
		default:
			c.st.record(outcomeCompleted)
			observeOutcome("completed")
		}
		c.presenter.Present(Presentation{Result: res, DropReason: reason, Err: err})
	}()

	res, reason, err = c.segment(ctx, append([]PromptPoint(nil), points...), target)
	return res, reason, err
}

// segment runs under an admitted gate.
func (c *Coordinator) segment(ctx context.Context, points []PromptPoint, target Size) (*SegmentationResult, string, error) {
	if !c.st.isModelReady() {
		c.log.Debug().Str("reason", DropModelNotReady).Msg("segmentation dropped")
		return nil, DropModelNotReady, nil
	}
	frame, ok := c.st.snapshot()
	if !ok {
		c.log.Debug().Str("reason", DropNoFrame).Msg("segmentation dropped")
		return nil, DropNoFrame, nil
	}
	start := time.Now()
	l := c.log.With().Uint64("frame_seq", frame.Seq).Int("points", len(points)).Logger()

	err := c.runStage(ctx, StageEncoding, func(ctx context.Context) error {
		pixels, err := toEncoderInput(frame, c.encoderSize)
		if err != nil {
			return err
		}
		return c.svc.EncodeImage(ctx, pixels, c.encoderSize, c.encoderSize)
	})
	if err != nil {
		l.Warn().Err(err).Msg("segmentation failed")
		return nil, "", err
	}
	err = c.runStage(ctx, StagePromptEncoding, func(ctx context.Context) error {
		return c.svc.EncodePrompt(ctx, points, target)
	})
	if err != nil {
		l.Warn().Err(err).Msg("segmentation failed")
		return nil, "", err
	}
	var mask *MaskImage
	err = c.runStage(ctx, StageDecoding, func(ctx context.Context) error {
		m, err := c.svc.DecodeMask(ctx, target)
		mask = m
		return err
	})
	if err != nil {
		l.Warn().Err(err).Msg("segmentation failed")
		return nil, "", err
	}
	if mask == nil {
		l.Debug().Str("reason", DropEmptyMask).Msg("segmentation produced no mask")
		return nil, DropEmptyMask, nil
	}
	res := &SegmentationResult{
		ID:        uuid.NewString(),
		Title:     c.title,
		Mask:      mask,
		Points:    points,
		FrameSeq:  frame.Seq,
		CreatedAt: time.Now(),
	}
	l.Info().Str("id", res.ID).Int("mask_area", mask.Area()).Dur("dur", time.Since(start)).Msg("segmentation completed")
	return res, "", nil
}

// runStage executes one stage with the configured timeout, converting errors
// and panics into *InferenceFailedError for that stage.
func (c *Coordinator) runStage(ctx context.Context, stage Stage, fn func(context.Context) error) (err error) {
	c.st.setStage(stage)
	if c.stageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.stageTimeout)
		defer cancel()
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		status := "ok"
		if err != nil {
			status = "error"
			err = &InferenceFailedError{Stage: stage, Err: err}
		}
		stageDuration.WithLabelValues(string(stage), status).Observe(time.Since(start).Seconds())
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

func validatePrompt(points []PromptPoint, target Size) error {
	if len(points) == 0 {
		return ErrInvalidPrompt("at least one point is required")
	}
	for i, p := range points {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
			return ErrInvalidPrompt(fmt.Sprintf("point %d (%g,%g) outside [0,1]", i, p.X, p.Y))
		}
		if p.Category != Foreground && p.Category != Background {
			return ErrInvalidPrompt(fmt.Sprintf("point %d has unknown category", i))
		}
	}
	if target.Width <= 0 || target.Height <= 0 {
		return ErrInvalidPrompt(fmt.Sprintf("target size %dx%d must be positive", target.Width, target.Height))
	}
	return nil
}

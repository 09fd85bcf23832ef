package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeService is an in-memory InferenceService that records call order and
// can fail, panic or block at a chosen stage.
type fakeService struct {
	mu        sync.Mutex
	calls     []string
	failAt    Stage
	panicAt   Stage
	emptyMask bool
	// block, when set, makes EncodeImage wait until it is closed.
	block   chan struct{}
	entered chan struct{}

	active    int32
	maxActive int32
}

var errBoom = errors.New("boom")

func (f *fakeService) enter(name string) {
	n := atomic.AddInt32(&f.active, 1)
	for {
		m := atomic.LoadInt32(&f.maxActive)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxActive, m, n) {
			break
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeService) leave() { atomic.AddInt32(&f.active, -1) }

func (f *fakeService) EncodeImage(ctx context.Context, pixels []byte, width, height int) error {
	f.enter("encodeImage")
	defer f.leave()
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if len(pixels) != 4*width*height {
		return errors.New("bad pixel buffer")
	}
	return f.outcome(StageEncoding)
}

func (f *fakeService) EncodePrompt(ctx context.Context, points []PromptPoint, target Size) error {
	f.enter("encodePrompt")
	defer f.leave()
	return f.outcome(StagePromptEncoding)
}

func (f *fakeService) DecodeMask(ctx context.Context, target Size) (*MaskImage, error) {
	f.enter("decodeMask")
	defer f.leave()
	if err := f.outcome(StageDecoding); err != nil {
		return nil, err
	}
	if f.emptyMask {
		return nil, nil
	}
	m := NewMask(target.Width, target.Height)
	m.Set(target.Width/2, target.Height/2)
	return m, nil
}

func (f *fakeService) outcome(s Stage) error {
	if f.panicAt == s {
		panic("stage exploded")
	}
	if f.failAt == s {
		return errBoom
	}
	return nil
}

func (f *fakeService) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// loaderService adds a Load step to fakeService.
type loaderService struct {
	fakeService
	loadErr error
}

func (l *loaderService) Load(ctx context.Context) error { return l.loadErr }

// solidFrame builds a w x h frame filled with one colour.
func solidFrame(w, h int, r, g, b byte) Frame {
	pix := make([]byte, 4*w*h)
	for i := 0; i < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = r, g, b, 0xff
	}
	return Frame{Pix: pix, Width: w, Height: h, CapturedAt: time.Now()}
}

func fgPoints() []PromptPoint {
	return []PromptPoint{{X: 0.5, Y: 0.5, Category: Foreground}, {X: 0.6, Y: 0.5, Category: Foreground}}
}

// newReady builds a ready coordinator with a small encoder input to keep tests fast.
func newReady(svc InferenceService) *Coordinator {
	return NewWithConfig(Config{Service: svc, EncoderSize: 32, ModelReady: true})
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}

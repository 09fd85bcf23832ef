package pipeline

import "sync"

// Drop reasons carried by presentations and metrics.
const (
	DropBusy          = "busy"
	DropNoFrame       = "no_frame"
	DropModelNotReady = "model_not_ready"
	DropEmptyMask     = "empty_mask"
)

// Presentation is one discrete update pushed to the display layer.
// Frame is set on frame updates; Result is set when a request completed.
// Result is nil with Busy=false when a request ended without a mask.
type Presentation struct {
	Frame      *Frame
	Result     *SegmentationResult
	Busy       bool
	DropReason string
	Err        error
}

// Presenter receives presentations from the coordinator. Implementations
// should be lightweight and non-blocking; Present must not panic.
// Present may be called from the frame producer's goroutine.
type Presenter interface {
	Present(Presentation)
}

// noopPresenter is the default; it drops presentations.
type noopPresenter struct{}

func (noopPresenter) Present(Presentation) {}

// MemoryPresenter stores presentations in-memory for tests.
type MemoryPresenter struct {
	mu    sync.Mutex
	items []Presentation
}

func NewMemoryPresenter() *MemoryPresenter { return &MemoryPresenter{} }

func (p *MemoryPresenter) Present(e Presentation) {
	p.mu.Lock()
	p.items = append(p.items, e)
	p.mu.Unlock()
}

func (p *MemoryPresenter) Presentations() []Presentation {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Presentation, len(p.items))
	copy(out, p.items)
	return out
}

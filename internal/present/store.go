// Package present is the display side of the pipeline: it keeps the latest
// frame, result and busy flag pushed by the coordinator, and renders masks.
package present

import (
	"sync"
	"time"

	"segd/internal/pipeline"
)

const defaultHistory = 16

// View is a consistent snapshot of what the display should show.
type View struct {
	Frame     *pipeline.Frame
	Result    *pipeline.SegmentationResult
	Busy      bool
	Hidden    bool
	LastDrop  string
	LastError string
	UpdatedAt time.Time
}

// Store implements pipeline.Presenter.
type Store struct {
	mu      sync.RWMutex
	view    View
	history []*pipeline.SegmentationResult
	maxHist int
}

// NewStore constructs a Store keeping the last maxHistory results for export.
func NewStore(maxHistory int) *Store {
	if maxHistory <= 0 {
		maxHistory = defaultHistory
	}
	return &Store{maxHist: maxHistory}
}

// Present applies one update. Frame updates replace only the frame; busy and
// results follow the request lifecycle.
func (s *Store) Present(p pipeline.Presentation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.UpdatedAt = time.Now()
	if p.Frame != nil {
		s.view.Frame = p.Frame
		return
	}
	s.view.Busy = p.Busy
	if p.Busy {
		return
	}
	s.view.LastDrop = p.DropReason
	s.view.LastError = ""
	if p.Err != nil {
		s.view.LastError = p.Err.Error()
	}
	if p.Result != nil {
		s.view.Result = p.Result
		s.history = append(s.history, p.Result)
		if len(s.history) > s.maxHist {
			s.history = s.history[len(s.history)-s.maxHist:]
		}
	}
}

// View returns the current display state.
func (s *Store) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// SetHidden toggles the overlay visibility.
func (s *Store) SetHidden(hidden bool) {
	s.mu.Lock()
	s.view.Hidden = hidden
	s.mu.Unlock()
}

// History returns the retained results, oldest first.
func (s *Store) History() []*pipeline.SegmentationResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*pipeline.SegmentationResult(nil), s.history...)
}

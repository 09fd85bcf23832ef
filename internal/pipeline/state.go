package pipeline

import "sync"

// state is the shared cell guarded by a single mutex. The tuple
// (latest, modelReady, inFlight) is only read or written under mu.
type state struct {
	mu         sync.Mutex
	latest     *Frame
	consumed   bool // latest has been snapshotted at least once
	modelReady bool
	inFlight   bool
	stage      Stage
	seq        uint64

	framesReceived    uint64
	framesOverwritten uint64
	completed         uint64
	dropped           uint64
	failed            uint64
}

// setFrame replaces the latest frame and assigns its sequence number.
// The previous frame is discarded; if nobody snapshotted it, it counts as
// overwritten. busy mirrors inFlight at the time of the write.
func (s *state) setFrame(f Frame) (stored Frame, overwritten, busy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest != nil && !s.consumed {
		s.framesOverwritten++
		overwritten = true
	}
	s.seq++
	f.Seq = s.seq
	s.latest = &f
	s.consumed = false
	s.framesReceived++
	return f, overwritten, s.inFlight
}

// snapshot returns a copy of the latest frame.
func (s *state) snapshot() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return Frame{}, false
	}
	s.consumed = true
	return *s.latest, true
}

// tryBeginInference admits the caller if no inference is in flight.
func (s *state) tryBeginInference() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return false
	}
	s.inFlight = true
	return true
}

// endInference releases the gate and returns the stage to idle.
func (s *state) endInference() {
	s.mu.Lock()
	s.inFlight = false
	s.stage = StageIdle
	s.mu.Unlock()
}

func (s *state) setStage(st Stage) {
	s.mu.Lock()
	s.stage = st
	s.mu.Unlock()
}

func (s *state) setModelReady(ready bool) {
	s.mu.Lock()
	s.modelReady = ready
	s.mu.Unlock()
}

func (s *state) isModelReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modelReady
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeDropped
	outcomeFailed
)

func (s *state) record(o outcome) {
	s.mu.Lock()
	switch o {
	case outcomeCompleted:
		s.completed++
	case outcomeDropped:
		s.dropped++
	case outcomeFailed:
		s.failed++
	}
	s.mu.Unlock()
}

func (s *state) status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		ModelReady:        s.modelReady,
		Busy:              s.inFlight,
		Stage:             s.stage,
		HasFrame:          s.latest != nil,
		FramesReceived:    s.framesReceived,
		FramesOverwritten: s.framesOverwritten,
		Completed:         s.completed,
		Dropped:           s.dropped,
		Failed:            s.failed,
	}
	if st.Stage == "" {
		st.Stage = StageIdle
	}
	if s.latest != nil {
		st.FrameSeq = s.latest.Seq
		st.FrameWidth = s.latest.Width
		st.FrameHeight = s.latest.Height
	}
	return st
}

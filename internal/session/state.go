// Package session holds the state shared between the capture worker and
// the display, and the worker that drives the pipeline.
package session

import (
	"sync"

	"firestige.xyz/flowscope/internal/core"
)

const defaultRingSize = 1000

// State is shared between the capture worker and the control surface.
// One mutex guards everything; no method holds it across I/O.
type State struct {
	mu sync.Mutex

	target     string
	generation uint64 // bumped on every target change
	capturing  bool

	ring  []core.AnalyzedRecord
	head  int // next write position
	count int

	packets uint64
	records uint64
	message string
	fatal   error
}

// Snapshot is a consistent copy of State for rendering.
type Snapshot struct {
	Target    string
	Capturing bool
	Packets   uint64 // Frames read since start
	Records   uint64 // Records produced since start
	Message   string
	Fatal     error
	Recent    []core.AnalyzedRecord // Oldest first
}

// NewState creates a state whose ring keeps the last ringSize records (default 1000).
func NewState(ringSize int) *State {
	if ringSize <= 0 {
		ringSize = defaultRingSize
	}
	return &State{ring: make([]core.AnalyzedRecord, ringSize)}
}

// SetTarget selects the capture device. The worker reopens on its next poll.
func (s *State) SetTarget(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if target == s.target {
		return
	}
	s.target = target
	s.generation++
	s.fatal = nil
}

// SetCapturing enables or disables capture.
func (s *State) SetCapturing(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capturing = on
}

// ToggleCapture flips the capture flag and returns the new value.
func (s *State) ToggleCapture() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capturing = !s.capturing
	return s.capturing
}

// SetMessage sets the status line shown by the display.
func (s *State) SetMessage(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = msg
}

// SetFatal records a condition that stopped the worker.
func (s *State) SetFatal(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fatal = err
	s.capturing = false
	if err != nil {
		s.message = err.Error()
	}
}

// observe returns what the worker needs at a packet boundary.
func (s *State) observe() (target string, generation uint64, capturing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target, s.generation, s.capturing
}

// record counts one frame and appends its record, if any.
func (s *State) record(rec *core.AnalyzedRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packets++
	if rec == nil {
		return
	}
	s.records++
	s.ring[s.head] = *rec
	s.head = (s.head + 1) % len(s.ring)
	if s.count < len(s.ring) {
		s.count++
	}
}

// Snapshot copies the state. At most limit recent records are included;
// limit <= 0 copies the whole ring.
func (s *State) Snapshot(limit int) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.count
	if limit > 0 && limit < n {
		n = limit
	}
	recent := make([]core.AnalyzedRecord, n)
	start := s.head - n
	if start < 0 {
		start += len(s.ring)
	}
	for i := range recent {
		recent[i] = s.ring[(start+i)%len(s.ring)]
	}

	return Snapshot{
		Target:    s.target,
		Capturing: s.capturing,
		Packets:   s.packets,
		Records:   s.records,
		Message:   s.message,
		Fatal:     s.fatal,
		Recent:    recent,
	}
}

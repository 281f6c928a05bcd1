package pipeline

import (
	"sync/atomic"
)

// Metrics contains per-pipeline counters. They are written by the
// pipeline goroutine and may be read from any goroutine.
type Metrics struct {
	Received     atomic.Uint64
	Decoded      atomic.Uint64 // Frames with a valid IPv4 header
	DecodeErrors atomic.Uint64
	NonTCP       atomic.Uint64
	Pending      atomic.Uint64 // Fragments held for reassembly
	Untracked    atomic.Uint64 // Segments of flows never opened by a SYN
	Dropped      atomic.Uint64 // Rejected by reassembly or stream table limits
	Emitted      atomic.Uint64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Reset resets all counters to zero.
func (m *Metrics) Reset() {
	m.Received.Store(0)
	m.Decoded.Store(0)
	m.DecodeErrors.Store(0)
	m.NonTCP.Store(0)
	m.Pending.Store(0)
	m.Untracked.Store(0)
	m.Dropped.Store(0)
	m.Emitted.Store(0)
}

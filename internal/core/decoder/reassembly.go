package decoder

import (
	"fmt"
	"slices"
	"time"

	"firestige.xyz/flowscope/internal/core"
	"firestige.xyz/flowscope/internal/metrics"
)

// Reassembly limits from RFC 791.
const (
	ipv4MaxSize       = 65535 // Maximum IPv4 datagram size
	ipv4MaxFragOffset = 8183  // Maximum valid fragment offset (in 8-byte units)

	defaultReassemblyTimeout = 30 * time.Second
	defaultMaxFragments      = 100
)

// ReassemblyConfig contains configuration for IP reassembly.
type ReassemblyConfig struct {
	Timeout         time.Duration // Age after which an incomplete set is dropped (default 30s)
	MaxFragments    int           // Maximum fragments per set (default 100)
	MaxDatagramSize int           // Maximum reassembled size (default 65535)
	MaxFragsPerIP   int           // Per-source fragment limit per window (0 = disabled)
	RateLimitWindow time.Duration // Rate limit window (default 10s)
}

// fragmentKey uniquely identifies a fragmented IPv4 datagram.
// Uses fixed-size arrays to avoid string allocation in the hot path.
type fragmentKey struct {
	srcIP    [4]byte
	dstIP    [4]byte
	protocol uint8
	id       uint16
}

// fragmentSet holds the fragments received so far for one datagram.
type fragmentSet struct {
	frags     map[int][]byte // byte offset -> payload copy; a repeated offset overwrites
	finalSeen bool           // the MF=0 fragment arrived
	end       int            // declared datagram payload size, valid once finalSeen
	lastSeen  time.Time
}

// Reassembler buffers IPv4 fragments until a datagram is complete.
// It is owned by a single pipeline and is not safe for concurrent use.
type Reassembler struct {
	sets        map[fragmentKey]*fragmentSet
	config      ReassemblyConfig
	rateLimiter *FragmentRateLimiter // nil if rate limiting disabled
}

// NewReassembler creates a new IP fragment reassembler.
func NewReassembler(cfg ReassemblyConfig) *Reassembler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultReassemblyTimeout
	}
	if cfg.MaxFragments <= 0 {
		cfg.MaxFragments = defaultMaxFragments
	}
	if cfg.MaxDatagramSize <= 0 || cfg.MaxDatagramSize > ipv4MaxSize {
		cfg.MaxDatagramSize = ipv4MaxSize
	}

	return &Reassembler{
		sets:   make(map[fragmentKey]*fragmentSet),
		config: cfg,
		rateLimiter: NewFragmentRateLimiter(FragmentRateLimiterConfig{
			MaxFragsPerIP:   cfg.MaxFragsPerIP,
			RateLimitWindow: cfg.RateLimitWindow,
		}),
	}
}

// Process feeds one IPv4 payload into the reassembler.
// Returns:
//   - Non-fragmented packet: (payload, true, nil), no state touched
//   - Fragment not yet complete: (nil, false, nil)
//   - Fragment completed the datagram: (reassembled, true, nil)
//   - Limit violated: (nil, false, err), the set is dropped
func (r *Reassembler) Process(ip core.IPHeader, payload []byte, now time.Time) ([]byte, bool, error) {
	if !ip.IsFragment() {
		return payload, true, nil
	}

	offset := ip.FragmentOffset()
	if err := r.securityChecks(offset, len(payload)); err != nil {
		return nil, false, err
	}

	key := fragmentKey{
		srcIP:    ip.SrcIP.As4(),
		dstIP:    ip.DstIP.As4(),
		protocol: ip.Protocol,
		id:       ip.ID,
	}

	if r.rateLimiter != nil && !r.rateLimiter.Allow(key.srcIP, now) {
		return nil, false, fmt.Errorf("fragment rate exceeded for %s: %w", ip.SrcIP, core.ErrReassemblyLimit)
	}

	set, exists := r.sets[key]
	if !exists {
		set = &fragmentSet{frags: make(map[int][]byte)}
		r.sets[key] = set
		metrics.ReassemblyActiveSets.Inc()
	}

	if _, dup := set.frags[offset]; !dup && len(set.frags) >= r.config.MaxFragments {
		r.evict(key)
		metrics.ReassemblyLimitTotal.Inc()
		return nil, false, fmt.Errorf("fragment count exceeded %d: %w", r.config.MaxFragments, core.ErrReassemblyLimit)
	}

	// The capture buffer may be reused for the next frame
	set.frags[offset] = slices.Clone(payload)
	set.lastSeen = now

	if !ip.MoreFragments() {
		set.finalSeen = true
		set.end = offset + len(payload)
	}

	data, complete := set.assemble()
	if !complete {
		return nil, false, nil
	}
	r.evict(key)
	return data, true, nil
}

// securityChecks validates fragment parameters to prevent attacks.
func (r *Reassembler) securityChecks(offset, size int) error {
	if size == 0 {
		return fmt.Errorf("empty fragment at offset %d: %w", offset, core.ErrPacketTooShort)
	}
	if offset/8 > ipv4MaxFragOffset {
		metrics.ReassemblyLimitTotal.Inc()
		return fmt.Errorf("fragment offset too large: %d: %w", offset, core.ErrReassemblyLimit)
	}
	if end := offset + size; end > r.config.MaxDatagramSize {
		metrics.ReassemblyLimitTotal.Inc()
		return fmt.Errorf("fragment would exceed max datagram size: offset=%d size=%d: %w",
			offset, size, core.ErrReassemblyLimit)
	}
	return nil
}

// assemble returns the datagram payload if the set covers [0, end) without gaps.
// Overlapping fragments are written in offset order, so later offsets overwrite shared bytes.
func (s *fragmentSet) assemble() ([]byte, bool) {
	if !s.finalSeen {
		return nil, false
	}

	offsets := make([]int, 0, len(s.frags))
	for off := range s.frags {
		offsets = append(offsets, off)
	}
	slices.Sort(offsets)

	if len(offsets) == 0 || offsets[0] != 0 {
		return nil, false
	}
	covered := 0
	for _, off := range offsets {
		if off > covered {
			return nil, false // gap
		}
		covered = max(covered, off+len(s.frags[off]))
	}
	if covered < s.end {
		return nil, false
	}

	data := make([]byte, s.end)
	for _, off := range offsets {
		if off >= s.end {
			break
		}
		copy(data[off:], s.frags[off])
	}
	return data, true
}

// evict removes a set and decrements the metric.
func (r *Reassembler) evict(key fragmentKey) {
	if _, exists := r.sets[key]; exists {
		delete(r.sets, key)
		metrics.ReassemblyActiveSets.Dec()
	}
}

// Cleanup drops every set not updated within the timeout and returns how many were dropped.
func (r *Reassembler) Cleanup(now time.Time) int {
	expired := 0
	for key, set := range r.sets {
		if now.Sub(set.lastSeen) > r.config.Timeout {
			r.evict(key)
			expired++
		}
	}
	if expired > 0 {
		metrics.ReassemblyExpiredTotal.Add(float64(expired))
	}
	return expired
}

// Len returns the number of incomplete datagrams being held.
func (r *Reassembler) Len() int {
	return len(r.sets)
}

// RateLimited returns the number of fragments rejected by the per-source limiter.
func (r *Reassembler) RateLimited() int64 {
	if r.rateLimiter == nil {
		return 0
	}
	return r.rateLimiter.Rejected()
}

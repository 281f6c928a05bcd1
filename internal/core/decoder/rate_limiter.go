package decoder

import "time"

// FragmentRateLimiter caps the number of fragments accepted per source IP within a fixed window,
// so a fragment flood from one host cannot fill the reassembly table.
type FragmentRateLimiter struct {
	counts       map[[4]byte]int64 // source IP -> fragments in current window
	windowStart  time.Time
	windowSize   time.Duration
	maxPerWindow int64

	rejected int64
}

// FragmentRateLimiterConfig configures per-IP fragment rate limiting.
type FragmentRateLimiterConfig struct {
	MaxFragsPerIP   int           // Max fragments per source IP per window (0 = disabled)
	RateLimitWindow time.Duration // Window size (default 10s)
}

// NewFragmentRateLimiter creates a rate limiter. Returns nil if disabled (MaxFragsPerIP <= 0).
func NewFragmentRateLimiter(cfg FragmentRateLimiterConfig) *FragmentRateLimiter {
	if cfg.MaxFragsPerIP <= 0 {
		return nil
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = 10 * time.Second
	}
	return &FragmentRateLimiter{
		counts:       make(map[[4]byte]int64),
		windowSize:   cfg.RateLimitWindow,
		maxPerWindow: int64(cfg.MaxFragsPerIP),
	}
}

// Allow reports whether a fragment from srcIP observed at now is within the limit.
func (l *FragmentRateLimiter) Allow(srcIP [4]byte, now time.Time) bool {
	// Window starts at the first fragment seen, then rotates
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.windowSize {
		clear(l.counts)
		l.windowStart = now
	}

	l.counts[srcIP]++
	if l.counts[srcIP] > l.maxPerWindow {
		l.rejected++
		return false
	}
	return true
}

// Rejected returns the total number of rejected fragments.
func (l *FragmentRateLimiter) Rejected() int64 {
	return l.rejected
}

// ActiveIPs returns the number of distinct source IPs in the current window.
func (l *FragmentRateLimiter) ActiveIPs() int {
	return len(l.counts)
}

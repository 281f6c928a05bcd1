package stream

import (
	"fmt"
	"net/netip"
	"time"

	"firestige.xyz/flowscope/internal/core"
	"firestige.xyz/flowscope/internal/core/decoder"
	"firestige.xyz/flowscope/internal/metrics"
)

// Key identifies a connection by the direction of its opening SYN.
type Key struct {
	SrcIP   netip.Addr
	SrcPort uint16
	DstIP   netip.Addr
	DstPort uint16
}

// Reverse returns the key of the opposite direction.
func (k Key) Reverse() Key {
	return Key{SrcIP: k.DstIP, SrcPort: k.DstPort, DstIP: k.SrcIP, DstPort: k.SrcPort}
}

// String formats the key as "src:port-dst:port".
func (k Key) String() string {
	return netip.AddrPortFrom(k.SrcIP, k.SrcPort).String() + "-" +
		netip.AddrPortFrom(k.DstIP, k.DstPort).String()
}

// TableConfig bounds the stream table.
type TableConfig struct {
	RetentionTimeout time.Duration // Idle time after which any stream is reclaimed (default 300s)
	HandshakeTimeout time.Duration // Idle time after which a never-established stream is reclaimed (default RetentionTimeout)
	TimeWaitTimeout  time.Duration // Idle time in TimeWait before Closed (default 120s)
	MaxStreams       int           // Maximum tracked streams (default 65536)
	MaxBufferBytes   int           // Per-direction reconstruction buffer cap (0 = unlimited)
	ResetCloses      bool          // RST moves any state to Closed and drops the stream (default off)
}

// DefaultTableConfig returns the table defaults.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		RetentionTimeout: 300 * time.Second,
		HandshakeTimeout: 300 * time.Second,
		TimeWaitTimeout:  120 * time.Second,
		MaxStreams:       65536,
		MaxBufferBytes:   1 << 20,
	}
}

// Result describes what Dispatch did with a segment.
type Result struct {
	Stream     *Stream // nil when the segment belongs to no tracked stream
	Key        Key     // Stored key of the stream
	FromClient bool
	State      State // State after the update
	Created    bool
	Removed    bool // Stream reached Closed and was dropped from the table
}

// Table maps connections to streams. A connection is stored once, under the
// key of its first SYN, and looked up from either direction.
// Not safe for concurrent use.
type Table struct {
	streams map[Key]*Stream
	config  TableConfig
}

// NewTable creates a stream table. Zero durations and MaxStreams take defaults.
func NewTable(cfg TableConfig) *Table {
	def := DefaultTableConfig()
	if cfg.RetentionTimeout <= 0 {
		cfg.RetentionTimeout = def.RetentionTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = cfg.RetentionTimeout
	}
	if cfg.TimeWaitTimeout <= 0 {
		cfg.TimeWaitTimeout = def.TimeWaitTimeout
	}
	if cfg.MaxStreams <= 0 {
		cfg.MaxStreams = def.MaxStreams
	}
	return &Table{
		streams: make(map[Key]*Stream),
		config:  cfg,
	}
}

// Dispatch routes one TCP segment to its stream, creating the stream on an
// unseen SYN. Segments of unknown flows without SYN are ignored.
// options is the raw TCP option block, used for MSS announcements.
func (t *Table) Dispatch(ip core.IPHeader, tcp core.TCPHeader, options, payload []byte, now time.Time) (Result, error) {
	fwd := Key{SrcIP: ip.SrcIP, SrcPort: tcp.SrcPort, DstIP: ip.DstIP, DstPort: tcp.DstPort}
	syn := tcp.Flags&core.TCPFlagSYN != 0

	res := Result{}
	if s, ok := t.streams[fwd]; ok {
		res.Stream, res.Key, res.FromClient = s, fwd, true
	} else if s, ok := t.streams[fwd.Reverse()]; ok {
		res.Stream, res.Key = s, fwd.Reverse()
		if syn {
			s.setMSS(false, announcedMSS(options))
		}
	} else {
		if !syn {
			return res, nil
		}
		if len(t.streams) >= t.config.MaxStreams {
			metrics.StreamsRejectedTotal.Inc()
			return res, fmt.Errorf("stream %s: %w", fwd, core.ErrStreamTableFull)
		}
		s := newStream(fwd, now, t.config.MaxBufferBytes, t.config.TimeWaitTimeout, t.config.ResetCloses)
		s.setMSS(true, announcedMSS(options))
		t.streams[fwd] = s
		metrics.StreamsCreatedTotal.Inc()
		metrics.StreamsActive.Inc()
		res.Stream, res.Key, res.FromClient, res.Created = s, fwd, true, true
	}

	res.State = res.Stream.Update(now, res.FromClient, Segment{
		Seq:     tcp.Seq,
		Ack:     tcp.Ack,
		Flags:   tcp.Flags,
		Window:  tcp.Window,
		Payload: payload,
	})
	if res.State == StateClosed {
		t.remove(res.Key, "closed")
		res.Removed = true
	}
	return res, nil
}

// announcedMSS returns the MSS option value, or 0 if absent.
func announcedMSS(options []byte) uint16 {
	mss, _ := decoder.ParseTCPOptions(options)
	return mss
}

// Sweep closes expired TimeWait streams and reclaims idle ones.
// It returns the number of streams removed.
func (t *Table) Sweep(now time.Time) int {
	removed := 0
	for key, s := range t.streams {
		idle := now.Sub(s.lastActivity)
		switch {
		case s.timeWaitExpired(now):
			s.state = StateClosed
			t.remove(key, "time_wait")
		case !s.established && idle > t.config.HandshakeTimeout:
			t.remove(key, "handshake")
		case idle > t.config.RetentionTimeout:
			t.remove(key, "idle")
		default:
			continue
		}
		removed++
	}
	return removed
}

func (t *Table) remove(key Key, reason string) {
	if _, ok := t.streams[key]; !ok {
		return
	}
	delete(t.streams, key)
	metrics.StreamsActive.Dec()
	metrics.StreamsRemovedTotal.WithLabelValues(reason).Inc()
}

// Lookup returns the stream for a packet travelling in either direction of key.
func (t *Table) Lookup(key Key) (*Stream, bool) {
	if s, ok := t.streams[key]; ok {
		return s, true
	}
	s, ok := t.streams[key.Reverse()]
	return s, ok
}

// Len returns the number of tracked streams.
func (t *Table) Len() int {
	return len(t.streams)
}

package stream

import (
	"time"

	"firestige.xyz/flowscope/internal/core"
)

const (
	// DefaultMSS is assumed when a peer never announces one.
	DefaultMSS uint16 = 1460

	// initialWindowSegments is the RFC 6928 initial congestion window in segments.
	initialWindowSegments = 10
)

// Segment is the part of a TCP segment the state machine consumes.
type Segment struct {
	Seq     uint32
	Ack     uint32
	Flags   uint8
	Window  uint16
	Payload []byte
}

// Endpoint is a read-only view of one direction of a stream.
type Endpoint struct {
	ISN       uint32 // Initial sequence number, valid once a SYN was seen
	Next      uint32 // Next expected sequence number
	Window    uint16 // Last advertised window
	MSS       uint16
	Cwnd      uint32 // Congestion window bookkeeping, never enforced
	Buffered  int    // Bytes held in the reconstruction buffer
	Truncated int    // In-order bytes not stored because the buffer was full
}

// endpoint holds per-direction sequence tracking.
type endpoint struct {
	isn    uint32
	next   uint32
	synced bool // next is meaningful

	una     uint32 // highest sequence acknowledged by the peer
	ackSeen bool

	window    uint16
	mss       uint16
	cwnd      uint32
	buf       []byte
	truncated int
}

func newEndpoint() endpoint {
	return endpoint{mss: DefaultMSS, cwnd: initialWindowSegments * uint32(DefaultMSS)}
}

func (e *endpoint) setMSS(mss uint16) {
	if mss == 0 {
		return
	}
	e.mss = mss
	if !e.ackSeen {
		e.cwnd = initialWindowSegments * uint32(mss)
	}
}

// send consumes a segment sent by this endpoint. Only data starting
// exactly at next is appended, anything else is left for the state machine.
func (e *endpoint) send(seg Segment, limit int) {
	seq := seg.Seq
	if seg.Flags&core.TCPFlagSYN != 0 {
		// SYN occupies one sequence number
		e.isn = seg.Seq
		e.next = seg.Seq + 1
		e.synced = true
		seq = seg.Seq + 1
	}

	if len(seg.Payload) == 0 || !e.synced || seq != e.next {
		return
	}

	data := seg.Payload
	if limit > 0 {
		room := max(limit-len(e.buf), 0)
		if len(data) > room {
			e.truncated += len(data) - room
			data = data[:room]
		}
	}
	e.buf = append(e.buf, data...)
	e.next += uint32(len(seg.Payload))
}

// acknowledged applies an ACK sent by the peer of this endpoint.
func (e *endpoint) acknowledged(ack uint32) {
	if !e.synced || seqAfter(ack, e.next) {
		e.next = ack
		e.synced = true
	}

	if !e.ackSeen {
		e.una = ack
		e.ackSeen = true
		return
	}
	if seqAfter(ack, e.una) {
		e.cwnd += min(ack-e.una, uint32(e.mss))
		e.una = ack
	}
}

func (e *endpoint) view() Endpoint {
	return Endpoint{
		ISN:       e.isn,
		Next:      e.next,
		Window:    e.window,
		MSS:       e.mss,
		Cwnd:      e.cwnd,
		Buffered:  len(e.buf),
		Truncated: e.truncated,
	}
}

// seqAfter reports whether a is after b in 32-bit modular sequence space.
func seqAfter(a, b uint32) bool {
	return int32(a-b) > 0
}

// Stream is one tracked TCP connection. It is owned by a Table and
// must not be used concurrently.
type Stream struct {
	key          Key
	state        State
	client       endpoint
	server       endpoint
	created      time.Time
	lastActivity time.Time
	established  bool // reached Established at least once

	maxBuffer       int
	timeWaitTimeout time.Duration
	resetCloses     bool
}

func newStream(key Key, now time.Time, maxBuffer int, timeWaitTimeout time.Duration, resetCloses bool) *Stream {
	return &Stream{
		key:             key,
		state:           StateSynSent,
		client:          newEndpoint(),
		server:          newEndpoint(),
		created:         now,
		lastActivity:    now,
		maxBuffer:       maxBuffer,
		timeWaitTimeout: timeWaitTimeout,
		resetCloses:     resetCloses,
	}
}

// Update applies one segment to the stream and returns the resulting state.
func (s *Stream) Update(now time.Time, fromClient bool, seg Segment) State {
	if s.timeWaitExpired(now) {
		s.state = StateClosed
		return s.state
	}
	s.lastActivity = now

	snd, rcv := &s.server, &s.client
	if fromClient {
		snd, rcv = &s.client, &s.server
	}

	snd.send(seg, s.maxBuffer)
	if seg.Flags&core.TCPFlagACK != 0 {
		rcv.acknowledged(seg.Ack)
	}
	snd.window = seg.Window

	if s.resetCloses && seg.Flags&core.TCPFlagRST != 0 {
		s.state = StateClosed
	} else {
		s.state = transition(s.state, seg.Flags)
	}
	if s.state == StateEstablished {
		s.established = true
	}
	return s.state
}

func (s *Stream) timeWaitExpired(now time.Time) bool {
	return s.state == StateTimeWait && now.Sub(s.lastActivity) >= s.timeWaitTimeout
}

func (s *Stream) setMSS(fromClient bool, mss uint16) {
	if fromClient {
		s.client.setMSS(mss)
	} else {
		s.server.setMSS(mss)
	}
}

// Key returns the key under which the stream is stored, oriented client to server.
func (s *Stream) Key() Key { return s.key }

// State returns the current connection state.
func (s *Stream) State() State { return s.state }

// Client returns a snapshot of the client direction.
func (s *Stream) Client() Endpoint { return s.client.view() }

// Server returns a snapshot of the server direction.
func (s *Stream) Server() Endpoint { return s.server.view() }

// Data returns the in-order bytes reconstructed for one direction.
// The slice is owned by the stream and is only valid until the next Update.
func (s *Stream) Data(fromClient bool) []byte {
	if fromClient {
		return s.client.buf
	}
	return s.server.buf
}

// Created returns the time of the SYN that opened the stream.
func (s *Stream) Created() time.Time { return s.created }

// LastActivity returns the time of the last update.
func (s *Stream) LastActivity() time.Time { return s.lastActivity }

// Established reports whether the handshake ever completed.
func (s *Stream) Established() bool { return s.established }

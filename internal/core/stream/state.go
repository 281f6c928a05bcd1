// Package stream tracks TCP connections and reconstructs their in-order byte streams.
package stream

import "firestige.xyz/flowscope/internal/core"

// State is the TCP connection state of a tracked stream.
type State uint8

const (
	StateListen State = iota
	StateSynSent
	StateSynReceived
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateCloseWait
	StateClosing
	StateLastAck
	StateTimeWait
	StateClosed
)

var stateNames = [...]string{
	StateListen:      "Listen",
	StateSynSent:     "SynSent",
	StateSynReceived: "SynReceived",
	StateEstablished: "Established",
	StateFinWait1:    "FinWait1",
	StateFinWait2:    "FinWait2",
	StateCloseWait:   "CloseWait",
	StateClosing:     "Closing",
	StateLastAck:     "LastAck",
	StateTimeWait:    "TimeWait",
	StateClosed:      "Closed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// transition applies one segment's flags to the current state.
// Flags that match no row leave the state unchanged.
func transition(from State, flags uint8) State {
	has := func(f uint8) bool { return flags&f == f }

	switch from {
	case StateListen:
		if has(core.TCPFlagSYN) {
			return StateSynReceived
		}
	case StateSynSent:
		if has(core.TCPFlagSYN | core.TCPFlagACK) {
			return StateEstablished
		}
	case StateSynReceived:
		if has(core.TCPFlagACK) {
			return StateEstablished
		}
	case StateEstablished:
		if has(core.TCPFlagFIN) {
			return StateFinWait1
		}
	case StateFinWait1:
		if has(core.TCPFlagFIN) {
			return StateFinWait2
		}
	case StateFinWait2:
		if has(core.TCPFlagACK) {
			return StateTimeWait
		}
	case StateCloseWait:
		if has(core.TCPFlagFIN) {
			return StateLastAck
		}
	case StateLastAck:
		if has(core.TCPFlagACK) {
			return StateClosed
		}
	}
	return from
}

// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors. Callers wrap them with fmt.Errorf("...: %w") and match with errors.Is.
var (
	// Malformed input, always skipped by the pipeline
	ErrPacketTooShort   = errors.New("flowscope: packet too short")
	ErrUnsupportedProto = errors.New("flowscope: unsupported protocol")
	ErrNotTCP           = errors.New("flowscope: not a tcp segment")

	// Resource limits, counted but never fatal
	ErrReassemblyLimit = errors.New("flowscope: fragment reassembly limit exceeded")
	ErrStreamTableFull = errors.New("flowscope: stream table full")

	// Capture collaborator
	ErrCaptureTimeout = errors.New("flowscope: capture read timeout")
	ErrCaptureClosed  = errors.New("flowscope: capture handle closed")
	ErrNoTarget       = errors.New("flowscope: no capture target selected")

	// Sink collaborator
	ErrSinkClosed = errors.New("flowscope: sink closed")

	// Configuration errors
	ErrConfigInvalid = errors.New("flowscope: invalid configuration")
)

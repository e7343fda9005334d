package channel

import (
	"errors"
	"fmt"
)

// Sentinel errors classifying transport failures. Match them with errors.Is.
var (
	// ErrTransportInit: the region or a signal could not be created or
	// opened. Fatal at startup.
	ErrTransportInit = errors.New("channel: transport init failed")
	// ErrProtocolViolation: a received header is self-inconsistent. The
	// offending frame or packet is discarded.
	ErrProtocolViolation = errors.New("channel: protocol violation")
	// ErrTransportWrite: a payload does not fit its buffer or could not be
	// signalled. Nothing is partially written.
	ErrTransportWrite = errors.New("channel: transport write failed")
	// ErrWaitFailure: the blocking wait failed at the OS level.
	ErrWaitFailure = errors.New("channel: wait failed")
	// ErrTimeout: a bounded wait elapsed.
	ErrTimeout = errors.New("channel: timed out")
)

// OpError records which channel operation failed, the failure class, and
// the underlying cause.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v (%s)", e.Kind, e.Op)
	}
	return fmt.Sprintf("%v (%s): %v", e.Kind, e.Op, e.Err)
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func opErr(op string, kind, err error) error {
	return &OpError{Op: op, Kind: kind, Err: err}
}

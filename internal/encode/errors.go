package encode

import (
	"errors"
	"fmt"
)

var (
	// ErrCodecInit: the encoder could not be opened. Fatal at startup.
	ErrCodecInit = errors.New("encode: codec init failed")
	// ErrCodecEncode: a frame could not be converted or submitted. The frame
	// is dropped and the pipeline stays usable.
	ErrCodecEncode = errors.New("encode: encode failed")
	// ErrInvalidBitrate: SetBitrate was given a non-positive value.
	ErrInvalidBitrate = errors.New("encode: bitrate must be positive")
	// ErrClosed: the pipeline was used after Close.
	ErrClosed = errors.New("encode: pipeline closed")
)

// Error records the pipeline step that failed.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v (%s)", e.Kind, e.Op)
	}
	return fmt.Sprintf("%v (%s): %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

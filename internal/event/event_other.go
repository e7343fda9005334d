//go:build !linux && !windows

package event

import (
	"errors"
	"fmt"
	"runtime"
	"time"
)

// Event is unavailable on this platform.
type Event struct{}

// OpenOrCreate always fails on this platform.
func OpenOrCreate(opts Options) (*Event, error) {
	return nil, fmt.Errorf("event: %s: %w", runtime.GOOS, errors.ErrUnsupported)
}

// Open always fails on this platform.
func Open(opts Options) (*Event, error) {
	return nil, fmt.Errorf("event: %s: %w", runtime.GOOS, errors.ErrUnsupported)
}

func (e *Event) Mode() Mode                       { return 0 }
func (e *Event) Set() error                       { return errors.ErrUnsupported }
func (e *Event) Reset() error                     { return errors.ErrUnsupported }
func (e *Event) Wait(timeout time.Duration) error { return errors.ErrUnsupported }
func (e *Event) Close() error                     { return nil }

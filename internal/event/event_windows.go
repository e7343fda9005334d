//go:build windows

package event

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"golang.org/x/sys/windows"
)

const waitTimeout = 0x00000102

// Event is a named kernel event object.
type Event struct {
	handle windows.Handle
	mode   Mode
}

// OpenOrCreate attaches to the named event, creating it unsignalled when it
// does not exist yet.
func OpenOrCreate(opts Options) (*Event, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	name, err := windows.UTF16PtrFromString(opts.Name)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", opts.Name, err)
	}
	var manual uint32
	if opts.Mode == ManualReset {
		manual = 1
	}
	// An existing event comes back as a valid handle with ERROR_ALREADY_EXISTS.
	h, err := windows.CreateEvent(nil, manual, 0, name)
	if err != nil && !errors.Is(err, windows.ERROR_ALREADY_EXISTS) {
		return nil, fmt.Errorf("event %s: create: %w", opts.Name, err)
	}
	return &Event{handle: h, mode: opts.Mode}, nil
}

// Open attaches to an existing event. The error matches fs.ErrNotExist when
// nobody has created it. The reset mode is fixed by the creator and reported
// as opts.Mode.
func Open(opts Options) (*Event, error) {
	if opts.Name == "" {
		return nil, errors.New("event: empty name")
	}
	name, err := windows.UTF16PtrFromString(opts.Name)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", opts.Name, err)
	}
	h, err := windows.OpenEvent(windows.EVENT_ALL_ACCESS, false, name)
	if err != nil {
		if errors.Is(err, windows.ERROR_FILE_NOT_FOUND) {
			err = fs.ErrNotExist
		}
		return nil, fmt.Errorf("event %s: open: %w", opts.Name, err)
	}
	return &Event{handle: h, mode: opts.Mode}, nil
}

// Mode reports the reset behaviour this handle was opened with.
func (e *Event) Mode() Mode { return e.mode }

// Set signals the event.
func (e *Event) Set() error {
	return windows.SetEvent(e.handle)
}

// Reset clears the signalled state.
func (e *Event) Reset() error {
	return windows.ResetEvent(e.handle)
}

// Wait blocks until the event is signalled or timeout elapses. A negative
// timeout (Infinite) never times out.
func (e *Event) Wait(timeout time.Duration) error {
	ms := uint32(windows.INFINITE)
	if timeout >= 0 {
		ms = uint32(timeout.Milliseconds())
	}
	r, err := windows.WaitForSingleObject(e.handle, ms)
	switch r {
	case windows.WAIT_OBJECT_0:
		return nil
	case waitTimeout:
		return ErrTimeout
	}
	if err == nil {
		err = fmt.Errorf("unexpected wait result %#x", r)
	}
	return fmt.Errorf("event: wait: %w", err)
}

// Close releases the handle.
func (e *Event) Close() error {
	return windows.CloseHandle(e.handle)
}

// Package event provides named, cross-process wait/signal objects with the
// two reset behaviours the encoder protocol relies on:
//
//   - AutoReset: a successful Wait consumes the signal, so each Set releases
//     exactly one Wait.
//   - ManualReset: once Set, every Wait returns immediately until Reset.
//
// On Windows these are kernel event objects. On Linux an event is a 32-bit
// futex word stored in a small named shared memory region; the reset mode is
// recorded next to it by the creator so every opener observes the same
// semantics.
package event

import (
	"errors"
	"fmt"
	"time"
)

// Infinite makes Wait block until the event is signalled.
const Infinite time.Duration = -1

// ErrTimeout is returned by Wait when the timeout elapses first.
var ErrTimeout = errors.New("event: wait timed out")

// Mode selects the reset behaviour of an event.
type Mode uint32

const (
	AutoReset   Mode = 1
	ManualReset Mode = 2
)

func (m Mode) String() string {
	switch m {
	case AutoReset:
		return "auto-reset"
	case ManualReset:
		return "manual-reset"
	}
	return fmt.Sprintf("mode(%d)", uint32(m))
}

// Options identifies an event.
type Options struct {
	Name string
	// Mode applies when the event is created; openers inherit the creator's.
	Mode Mode
	// Dir is the Linux directory backing the futex word. Ignored elsewhere.
	Dir string
}

func (o Options) validate() error {
	if o.Name == "" {
		return errors.New("event: empty name")
	}
	if o.Mode != AutoReset && o.Mode != ManualReset {
		return fmt.Errorf("event: invalid mode %d", uint32(o.Mode))
	}
	return nil
}

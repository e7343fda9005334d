package event

import (
	"sync"
	"time"
)

// Local is an in-process event with the same reset semantics as the named
// kind. It lets a producer and a worker share a channel inside one process.
type Local struct {
	mode Mode

	mu       sync.Mutex
	signaled bool
	wake     chan struct{}
}

// NewLocal returns an unsignalled in-process event.
func NewLocal(mode Mode) *Local {
	return &Local{mode: mode, wake: make(chan struct{})}
}

// Mode reports the reset behaviour.
func (l *Local) Mode() Mode { return l.mode }

// Set signals the event.
func (l *Local) Set() error {
	l.mu.Lock()
	l.signaled = true
	close(l.wake)
	l.wake = make(chan struct{})
	l.mu.Unlock()
	return nil
}

// Reset clears the signalled state.
func (l *Local) Reset() error {
	l.mu.Lock()
	l.signaled = false
	l.mu.Unlock()
	return nil
}

// Wait blocks until the event is signalled or timeout elapses.
func (l *Local) Wait(timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	for {
		l.mu.Lock()
		if l.signaled {
			if l.mode == AutoReset {
				l.signaled = false
			}
			l.mu.Unlock()
			return nil
		}
		wake := l.wake
		l.mu.Unlock()

		select {
		case <-wake:
		case <-expired:
			return ErrTimeout
		}
	}
}

// Close is a no-op.
func (l *Local) Close() error { return nil }

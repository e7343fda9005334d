//go:build linux

package event

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/zsiec/encbridge/internal/shm"
)

const (
	futexWaitOp = 0
	futexWakeOp = 1

	// word 0 is the signalled state, word 1 the creator's Mode.
	wordSize  = 4
	eventSize = 2 * wordSize
)

// Event is a named futex-backed event.
type Event struct {
	region *shm.Region
	state  *uint32
	mode   Mode
}

// OpenOrCreate attaches to the named event, creating it unsignalled when it
// does not exist yet.
func OpenOrCreate(opts Options) (*Event, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	r, err := shm.OpenOrCreate(shm.Options{Name: opts.Name, Size: eventSize, Dir: opts.Dir})
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", opts.Name, err)
	}
	e := newEvent(r)
	modeWord := e.modeWord()
	if !atomic.CompareAndSwapUint32(modeWord, 0, uint32(opts.Mode)) {
		e.mode = Mode(atomic.LoadUint32(modeWord))
	} else {
		e.mode = opts.Mode
	}
	return e, nil
}

// Open attaches to an existing event. The error matches fs.ErrNotExist when
// nobody has created it.
func Open(opts Options) (*Event, error) {
	if opts.Name == "" {
		return nil, errors.New("event: empty name")
	}
	r, err := shm.Open(shm.Options{Name: opts.Name, Size: eventSize, Dir: opts.Dir})
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", opts.Name, err)
	}
	e := newEvent(r)
	e.mode = Mode(atomic.LoadUint32(e.modeWord()))
	if e.mode != AutoReset && e.mode != ManualReset {
		_ = r.Close()
		return nil, fmt.Errorf("event %s: not initialised (mode %d)", opts.Name, uint32(e.mode))
	}
	return e, nil
}

func newEvent(r *shm.Region) *Event {
	b := r.Bytes()
	return &Event{
		region: r,
		state:  (*uint32)(unsafe.Pointer(&b[0])),
	}
}

func (e *Event) modeWord() *uint32 {
	return (*uint32)(unsafe.Pointer(&e.region.Bytes()[wordSize]))
}

// Mode reports the reset behaviour in effect.
func (e *Event) Mode() Mode { return e.mode }

// Set signals the event, waking one waiter (AutoReset) or all of them
// (ManualReset).
func (e *Event) Set() error {
	atomic.StoreUint32(e.state, 1)
	n := 1
	if e.mode == ManualReset {
		n = math.MaxInt32
	}
	return futexWake(e.state, n)
}

// Reset clears the signalled state.
func (e *Event) Reset() error {
	atomic.StoreUint32(e.state, 0)
	return nil
}

// Wait blocks until the event is signalled or timeout elapses. A negative
// timeout (Infinite) never times out; zero polls once.
func (e *Event) Wait(timeout time.Duration) error {
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if e.tryAcquire() {
			return nil
		}
		remaining := Infinite
		if timeout >= 0 {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return ErrTimeout
			}
		}
		err := futexWait(e.state, 0, remaining)
		switch {
		case err == nil,
			errors.Is(err, unix.EAGAIN),
			errors.Is(err, unix.EINTR),
			errors.Is(err, unix.ETIMEDOUT):
			continue
		default:
			return fmt.Errorf("event: futex wait: %w", err)
		}
	}
}

func (e *Event) tryAcquire() bool {
	if e.mode == ManualReset {
		return atomic.LoadUint32(e.state) == 1
	}
	return atomic.CompareAndSwapUint32(e.state, 1, 0)
}

// Close releases the mapping; the creator also removes the named object.
func (e *Event) Close() error {
	return e.region.Close()
}

func futexWait(addr *uint32, val uint32, timeout time.Duration) error {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)), futexWaitOp, uintptr(val),
		uintptr(unsafe.Pointer(ts)), 0, 0)
	runtime.KeepAlive(ts)
	if errno != 0 {
		return errno
	}
	return nil
}

func futexWake(addr *uint32, n int) error {
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)), futexWakeOp, uintptr(n), 0, 0, 0)
	if errno != 0 {
		return fmt.Errorf("event: futex wake: %w", errno)
	}
	return nil
}

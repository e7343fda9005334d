//go:build !linux && !windows

package shm

import (
	"errors"
	"fmt"
	"runtime"
)

// Region is unavailable on this platform.
type Region struct{}

// OpenOrCreate always fails on this platform.
func OpenOrCreate(opts Options) (*Region, error) {
	return nil, fmt.Errorf("shm: %s: %w", runtime.GOOS, errors.ErrUnsupported)
}

// Open always fails on this platform.
func Open(opts Options) (*Region, error) {
	return nil, fmt.Errorf("shm: %s: %w", runtime.GOOS, errors.ErrUnsupported)
}

func (r *Region) Bytes() []byte { return nil }
func (r *Region) Name() string  { return "" }
func (r *Region) Created() bool { return false }
func (r *Region) Close() error  { return nil }

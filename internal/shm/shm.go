// Package shm maps named shared memory regions that two processes can attach
// to by name. On Linux a region is a file under a tmpfs directory (normally
// /dev/shm) mapped with MAP_SHARED; on Windows it is a pagefile-backed
// file mapping object.
package shm

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultDir is where Linux regions live unless Options.Dir says otherwise.
const DefaultDir = "/dev/shm"

// ErrTooSmall is returned by Open when the existing region is smaller than
// requested, typically because its creator has not finished sizing it.
var ErrTooSmall = errors.New("shm: region smaller than requested size")

// Options identifies a region.
type Options struct {
	// Name is the cross-process identifier of the region.
	Name string
	// Size is the number of bytes to map.
	Size int
	// Dir overrides DefaultDir on Linux. Ignored elsewhere.
	Dir string
}

func (o Options) validate() error {
	if o.Name == "" {
		return errors.New("shm: empty region name")
	}
	if o.Size <= 0 {
		return fmt.Errorf("shm: invalid size %d", o.Size)
	}
	return nil
}

// fileName turns a region name into a single path element.
func fileName(name string) string {
	return strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(name)
}

//go:build linux

package shm

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Region is a mapped shared memory region.
type Region struct {
	name    string
	path    string
	data    []byte
	created bool
}

// OpenOrCreate attaches to the named region, creating and sizing it when it
// does not exist yet. An existing region shorter than opts.Size is grown.
func OpenOrCreate(opts Options) (*Region, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	path := regionPath(opts)

	created := true
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, fs.ErrExist) {
		created = false
		f, err = os.OpenFile(path, os.O_RDWR, 0)
	}
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("shm: stat %s: %w", path, err)
	}
	if info.Size() < int64(opts.Size) {
		if err := f.Truncate(int64(opts.Size)); err != nil {
			if created {
				_ = os.Remove(path)
			}
			return nil, fmt.Errorf("shm: size %s to %d: %w", path, opts.Size, err)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, opts.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		if created {
			_ = os.Remove(path)
		}
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}

	return &Region{name: opts.Name, path: path, data: data, created: created}, nil
}

// Open attaches to an existing region. It fails with an error matching
// fs.ErrNotExist when the region has not been created, and ErrTooSmall when
// it is shorter than opts.Size.
func Open(opts Options) (*Region, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	path := regionPath(opts)

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("shm: stat %s: %w", path, err)
	}
	if info.Size() < int64(opts.Size) {
		return nil, fmt.Errorf("%w: %s is %d bytes, want %d", ErrTooSmall, path, info.Size(), opts.Size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, opts.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}
	return &Region{name: opts.Name, path: path, data: data}, nil
}

// Bytes returns the mapped memory. It is invalid after Close.
func (r *Region) Bytes() []byte { return r.data }

// Name returns the region's cross-process name.
func (r *Region) Name() string { return r.name }

// Created reports whether this handle created the region.
func (r *Region) Created() bool { return r.created }

// Close unmaps the region. The creating side also unlinks it so no stale
// region outlives the session.
func (r *Region) Close() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	if r.created {
		if rmErr := os.Remove(r.path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			err = errors.Join(err, rmErr)
		}
	}
	return err
}

func regionPath(opts Options) string {
	dir := opts.Dir
	if dir == "" {
		dir = DefaultDir
	}
	return filepath.Join(dir, fileName(opts.Name))
}

//go:build windows

package shm

import (
	"errors"
	"fmt"
	"io/fs"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modkernel32          = windows.NewLazySystemDLL("kernel32.dll")
	procOpenFileMappingW = modkernel32.NewProc("OpenFileMappingW")
)

// Region is a mapped shared memory region.
type Region struct {
	name    string
	handle  windows.Handle
	addr    uintptr
	data    []byte
	created bool
}

// OpenOrCreate attaches to the named file mapping, creating it when it does
// not exist yet.
func OpenOrCreate(opts Options) (*Region, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	name, err := windows.UTF16PtrFromString(opts.Name)
	if err != nil {
		return nil, fmt.Errorf("shm: name %q: %w", opts.Name, err)
	}

	size := uint64(opts.Size)
	h, err := windows.CreateFileMapping(windows.InvalidHandle, nil, windows.PAGE_READWRITE,
		uint32(size>>32), uint32(size), name)
	created := true
	if errors.Is(err, windows.ERROR_ALREADY_EXISTS) {
		created = false
	} else if err != nil {
		return nil, fmt.Errorf("shm: create mapping %s: %w", opts.Name, err)
	}

	return mapView(opts, h, created)
}

// Open attaches to an existing file mapping. It fails with an error matching
// fs.ErrNotExist when the mapping has not been created.
func Open(opts Options) (*Region, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	name, err := windows.UTF16PtrFromString(opts.Name)
	if err != nil {
		return nil, fmt.Errorf("shm: name %q: %w", opts.Name, err)
	}

	r, _, callErr := procOpenFileMappingW.Call(
		uintptr(windows.FILE_MAP_READ|windows.FILE_MAP_WRITE),
		0,
		uintptr(unsafe.Pointer(name)),
	)
	if r == 0 {
		if callErr == windows.ERROR_FILE_NOT_FOUND {
			return nil, fmt.Errorf("shm: open mapping %s: %w", opts.Name, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("shm: open mapping %s: %w", opts.Name, callErr)
	}
	return mapView(opts, windows.Handle(r), false)
}

func mapView(opts Options, h windows.Handle, created bool) (*Region, error) {
	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, 0, uintptr(opts.Size))
	if err != nil {
		_ = windows.CloseHandle(h)
		return nil, fmt.Errorf("shm: map view %s: %w", opts.Name, err)
	}
	data := unsafe.Slice((*byte)(unsafe.Pointer(addr)), opts.Size)
	return &Region{name: opts.Name, handle: h, addr: addr, data: data, created: created}, nil
}

// Bytes returns the mapped memory. It is invalid after Close.
func (r *Region) Bytes() []byte { return r.data }

// Name returns the region's cross-process name.
func (r *Region) Name() string { return r.name }

// Created reports whether this handle created the mapping object.
func (r *Region) Created() bool { return r.created }

// Close unmaps the view and closes the mapping handle. The object itself is
// destroyed by the kernel once the last handle is gone.
func (r *Region) Close() error {
	if r.data == nil {
		return nil
	}
	r.data = nil
	err := windows.UnmapViewOfFile(r.addr)
	if cerr := windows.CloseHandle(r.handle); err == nil {
		err = cerr
	}
	return err
}

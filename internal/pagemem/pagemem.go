// Package pagemem acquires the raw memory regions that back allocator pages.
//
// On Unix the regions are anonymous private mappings, so untouched pages cost
// nothing until first write and release returns them to the OS immediately.
// Other platforms fall back to Go heap slices.
package pagemem

import (
	"errors"
	"fmt"
	"unsafe"
)

var (
	// ErrBadSize indicates a zero, negative or overflowing region size.
	ErrBadSize = errors.New("pagemem: bad region size")

	// ErrBadAlign indicates an alignment that is not a power of two.
	ErrBadAlign = errors.New("pagemem: alignment must be a power of two")
)

// Region is one contiguous block of acquired memory.
type Region struct {
	// Data is the usable, aligned view of the region.
	Data []byte

	raw      []byte // full acquisition, including alignment slack
	mapped   bool   // raw came from mmap and must be unmapped
	released bool
}

// Acquire returns a region of exactly size bytes whose first byte is aligned
// to align (0 means no requirement beyond the platform default).
func Acquire(size, align int) (*Region, error) {
	if size <= 0 {
		return nil, ErrBadSize
	}
	if align < 0 || (align != 0 && align&(align-1) != 0) {
		return nil, ErrBadAlign
	}

	slack := 0
	if align > naturalAlign() {
		slack = align
	}
	total := size + slack
	if total < size {
		return nil, ErrBadSize
	}

	raw, mapped, err := acquire(total)
	if err != nil {
		return nil, fmt.Errorf("pagemem: acquire %d bytes: %w", total, err)
	}

	off := 0
	if slack > 0 {
		base := uintptr(unsafe.Pointer(&raw[0]))
		off = int((uintptr(align) - base%uintptr(align)) % uintptr(align))
	}

	return &Region{
		Data:   raw[off : off+size : off+size],
		raw:    raw,
		mapped: mapped,
	}, nil
}

// Addr returns the address of the first usable byte.
func (r *Region) Addr() uintptr {
	return uintptr(unsafe.Pointer(&r.Data[0]))
}

// Len returns the usable size in bytes.
func (r *Region) Len() int { return len(r.Data) }

// Reserved returns the number of bytes actually acquired, including slack.
func (r *Region) Reserved() int { return len(r.raw) }

// Release returns the region to the system. Releasing twice is a no-op.
func (r *Region) Release() error {
	if r == nil || r.released {
		return nil
	}
	r.released = true
	raw := r.raw
	r.raw = nil
	r.Data = nil
	if !r.mapped {
		return nil
	}
	return release(raw)
}

package alloc

import "errors"

var (
	// ErrOutOfMemory indicates that the page table is full or page memory could
	// not be acquired. The allocator is left unchanged.
	ErrOutOfMemory = errors.New("alloc: out of memory")

	// ErrBadOptions indicates invalid construction parameters.
	ErrBadOptions = errors.New("alloc: bad options")
)

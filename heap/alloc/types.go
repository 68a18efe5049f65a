package alloc

import "fmt"

const (
	// DefaultInitialBlocks is the slot count of page 0 when Options.InitialBlocks is zero.
	DefaultInitialBlocks = 16

	// DefaultMaxPages is the page table capacity (number of generations).
	DefaultMaxPages = 32

	// maxPageBlocks bounds a single page so slot indexes fit the header and links.
	maxPageBlocks = 1 << 30
)

// Ref is the address of an allocated slot.
type Ref uintptr

func (r Ref) String() string { return fmt.Sprintf("%#x", uintptr(r)) }

// Options configures an Allocator.
type Options struct {
	// Name labels the allocator in logs and dumps.
	Name string

	// BlockSize is the slot size in bytes. It is raised to at least the
	// size of a free-list link (8 bytes).
	BlockSize int

	// InitialBlocks is the slot count of page 0, rounded up to a power of two.
	InitialBlocks int

	// Alignment is 0 or a power of two that every slot address honours.
	// BlockSize must be a multiple of it.
	Alignment int

	// MaxPages caps the number of pages (generations). Zero means DefaultMaxPages.
	MaxPages int

	// Debug enables the expensive consistency checks and poisons freed slots.
	Debug bool

	// NoZero skips clearing slots on allocation. Callers then own the
	// contents, except for the first word which freeing overwrites.
	NoZero bool
}

// Run is a maximal range of consecutive allocated slots in one page,
// reported by Walk. End is exclusive.
type Run struct {
	Page  int
	Start int
	End   int

	base      uintptr // address of slot 0
	blockSize int
}

// Len returns the number of slots in the run.
func (r Run) Len() int { return r.End - r.Start }

// Ref returns the handle of the i-th slot of the run.
func (r Run) Ref(i int) Ref {
	return Ref(r.base + uintptr((r.Start+i)*r.blockSize))
}

// PageInfo describes one materialized page.
type PageInfo struct {
	Index      int
	Generation int // as recorded in the page header
	Blocks     int
	Used       int
	Bytes      int
	Sorted     bool
	Base       uintptr
}

// allocatorStats holds internal allocator statistics.
type allocatorStats struct {
	AllocCalls    int // Total Alloc() calls
	AllocSlowPath int // Allocations that had to select or create a page
	FreeCalls     int // Total Free() calls
	FreeFastPath  int // Frees resolved by the lastFree cursor
	FreeSlowPath  int // Frees that scanned the page table
	PagesCreated  int
	PagesReleased int
	PageResets    int // Interior pages reset after becoming empty
	Sorts         int // Free-list sorts performed by Walk
	Walks         int
}

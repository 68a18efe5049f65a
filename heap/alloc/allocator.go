package alloc

import (
	"fmt"
	"log/slog"
	"os"
	"unsafe"

	"github.com/joshuapare/blockgc/heap/fault"
	"github.com/joshuapare/blockgc/internal/buf"
	"github.com/joshuapare/blockgc/internal/logger"
	"github.com/joshuapare/blockgc/internal/pagemem"
)

// Runtime tracing of every Alloc/Free - controlled by BLOCKGC_LOG_ALLOC env var.
var logAlloc = os.Getenv("BLOCKGC_LOG_ALLOC") != ""

// SetTracing turns per-operation debug logging on or off for every allocator.
func SetTracing(on bool) { logAlloc = on }

// poisonByte fills freed slots (after the link word) in debug mode.
const poisonByte = 0xDB

// Allocator is a fixed-size block allocator with geometrically growing pages.
//
// The zero value is not usable; create instances with New.
type Allocator struct {
	name string
	l    Layout // generation-0 layout

	pages    []*page
	alloc    int // page most recently allocated from
	lastFree int // page most recently freed into
	maxPages int

	debug   bool
	zero    bool
	walking bool

	// Scratch words for the free-list sort bitvector, reused across walks.
	scratch []uint64

	stats allocatorStats
}

// New creates an allocator and materializes its first page.
func New(opts Options) (*Allocator, error) {
	blockSize := max(opts.BlockSize, linkSize)

	align := opts.Alignment
	headerOffset := pageHeaderSize
	if align != 0 {
		if !buf.IsPow2(align) {
			return nil, fmt.Errorf("%w: alignment %d is not a power of two", ErrBadOptions, align)
		}
		if blockSize&(align-1) != 0 {
			return nil, fmt.Errorf("%w: block size %d is not a multiple of alignment %d",
				ErrBadOptions, blockSize, align)
		}
		headerOffset = buf.AlignUp(pageHeaderSize, align)
	}

	blocks := opts.InitialBlocks
	switch {
	case blocks < 0:
		return nil, fmt.Errorf("%w: negative initial block count %d", ErrBadOptions, blocks)
	case blocks == 0:
		blocks = DefaultInitialBlocks
	case blocks > maxPageBlocks:
		return nil, fmt.Errorf("%w: initial block count %d exceeds %d", ErrBadOptions, blocks, maxPageBlocks)
	}
	blocks = roundUpPow2(blocks)

	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	a := &Allocator{
		name: opts.Name,
		l: Layout{
			BlockSize:    blockSize,
			Blocks:       blocks,
			LastOffset:   blockSize * (blocks - 1),
			Alignment:    align,
			HeaderOffset: headerOffset,
		},
		maxPages: maxPages,
		debug:    opts.Debug,
		zero:     !opts.NoZero,
		pages:    make([]*page, 0, maxPages),
	}

	p, err := a.newPage(0)
	if err != nil {
		return nil, err
	}
	a.pages = append(a.pages, p)
	return a, nil
}

// roundUpPow2 returns the smallest power of two >= n (n > 0).
func roundUpPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Layout returns the generation-0 layout.
func (a *Allocator) Layout() Layout { return a.l }

// layoutAt returns the layout of page i.
func (a *Allocator) layoutAt(i int) Layout { return a.l.Grow(i) }

// PageCount returns the number of materialized pages.
func (a *Allocator) PageCount() int { return len(a.pages) }

// newPage acquires and initializes the page for generation i.
func (a *Allocator) newPage(i int) (*page, error) {
	if a.l.Blocks > maxPageBlocks>>i {
		return nil, fmt.Errorf("%w: page %d would exceed %d slots", ErrOutOfMemory, i, maxPageBlocks)
	}
	l := a.layoutAt(i)
	size, ok := buf.MulOverflowSafe(l.Blocks, l.BlockSize)
	if ok {
		size, ok = buf.AddOverflowSafe(size, l.HeaderOffset)
	}
	if !ok {
		return nil, fmt.Errorf("%w: page %d size overflows", ErrOutOfMemory, i)
	}

	r, err := pagemem.Acquire(size, l.Alignment)
	if err != nil {
		return nil, fmt.Errorf("%w: page %d (%d bytes): %w", ErrOutOfMemory, i, size, err)
	}

	p := newPageFromRegion(r, i)
	p.reset(&l)
	a.stats.PagesCreated++

	logger.Debug("alloc: page created", "allocator", a.name, "page", i,
		"blocks", l.Blocks, "bytes", size)
	return p, nil
}

// releasePage returns page i's memory to the system.
func (a *Allocator) releasePage(i int) {
	p := a.pages[i]
	a.pages[i] = nil
	a.stats.PagesReleased++
	if err := p.region.Release(); err != nil {
		logger.Warn("alloc: page release failed", "allocator", a.name, "page", i, "error", err)
	}
	logger.Debug("alloc: page released", "allocator", a.name, "page", i)
}

// freeEmptyPages releases the suffix of empty pages, newest first.
func (a *Allocator) freeEmptyPages() {
	i := len(a.pages) - 1
	for ; i >= 0; i-- {
		if a.pages[i].used() != 0 {
			break
		}
		a.releasePage(i)
	}
	a.pages = a.pages[:i+1]
	a.alloc = max(0, i)
	a.lastFree = a.alloc
}

// lowAlloc selects a page with a free slot, creating one when every page is full.
func (a *Allocator) lowAlloc() error {
	a.stats.AllocSlowPath++
	for i := len(a.pages) - 1; i >= 0; i-- {
		if a.pages[i].first() != noSlot {
			a.alloc = i
			return nil
		}
	}

	n := len(a.pages)
	if n >= a.maxPages {
		return fmt.Errorf("%w: page table full (%d pages)", ErrOutOfMemory, n)
	}
	p, err := a.newPage(n)
	if err != nil {
		return err
	}
	a.pages = append(a.pages, p)
	a.alloc = n
	return nil
}

// Alloc returns a free slot. It fails only with ErrOutOfMemory.
func (a *Allocator) Alloc() (Ref, error) {
	a.stats.AllocCalls++

	if a.debug && a.walking {
		fault.Raise("alloc", "allocator %q: Alloc during Walk", a.name)
	}

	var p *page
	if a.alloc < len(a.pages) {
		p = a.pages[a.alloc]
	}
	if p == nil || p.first() == noSlot {
		if err := a.lowAlloc(); err != nil {
			return 0, err
		}
		p = a.pages[a.alloc]
	}

	l := a.layoutAt(a.alloc)
	n := p.first()
	lk := p.link(&l, n)

	switch lk.kind {
	case linkLazy:
		next := n + 1
		p.setFirst(next)
		if next == l.Blocks-1 {
			p.setLink(&l, next, link{kind: linkEnd})
		} else {
			p.setLink(&l, next, link{kind: linkLazy})
		}
	case linkNext:
		p.setFirst(lk.next)
	case linkEnd:
		p.setFirst(noSlot)
	default:
		a.Dump(os.Stderr)
		fault.Raise("alloc", "allocator %q: corrupt free list link %d at page %d slot %d",
			a.name, lk.kind, a.alloc, n)
	}

	p.setUsed(p.used() + 1)
	ref := p.ref(&l, n)

	if a.zero {
		clear(p.slot(&l, n))
	}

	if a.debug {
		if _, ok := p.slotOf(&l, ref); !ok {
			a.Dump(os.Stderr)
			fault.Raise("alloc", "allocator %q: about to return ref outside its page: %v", a.name, ref)
		}
		if l.Alignment != 0 && uintptr(ref)&uintptr(l.Alignment-1) != 0 {
			a.Dump(os.Stderr)
			fault.Raise("alloc", "allocator %q: returning unaligned ref %v", a.name, ref)
		}
	}

	if logAlloc && logger.Enabled(slog.LevelDebug) {
		logger.Debug("alloc: alloc", "allocator", a.name, "page", a.alloc, "slot", n, "ref", ref)
	}
	return ref, nil
}

// find locates the page owning ref, trying the lastFree page first. It
// updates lastFree on a slow-path hit.
func (a *Allocator) find(ref Ref) (int, int, Layout, bool) {
	if i := a.lastFree; i < len(a.pages) {
		l := a.layoutAt(i)
		if n, ok := a.pages[i].slotOf(&l, ref); ok {
			a.stats.FreeFastPath++
			return i, n, l, true
		}
	}

	a.stats.FreeSlowPath++
	i := len(a.pages) - 1
	if i < 0 {
		return 0, 0, Layout{}, false
	}
	for l := a.layoutAt(i); i >= 0; i, l = i-1, l.Shrink(1) {
		if n, ok := a.pages[i].slotOf(&l, ref); ok {
			a.lastFree = i
			return i, n, l, true
		}
	}
	return 0, 0, Layout{}, false
}

// Free returns ref to its page. Freeing a ref this allocator did not hand out
// is a fatal consistency violation.
func (a *Allocator) Free(ref Ref) {
	a.stats.FreeCalls++

	if a.debug && a.l.Alignment != 0 && uintptr(ref)&uintptr(a.l.Alignment-1) != 0 {
		a.Dump(os.Stderr)
		fault.Raise("alloc", "allocator %q: freeing unaligned ref %v", a.name, ref)
	}

	i, n, l, ok := a.find(ref)
	if !ok {
		if a.debug {
			a.Dump(os.Stderr)
		}
		fault.Raise("alloc", "allocator %q: ref %v not in any page", a.name, ref)
	}
	p := a.pages[i]

	if p.used() == 0 {
		a.Dump(os.Stderr)
		fault.Raise("alloc", "allocator %q: freeing into empty page %d", a.name, i)
	}

	if a.debug {
		s := p.slot(&l, n)
		for k := linkSize; k < len(s); k++ {
			s[k] = poisonByte
		}
	}

	if head := p.first(); head == noSlot {
		p.setLink(&l, n, link{kind: linkEnd})
	} else {
		p.setLink(&l, n, link{kind: linkNext, next: head})
	}
	p.setFirst(n)
	p.setFlags(0)
	p.setUsed(p.used() - 1)

	if logAlloc && logger.Enabled(slog.LevelDebug) {
		logger.Debug("alloc: free", "allocator", a.name, "page", i, "slot", n, "ref", ref)
	}

	if p.used() == 0 {
		if i == len(a.pages)-1 {
			a.freeEmptyPages()
		} else {
			a.stats.PageResets++
			p.reset(&l)
		}
	}
}

// Owns reports whether ref lies on a slot boundary inside one of the pages.
// It does not tell allocated and free slots apart.
func (a *Allocator) Owns(ref Ref) bool {
	for i := len(a.pages) - 1; i >= 0; i-- {
		l := a.layoutAt(i)
		if _, ok := a.pages[i].slotOf(&l, ref); ok {
			return true
		}
	}
	return false
}

// Bytes returns the memory of the slot ref. The slice is only valid while the
// slot stays allocated.
func (a *Allocator) Bytes(ref Ref) []byte {
	for i := len(a.pages) - 1; i >= 0; i-- {
		l := a.layoutAt(i)
		if n, ok := a.pages[i].slotOf(&l, ref); ok {
			return a.pages[i].slot(&l, n)
		}
	}
	fault.Raise("alloc", "allocator %q: ref %v not in any page", a.name, ref)
	return nil
}

// FreeAll empties every page without releasing memory. All outstanding refs
// become invalid.
func (a *Allocator) FreeAll() {
	if len(a.pages) == 0 {
		return
	}
	l := a.layoutAt(0)
	for _, p := range a.pages {
		p.reset(&l)
		l = l.Grow(1)
	}
	a.alloc = 0
	a.lastFree = 0
}

// Destroy releases every page. The allocator remains usable: the next Alloc
// materializes page 0 again.
func (a *Allocator) Destroy() {
	for i := range a.pages {
		if a.pages[i] != nil {
			a.releasePage(i)
		}
	}
	a.pages = a.pages[:0]
	a.alloc = 0
	a.lastFree = 0
	a.scratch = nil
}

// Count returns the number of allocated slots.
func (a *Allocator) Count() int {
	c := 0
	for _, p := range a.pages {
		c += p.used()
	}
	return c
}

// CountAll returns the number of allocated slots and the bytes reserved by
// the allocator, page headers and the allocator itself included.
func (a *Allocator) CountAll() (num int, size int) {
	size = int(unsafe.Sizeof(*a))
	for i, p := range a.pages {
		l := a.layoutAt(i)
		size += l.Size()
		num += p.used()
	}
	return num, size
}

// GetStats returns current allocator statistics (test-only).
func (a *Allocator) GetStats() allocatorStats {
	return a.stats
}

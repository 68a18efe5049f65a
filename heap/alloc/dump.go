package alloc

import (
	"fmt"
	"io"

	"github.com/inhies/go-bytesize"
)

// Pages returns a snapshot of every materialized page.
func (a *Allocator) Pages() []PageInfo {
	out := make([]PageInfo, 0, len(a.pages))
	for i, p := range a.pages {
		gen := p.generation()
		l := a.layoutAt(gen)
		out = append(out, PageInfo{
			Index:      i,
			Generation: gen,
			Blocks:     l.Blocks,
			Used:       p.used(),
			Bytes:      l.Size(),
			Sorted:     p.sorted(),
			Base:       p.base,
		})
	}
	return out
}

// Dump writes page occupancy, newest page first. The format is for humans
// and may change.
func (a *Allocator) Dump(w io.Writer) {
	name := a.name
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Fprintf(w, "=== ALLOCATOR %s: block=%d initial=%d align=%d header=%d pages=%d ===\n",
		name, a.l.BlockSize, a.l.Blocks, a.l.Alignment, a.l.HeaderOffset, len(a.pages))

	if len(a.pages) == 0 {
		fmt.Fprintf(w, "  (no pages)\n")
		return
	}
	for i, l := len(a.pages)-1, a.layoutAt(len(a.pages)-1); i >= 0; i, l = i-1, l.Shrink(1) {
		p := a.pages[i]
		gen := ""
		if g := p.generation(); g != i {
			// Shown only when the header disagrees with the page index.
			gen = fmt.Sprintf(" gen=%d(!)", g)
		}
		first := "full"
		if n := p.first(); n != noSlot {
			first = fmt.Sprintf("%d (%s)", n, p.link(&l, n).kind)
		}
		fmt.Fprintf(w, "  page %2d:%s base=%#x used=%d/%d first=%s sorted=%v size=%s last=%#x\n",
			i, gen, p.base, p.used(), l.Blocks, first, p.sorted(),
			bytesize.New(float64(l.Size())), uintptr(p.ref(&l, l.Blocks-1)))
	}
}

// PrintStats prints allocator statistics.
func (a *Allocator) PrintStats(w io.Writer) {
	s := a.stats
	num, size := a.CountAll()
	fmt.Fprintf(w, "\n=== ALLOCATOR STATISTICS ===\n")
	fmt.Fprintf(w, "Live slots:         %d (%s reserved)\n", num, bytesize.New(float64(size)))
	fmt.Fprintf(w, "Alloc calls:        %d (slow: %d)\n", s.AllocCalls, s.AllocSlowPath)
	fmt.Fprintf(w, "Free calls:         %d (fast: %d, slow: %d)\n", s.FreeCalls, s.FreeFastPath, s.FreeSlowPath)
	fmt.Fprintf(w, "Pages created:      %d\n", s.PagesCreated)
	fmt.Fprintf(w, "Pages released:     %d\n", s.PagesReleased)
	fmt.Fprintf(w, "Page resets:        %d\n", s.PageResets)
	fmt.Fprintf(w, "Walks:              %d (sorts: %d)\n", s.Walks, s.Sorts)
	fmt.Fprintf(w, "============================\n\n")
}

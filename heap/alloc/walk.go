package alloc

import (
	"os"

	"github.com/joshuapare/blockgc/heap/fault"
)

// Walk calls fn once per maximal run of allocated slots, page by page in
// page order and slot order within a page.
//
// fn may free slots, including the ones of the run it was handed; slots
// freed during the walk can still be reported by later runs. fn must not
// allocate from a and must not call Walk or Each on a.
func (a *Allocator) Walk(fn func(Run)) {
	if a.walking {
		fault.Raise("alloc", "allocator %q: nested Walk", a.name)
	}
	if len(a.pages) == 0 {
		return
	}

	a.walking = true
	defer func() { a.walking = false }()
	a.stats.Walks++

	l := a.layoutAt(0)
	for i := 0; i < len(a.pages); i, l = i+1, l.Grow(1) {
		p := a.pages[i]
		if p.used() == 0 {
			continue
		}
		a.walkPage(i, p, &l, fn)

		// fn may have emptied the newest page while it was pinned.
		if i == len(a.pages)-1 && p.used() == 0 {
			a.freeEmptyPages()
		}
	}
}

// Each calls fn for every allocated slot. The constraints of Walk apply.
func (a *Allocator) Each(fn func(Ref)) {
	a.Walk(func(r Run) {
		for k := range r.Len() {
			fn(r.Ref(k))
		}
	})
}

func (a *Allocator) walkPage(i int, p *page, l *Layout, fn func(Run)) {
	if !p.sorted() {
		p.setFirst(a.sortList(p, l))
		p.setFlags(p.flags() | flagSorted)
	}
	node := p.first()

	// Pin the page so frees from fn cannot reset or release it.
	p.setUsed(p.used() + 1)
	defer func() {
		p.setUsed(p.used() - 1)
		if p.used() == 0 && i != len(a.pages)-1 {
			a.stats.PageResets++
			p.reset(l)
		}
	}()

	run := Run{Page: i, base: p.base + uintptr(l.HeaderOffset), blockSize: l.BlockSize}
	cur := 0
	for {
		if node == noSlot {
			if cur < l.Blocks {
				run.Start, run.End = cur, l.Blocks
				fn(run)
			}
			return
		}

		lk := p.link(l, node)
		if node > cur {
			run.Start, run.End = cur, node
			fn(run)
		}
		cur = node + 1

		switch lk.kind {
		case linkLazy:
			// Everything from here on is free.
			return
		case linkEnd:
			node = noSlot
		case linkNext:
			if a.debug && lk.next <= node {
				a.Dump(os.Stderr)
				fault.Raise("alloc", "allocator %q: free list not sorted in Walk (page %d: %d -> %d)",
					a.name, i, node, lk.next)
			}
			node = lk.next
		default:
			a.Dump(os.Stderr)
			fault.Raise("alloc", "allocator %q: corrupt free list link %d at page %d slot %d",
				a.name, lk.kind, i, node)
		}
	}
}

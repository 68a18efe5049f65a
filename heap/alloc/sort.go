package alloc

import "github.com/joshuapare/blockgc/internal/bitvec"

// sortList rebuilds the free list of p in ascending slot order and returns
// the new head. Free slots are first recorded in a bitvector, then relinked
// front to back. A trailing run of free slots collapses into one node that
// carries a lazy link (or an end link if it is the last slot).
func (a *Allocator) sortList(p *page, l *Layout) int {
	head := p.first()
	if head == noSlot {
		return noSlot
	}

	words := bitvec.WordLength(l.Blocks)
	if cap(a.scratch) < words {
		a.scratch = make([]uint64, words)
	}
	v := bitvec.New(l.Blocks, a.scratch[:words])
	v.Clear()

	// Record the position of every free slot.
	for n := head; n != noSlot; {
		v.Set(n, true)
		lk := p.link(l, n)
		switch lk.kind {
		case linkLazy:
			v.Truncate(n + 1)
			n = noSlot
		case linkEnd:
			n = noSlot
		default:
			n = lk.next
		}
	}

	// Trailing free slots are not needed as list nodes.
	if v.Len() > 0 {
		i := v.Len() - 1
		for i > 0 && v.Get(i) {
			i--
		}
		v.Truncate(i + 1)
	}

	// Rechain in address order.
	head, prev := noSlot, noSlot
	for j := 0; ; {
		i := v.FindNext(j)
		if i == bitvec.NotFound {
			break
		}
		if prev == noSlot {
			head = i
		} else {
			p.setLink(l, prev, link{kind: linkNext, next: i})
		}
		prev = i
		j = i + 1
	}

	// The collapsed tail.
	if tail := v.Len(); tail < l.Blocks {
		if tail == l.Blocks-1 {
			p.setLink(l, tail, link{kind: linkEnd})
		} else {
			p.setLink(l, tail, link{kind: linkLazy})
		}
		if prev == noSlot {
			head = tail
		} else {
			p.setLink(l, prev, link{kind: linkNext, next: tail})
		}
	} else if prev != noSlot {
		p.setLink(l, prev, link{kind: linkEnd})
	}

	a.stats.Sorts++
	return head
}

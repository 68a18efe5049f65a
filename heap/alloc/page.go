package alloc

import (
	"github.com/joshuapare/blockgc/internal/buf"
	"github.com/joshuapare/blockgc/internal/pagemem"
)

// Page header, little-endian at the start of every page:
//
//	0x00  int32   first free slot, -1 when the page is full
//	0x04  uint32  used slot count
//	0x08  uint32  flags
//	0x0C  uint32  generation
const (
	hdrFirstOffset = 0x00
	hdrUsedOffset  = 0x04
	hdrFlagsOffset = 0x08
	hdrGenOffset   = 0x0C
	pageHeaderSize = 0x10

	flagSorted uint32 = 1

	noSlot = -1
)

// Free slots carry a link in their first linkSize bytes.
const linkSize = 8

// linkKind tags the link stored in a free slot.
type linkKind uint8

const (
	linkInvalid linkKind = iota // never written by the allocator
	linkNext                    // next free slot is link.next
	linkLazy                    // slot+1 is free and untouched, as is everything after it
	linkEnd                     // last node; slots after it are accounted for elsewhere
)

func (k linkKind) String() string {
	switch k {
	case linkNext:
		return "next"
	case linkLazy:
		return "lazy"
	case linkEnd:
		return "end"
	default:
		return "invalid"
	}
}

type link struct {
	kind linkKind
	next int
}

func (l link) encode() uint64 {
	return uint64(l.kind) | uint64(uint32(l.next))<<32
}

func decodeLink(v uint64) link {
	return link{kind: linkKind(v & 0xFF), next: int(uint32(v >> 32))}
}

// page is one materialized region. All header state lives in data itself.
type page struct {
	region *pagemem.Region
	data   []byte
	base   uintptr
}

func newPageFromRegion(r *pagemem.Region, gen int) *page {
	p := &page{region: r, data: r.Data, base: r.Addr()}
	buf.PutU32LE(p.data[hdrGenOffset:], uint32(gen))
	return p
}

func (p *page) first() int        { return int(buf.I32LE(p.data[hdrFirstOffset:])) }
func (p *page) setFirst(n int)    { buf.PutI32LE(p.data[hdrFirstOffset:], int32(n)) }
func (p *page) used() int         { return int(buf.U32LE(p.data[hdrUsedOffset:])) }
func (p *page) setUsed(n int)     { buf.PutU32LE(p.data[hdrUsedOffset:], uint32(n)) }
func (p *page) flags() uint32     { return buf.U32LE(p.data[hdrFlagsOffset:]) }
func (p *page) setFlags(f uint32) { buf.PutU32LE(p.data[hdrFlagsOffset:], f) }
func (p *page) generation() int   { return int(buf.U32LE(p.data[hdrGenOffset:])) }
func (p *page) sorted() bool      { return p.flags()&flagSorted != 0 }

func (p *page) link(l *Layout, n int) link {
	off := l.slotOffset(n)
	return decodeLink(buf.U64LE(p.data[off : off+linkSize]))
}

func (p *page) setLink(l *Layout, n int, lk link) {
	off := l.slotOffset(n)
	buf.PutU64LE(p.data[off:off+linkSize], lk.encode())
}

// slot returns the backing bytes of slot n.
func (p *page) slot(l *Layout, n int) []byte {
	s, _ := buf.Slice(p.data, l.slotOffset(n), l.BlockSize)
	return s
}

// ref returns the handle of slot n.
func (p *page) ref(l *Layout, n int) Ref {
	return Ref(p.base + uintptr(l.slotOffset(n)))
}

// slotOf maps a handle to its slot index if it belongs to this page.
func (p *page) slotOf(l *Layout, r Ref) (int, bool) {
	// Unsigned wrap-around makes refs below base fail the range check.
	return l.slotOf(uintptr(r) - p.base)
}

// reset returns the page to its fresh, lazily initialized state. Only slot 0
// is written.
func (p *page) reset(l *Layout) {
	p.setUsed(0)
	p.setFlags(flagSorted)
	p.setFirst(0)
	if l.Blocks == 1 {
		p.setLink(l, 0, link{kind: linkEnd})
	} else {
		p.setLink(l, 0, link{kind: linkLazy})
	}
}

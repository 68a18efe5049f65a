package gc

import (
	"fmt"

	"github.com/joshuapare/blockgc/heap/alloc"
	"github.com/joshuapare/blockgc/internal/buf"
)

// Marker record layout, little-endian:
//
//	0x00  int32   internal references counted by CHECK
//	0x04  int32   known external references
//	0x08  int32   object reference count at CHECK
//	0x0C  uint32  flags
const (
	mkRefsOffset  = 0x00
	mkXRefsOffset = 0x04
	mkSavedOffset = 0x08
	mkFlagsOffset = 0x0C
	markerSize    = 0x10
)

// marker is a view of one marker record.
type marker []byte

func (m marker) refs() int32      { return buf.I32LE(m[mkRefsOffset:]) }
func (m marker) setRefs(v int32)  { buf.PutI32LE(m[mkRefsOffset:], v) }
func (m marker) xrefs() int32     { return buf.I32LE(m[mkXRefsOffset:]) }
func (m marker) setXRefs(v int32) { buf.PutI32LE(m[mkXRefsOffset:], v) }
func (m marker) saved() int32     { return buf.I32LE(m[mkSavedOffset:]) }
func (m marker) setSaved(v int32) { buf.PutI32LE(m[mkSavedOffset:], v) }
func (m marker) flags() Flags     { return Flags(buf.U32LE(m[mkFlagsOffset:])) }
func (m marker) setFlags(f Flags) { buf.PutU32LE(m[mkFlagsOffset:], uint32(f)) }
func (m marker) has(f Flags) bool { return m.flags()&f != 0 }
func (m marker) add(f Flags)      { m.setFlags(m.flags() | f) }

// doFree reports whether CHECK saw the object and MARK did not reach it.
func (m marker) doFree() bool {
	return m.flags()&(FlagReferenced|FlagChecked) == FlagChecked
}

// markerTable maps objects to marker records.
type markerTable struct {
	a     *alloc.Allocator
	index map[Object]alloc.Ref
}

func newMarkerTable(blocks int, debug bool) (*markerTable, error) {
	a, err := alloc.New(alloc.Options{
		Name:          "gc-markers",
		BlockSize:     markerSize,
		InitialBlocks: blocks,
		Alignment:     8,
		Debug:         debug,
	})
	if err != nil {
		return nil, fmt.Errorf("gc: marker table: %w", err)
	}
	return &markerTable{a: a, index: make(map[Object]alloc.Ref, blocks)}, nil
}

// get returns the marker of obj, creating a zeroed one if needed.
func (t *markerTable) get(obj Object) (marker, error) {
	if ref, ok := t.index[obj]; ok {
		return marker(t.a.Bytes(ref)), nil
	}
	ref, err := t.a.Alloc()
	if err != nil {
		return nil, fmt.Errorf("gc: marker table: %w", err)
	}
	t.index[obj] = ref
	return marker(t.a.Bytes(ref)), nil
}

// find returns the marker of obj or nil.
func (t *markerTable) find(obj Object) marker {
	ref, ok := t.index[obj]
	if !ok {
		return nil
	}
	return marker(t.a.Bytes(ref))
}

func (t *markerTable) remove(obj Object) {
	ref, ok := t.index[obj]
	if !ok {
		return
	}
	delete(t.index, obj)
	t.a.Free(ref)
}

func (t *markerTable) len() int { return len(t.index) }

// each calls fn for every marker in slot order.
func (t *markerTable) each(fn func(obj Object, m marker)) {
	owners := make(map[alloc.Ref]Object, len(t.index))
	for obj, ref := range t.index {
		owners[ref] = obj
	}
	t.a.Each(func(ref alloc.Ref) {
		if obj, ok := owners[ref]; ok {
			fn(obj, marker(t.a.Bytes(ref)))
		}
	})
}

// destroy releases every marker page.
func (t *markerTable) destroy() {
	t.a.Destroy()
	clear(t.index)
}

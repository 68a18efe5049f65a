package alloc

// Layout is the geometry of one page at a given generation.
type Layout struct {
	BlockSize    int // bytes per slot
	Blocks       int // slots per page, a power of two
	LastOffset   int // BlockSize * (Blocks - 1): offset of the final slot from slot 0
	Alignment    int // 0 or a power of two
	HeaderOffset int // page header bytes preceding slot 0
}

// Grow returns the layout i generations later (Blocks doubled i times).
func (l Layout) Grow(i int) Layout {
	l.Blocks <<= i
	l.LastOffset += l.BlockSize
	l.LastOffset <<= i
	l.LastOffset -= l.BlockSize
	return l
}

// Shrink returns the layout i generations earlier. It is the exact inverse of Grow.
func (l Layout) Shrink(i int) Layout {
	l.Blocks >>= i
	l.LastOffset += l.BlockSize
	l.LastOffset >>= i
	l.LastOffset -= l.BlockSize
	return l
}

// Size returns the page size in bytes, header included.
func (l Layout) Size() int {
	return l.HeaderOffset + l.LastOffset + l.BlockSize
}

// slotOffset returns the byte offset of slot n from the page start.
func (l Layout) slotOffset(n int) int {
	return l.HeaderOffset + n*l.BlockSize
}

// slotOf maps a byte offset from the page start to a slot index. ok is false
// when the offset is outside the slot area or not on a slot boundary.
func (l Layout) slotOf(off uintptr) (int, bool) {
	if off < uintptr(l.HeaderOffset) {
		return 0, false
	}
	rel := off - uintptr(l.HeaderOffset)
	if rel > uintptr(l.LastOffset) || rel%uintptr(l.BlockSize) != 0 {
		return 0, false
	}
	return int(rel / uintptr(l.BlockSize)), true
}

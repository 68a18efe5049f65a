package alloc

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/blockgc/internal/buf"
	"github.com/joshuapare/blockgc/internal/logger"
)

func TestNew_Defaults(t *testing.T) {
	a, err := New(Options{BlockSize: 32})
	require.NoError(t, err)
	defer a.Destroy()

	l := a.Layout()
	assert.Equal(t, 32, l.BlockSize)
	assert.Equal(t, DefaultInitialBlocks, l.Blocks)
	assert.Equal(t, 32*(DefaultInitialBlocks-1), l.LastOffset)
	assert.Equal(t, pageHeaderSize, l.HeaderOffset)
	assert.Equal(t, 1, a.PageCount())
	assert.Equal(t, 0, a.Count())
}

func TestNew_RoundsInitialBlocks(t *testing.T) {
	a := newTestAllocator(t, 16, 5)
	assert.Equal(t, 8, a.Layout().Blocks)
}

func TestNew_MinimumBlockSize(t *testing.T) {
	a := newTestAllocator(t, 1, 4)
	assert.Equal(t, linkSize, a.Layout().BlockSize)
}

func TestNew_BadOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"alignment not pow2", Options{BlockSize: 24, Alignment: 3}},
		{"block not multiple of alignment", Options{BlockSize: 24, Alignment: 16}},
		{"negative initial", Options{BlockSize: 16, InitialBlocks: -1}},
		{"initial too large", Options{BlockSize: 16, InitialBlocks: maxPageBlocks + 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(tt.opts)
			require.Error(t, err)
			require.Nil(t, a)
			require.ErrorIs(t, err, ErrBadOptions)
		})
	}
}

func TestNew_AlignedHeader(t *testing.T) {
	a, err := New(Options{BlockSize: 64, Alignment: 64, InitialBlocks: 4})
	require.NoError(t, err)
	defer a.Destroy()
	assert.Equal(t, 64, a.Layout().HeaderOffset)
}

func TestAlloc_UniqueAndAligned(t *testing.T) {
	a, err := New(Options{BlockSize: 48, Alignment: 16, InitialBlocks: 4, Debug: true})
	require.NoError(t, err)
	defer a.Destroy()

	refs := allocN(t, a, 1000)
	seen := make(map[Ref]bool, len(refs))
	for i, r := range refs {
		require.False(t, seen[r], "ref %v returned twice", r)
		seen[r] = true
		require.Zero(t, uintptr(r)%16, "ref %v not 16-byte aligned", r)

		b := a.Bytes(r)
		require.Len(t, b, 48)
		for k := range b {
			b[k] = byte(i)
		}
	}

	// No slot overlaps another.
	for i, r := range refs {
		for _, c := range a.Bytes(r) {
			require.Equal(t, byte(i), c)
		}
	}
	assert.Equal(t, 1000, a.Count())
}

func TestAlloc_ReusesFreedSlot(t *testing.T) {
	a := newTestAllocator(t, 16, 4)

	refs := allocN(t, a, 4)
	require.Equal(t, 1, a.PageCount())

	a.Free(refs[1])
	r, err := a.Alloc()
	require.NoError(t, err)
	assert.Equal(t, refs[1], r)
	assert.Equal(t, 1, a.PageCount())
}

func TestAlloc_SlotsInAddressOrderOnFreshPage(t *testing.T) {
	a := newTestAllocator(t, 16, 8)

	refs := allocN(t, a, 8)
	for i, r := range refs {
		page, slot := slotIndex(t, a, r)
		require.Equal(t, 0, page)
		require.Equal(t, i, slot)
	}
	assert.Equal(t, noSlot, a.pages[0].first())
}

func TestAlloc_ZeroesSlot(t *testing.T) {
	a := newTestAllocator(t, 32, 4)

	refs := allocN(t, a, 2)
	b := a.Bytes(refs[0])
	for i := range b {
		b[i] = 0xFF
	}
	a.Free(refs[0])

	r, err := a.Alloc()
	require.NoError(t, err)
	require.Equal(t, refs[0], r)
	assert.Equal(t, make([]byte, 32), a.Bytes(r))
}

func TestAlloc_NoZeroKeepsContents(t *testing.T) {
	a, err := New(Options{BlockSize: 32, InitialBlocks: 4, NoZero: true})
	require.NoError(t, err)
	defer a.Destroy()

	refs := allocN(t, a, 2)
	b := a.Bytes(refs[0])
	for i := range b {
		b[i] = 0xAB
	}
	a.Free(refs[0])

	r, err := a.Alloc()
	require.NoError(t, err)
	require.Equal(t, refs[0], r)
	// The first word held the free-list link; the rest survives.
	assert.Equal(t, bytes.Repeat([]byte{0xAB}, 32-linkSize), a.Bytes(r)[linkSize:])
}

func TestAlloc_GeometricGrowth(t *testing.T) {
	const initial = 4
	for k := range 5 {
		a := newTestAllocator(t, 16, initial)
		n := initial*((1<<k)-1) + 1
		allocN(t, a, n)
		require.Equal(t, k+1, a.PageCount(), "%d allocations", n)

		for i, info := range a.Pages() {
			assert.Equal(t, i, info.Generation)
			assert.Equal(t, initial<<i, info.Blocks)
		}
	}
}

func TestAlloc_OutOfMemory(t *testing.T) {
	a, err := New(Options{BlockSize: 16, InitialBlocks: 2, MaxPages: 2})
	require.NoError(t, err)
	defer a.Destroy()

	allocN(t, a, 6)
	_, err = a.Alloc()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrOutOfMemory))
	assert.Equal(t, 2, a.PageCount())

	// State is unchanged by the failure.
	assert.Equal(t, 6, a.Count())
}

func TestFree_CascadeRelease(t *testing.T) {
	a := newTestAllocator(t, 16, 4)

	refs := allocN(t, a, 4+8+1)
	require.Equal(t, 3, a.PageCount())

	a.Free(refs[12])
	assert.Equal(t, 2, a.PageCount())
	assert.Equal(t, 1, a.GetStats().PagesReleased)

	// Emptying page 1 now releases it as well: it is the newest page.
	for _, r := range refs[4:12] {
		a.Free(r)
	}
	assert.Equal(t, 1, a.PageCount())
	assert.Equal(t, 4, a.Count())
}

func TestFree_InteriorPageResets(t *testing.T) {
	a := newTestAllocator(t, 16, 4)

	refs := allocN(t, a, 4+8+1)
	for _, r := range refs[4:12] {
		a.Free(r)
	}
	require.Equal(t, 3, a.PageCount(), "interior pages are never released")
	assert.Equal(t, 1, a.GetStats().PageResets)

	info := a.Pages()[1]
	assert.Zero(t, info.Used)
	assert.True(t, info.Sorted)
	assert.Equal(t, 0, a.pages[1].first())
	l := a.layoutAt(1)
	assert.Equal(t, linkLazy, a.pages[1].link(&l, 0).kind)

	// Freeing the newest page now cascades through the empty interior page.
	a.Free(refs[12])
	assert.Equal(t, 1, a.PageCount())
}

func TestFree_LastRefReleasesEverything(t *testing.T) {
	a := newTestAllocator(t, 16, 4)

	r := allocN(t, a, 1)[0]
	a.Free(r)
	assert.Equal(t, 0, a.PageCount())

	// The allocator recovers by materializing page 0 again.
	r2, err := a.Alloc()
	require.NoError(t, err)
	assert.Equal(t, 1, a.PageCount())
	assert.True(t, a.Owns(r2))
}

func TestFree_FastAndSlowPath(t *testing.T) {
	a := newTestAllocator(t, 16, 4)

	refs := allocN(t, a, 4+8)
	a.Free(refs[0]) // lastFree starts at page 0
	a.Free(refs[1])
	a.Free(refs[5]) // page 1: slow
	a.Free(refs[6]) // page 1: fast

	s := a.GetStats()
	assert.Equal(t, 3, s.FreeFastPath)
	assert.Equal(t, 1, s.FreeSlowPath)
}

func TestFree_ForeignRef(t *testing.T) {
	a := newTestAllocator(t, 16, 4)
	allocN(t, a, 2)

	var local [64]byte
	foreign := Ref(uintptr(unsafe.Pointer(&local[0])))
	requireViolation(t, "not in any page", func() { a.Free(foreign) })
}

func TestFree_ForeignRefWithoutDebug(t *testing.T) {
	a, err := New(Options{BlockSize: 16, InitialBlocks: 4})
	require.NoError(t, err)
	defer a.Destroy()
	allocN(t, a, 1)

	var local [64]byte
	foreign := Ref(uintptr(unsafe.Pointer(&local[0])))
	requireViolation(t, "not in any page", func() { a.Free(foreign) })
}

func TestFree_OffBoundaryRef(t *testing.T) {
	a := newTestAllocator(t, 16, 4)
	r := allocN(t, a, 2)[0]

	requireViolation(t, "not in any page", func() { a.Free(r + 1) })
}

func TestFree_UnalignedRef(t *testing.T) {
	a, err := New(Options{BlockSize: 32, Alignment: 16, InitialBlocks: 4, Debug: true})
	require.NoError(t, err)
	defer a.Destroy()
	r := allocN(t, a, 2)[0]

	requireViolation(t, "unaligned", func() { a.Free(r + 8) })
}

func TestFree_IntoEmptyPage(t *testing.T) {
	a := newTestAllocator(t, 16, 4)

	refs := allocN(t, a, 4+8+1)
	for _, r := range refs[4:12] {
		a.Free(r)
	}
	requireViolation(t, "empty page", func() { a.Free(refs[4]) })
}

func TestFree_PoisonsInDebug(t *testing.T) {
	a := newTestAllocator(t, 32, 4)

	refs := allocN(t, a, 2)
	a.Free(refs[0])

	l := a.layoutAt(0)
	s := a.pages[0].slot(&l, 0)
	assert.Equal(t, bytes.Repeat([]byte{poisonByte}, 32-linkSize), s[linkSize:])
}

func TestOwns(t *testing.T) {
	a := newTestAllocator(t, 16, 4)
	refs := allocN(t, a, 6)

	for _, r := range refs {
		assert.True(t, a.Owns(r))
	}
	assert.False(t, a.Owns(refs[0]+1))
	assert.False(t, a.Owns(0))
}

func TestFreeAll(t *testing.T) {
	a := newTestAllocator(t, 16, 4)

	refs := allocN(t, a, 100)
	pages := a.PageCount()

	a.FreeAll()
	assert.Equal(t, 0, a.Count())
	assert.Equal(t, pages, a.PageCount(), "FreeAll keeps memory")
	for _, info := range a.Pages() {
		assert.Zero(t, info.Used)
		assert.True(t, info.Sorted)
	}

	r, err := a.Alloc()
	require.NoError(t, err)
	assert.Equal(t, refs[0], r, "allocation restarts at page 0 slot 0")
}

func TestDestroy(t *testing.T) {
	a := newTestAllocator(t, 16, 4)
	allocN(t, a, 50)

	a.Destroy()
	assert.Equal(t, 0, a.PageCount())
	assert.Equal(t, 0, a.Count())
	assert.Empty(t, collectRuns(a))

	// Idempotent.
	a.Destroy()

	allocN(t, a, 3)
	assert.Equal(t, 1, a.PageCount())
	assert.Equal(t, 3, a.Count())
}

func TestCountAll(t *testing.T) {
	a := newTestAllocator(t, 24, 4)
	refs := allocN(t, a, 10)
	a.Free(refs[3])

	num, size := a.CountAll()
	assert.Equal(t, 9, num)

	want := int(unsafe.Sizeof(*a))
	for _, info := range a.Pages() {
		want += info.Bytes
	}
	assert.Equal(t, want, size)
	assert.Greater(t, size, 10*24)
}

func TestDump(t *testing.T) {
	a := newTestAllocator(t, 16, 4)
	allocN(t, a, 5)

	var out bytes.Buffer
	a.Dump(&out)
	s := out.String()
	assert.Contains(t, s, "ALLOCATOR")
	assert.Contains(t, s, "page  0")
	assert.Contains(t, s, "page  1")
	assert.Contains(t, s, "used=4/4")
	assert.Contains(t, s, "first=full")

	out.Reset()
	a.PrintStats(&out)
	assert.Contains(t, out.String(), "Live slots:         5")
}

func TestTracing(t *testing.T) {
	prevL, prevTrace := logger.L, logAlloc
	t.Cleanup(func() { logger.L, logAlloc = prevL, prevTrace })

	var out bytes.Buffer
	require.NoError(t, logger.Init(logger.Options{Enabled: true, Writer: &out, Level: slog.LevelDebug}))
	SetTracing(true)

	a := newTestAllocator(t, 16, 4)
	r, err := a.Alloc()
	require.NoError(t, err)
	a.Free(allocN(t, a, 1)[0])
	assert.Contains(t, out.String(), "alloc: alloc")
	assert.Contains(t, out.String(), "alloc: free")
	assert.Contains(t, out.String(), "ref="+r.String())

	out.Reset()
	SetTracing(false)
	a.Free(r)
	assert.NotContains(t, out.String(), "alloc: free")

	// Tracing on but logging disabled: nothing is built or written.
	SetTracing(true)
	require.NoError(t, logger.Init(logger.Options{Enabled: false}))
	allocN(t, a, 2)
	assert.Empty(t, out.String())
}

func TestDump_ReportsClobberedGeneration(t *testing.T) {
	a := newTestAllocator(t, 16, 4)
	allocN(t, a, 5)

	var out bytes.Buffer
	a.Dump(&out)
	assert.NotContains(t, out.String(), "gen=")

	buf.PutU32LE(a.pages[1].data[hdrGenOffset:], 7)
	out.Reset()
	a.Dump(&out)
	assert.Contains(t, out.String(), "page  1: gen=7(!)")
	assert.Equal(t, 7, a.Pages()[1].Generation)
	buf.PutU32LE(a.pages[1].data[hdrGenOffset:], 1)
}

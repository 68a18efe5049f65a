package alloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/blockgc/heap/fault"
)

// newTestAllocator creates a debug allocator and destroys it at test end.
func newTestAllocator(t testing.TB, blockSize, initial int) *Allocator {
	t.Helper()
	a, err := New(Options{Name: t.Name(), BlockSize: blockSize, InitialBlocks: initial, Debug: true})
	require.NoError(t, err)
	t.Cleanup(a.Destroy)
	return a
}

// allocN allocates n slots.
func allocN(t testing.TB, a *Allocator, n int) []Ref {
	t.Helper()
	refs := make([]Ref, n)
	for i := range refs {
		r, err := a.Alloc()
		require.NoError(t, err)
		refs[i] = r
	}
	return refs
}

// slotIndex returns the page and slot of ref.
func slotIndex(t testing.TB, a *Allocator, ref Ref) (int, int) {
	t.Helper()
	for i, p := range a.pages {
		l := a.layoutAt(i)
		if n, ok := p.slotOf(&l, ref); ok {
			return i, n
		}
	}
	require.Failf(t, "ref not owned", "ref %v", ref)
	return -1, -1
}

// collectRuns walks a and returns its runs.
func collectRuns(a *Allocator) []Run {
	var runs []Run
	a.Walk(func(r Run) { runs = append(runs, r) })
	return runs
}

// requireViolation asserts that fn panics with a consistency violation whose
// message contains substr.
func requireViolation(t testing.TB, substr string, fn func()) {
	t.Helper()
	var recovered any
	func() {
		defer func() { recovered = recover() }()
		fn()
	}()
	require.NotNil(t, recovered, "expected a consistency violation")
	v, ok := fault.As(recovered)
	require.True(t, ok, "panic value %v is not a *fault.Violation", recovered)
	require.Contains(t, v.Msg, substr)
}

package graph

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/blockgc/heap/alloc"
	"github.com/joshuapare/blockgc/heap/callback"
	"github.com/joshuapare/blockgc/heap/gc"
)

func newTestGraph(t *testing.T, gopts gc.Options, opts Options) (*gc.Collector, *Graph) {
	t.Helper()
	gopts.Debug = true
	opts.Debug = true
	c := gc.New(gopts)
	g, err := New(c, opts)
	require.NoError(t, err)
	t.Cleanup(g.Close)
	return c, g
}

func newNode(t *testing.T, g *Graph, v uint64) Node {
	t.Helper()
	n, err := g.NewNode(v)
	require.NoError(t, err)
	return n
}

func TestNode_Lifecycle(t *testing.T) {
	c, g := newTestGraph(t, gc.Options{}, Options{})

	n := newNode(t, g, 42)
	assert.Equal(t, uint64(42), n.Value())
	assert.Equal(t, int32(1), n.Refs())
	assert.False(t, n.Destroyed())
	assert.Equal(t, 1, g.Count())
	assert.Equal(t, 1, c.Stats().NumObjects)

	n.SetValue(7)
	assert.Equal(t, uint64(7), n.Value())

	n.Incref()
	n.Decref()
	assert.Equal(t, 1, g.Count())

	n.Decref()
	assert.Equal(t, 0, g.Count())
	assert.Equal(t, 0, c.Stats().NumObjects)
}

func TestLink_Unlink(t *testing.T) {
	_, g := newTestGraph(t, gc.Options{}, Options{MaxEdges: 2})

	a := newNode(t, g, 1)
	b := newNode(t, g, 2)
	require.NoError(t, g.Link(a, b))
	require.NoError(t, g.Link(a, b))
	assert.Equal(t, int32(3), b.Refs())
	assert.Equal(t, []Node{b, b}, a.Edges())

	err := g.Link(a, a)
	require.ErrorIs(t, err, ErrTooManyEdges)

	assert.True(t, g.Unlink(a, b))
	assert.Equal(t, int32(2), b.Refs())
	assert.False(t, g.Unlink(b, a))
	assert.Len(t, a.Edges(), 1)
}

func TestLink_ForeignNode(t *testing.T) {
	c, g := newTestGraph(t, gc.Options{}, Options{})
	other, err := New(c, Options{Name: "other", Debug: true})
	require.NoError(t, err)
	defer other.Close()

	a := newNode(t, g, 1)
	b := newNode(t, other, 2)
	require.ErrorIs(t, g.Link(a, b), ErrForeignNode)
}

func TestDecref_CascadesThroughChain(t *testing.T) {
	_, g := newTestGraph(t, gc.Options{}, Options{})

	a := newNode(t, g, 1)
	b := newNode(t, g, 2)
	c := newNode(t, g, 3)
	require.NoError(t, g.Link(a, b))
	require.NoError(t, g.Link(b, c))
	b.Decref()
	c.Decref()
	require.Equal(t, 3, g.Count())

	a.Decref()
	assert.Equal(t, 0, g.Count())
}

func TestDecref_Negative(t *testing.T) {
	_, g := newTestGraph(t, gc.Options{}, Options{})
	a := newNode(t, g, 1)
	b := newNode(t, g, 2)
	require.NoError(t, g.Link(a, b))

	// Drop b's own reference and one it does not hold.
	b.Decref()
	require.Panics(t, func() {
		rec := b.rec()
		rec[0], rec[1], rec[2], rec[3] = 0, 0, 0, 0
		b.Decref()
	})
}

func TestCollect_CycleWithoutRoots(t *testing.T) {
	var destroyed, finalized []alloc.Ref
	c, g := newTestGraph(t, gc.Options{}, Options{
		OnDestroy: func(n Node) {
			assert.True(t, n.Destroyed())
			for _, e := range n.Edges() {
				// Siblings are still intact during DESTROY.
				assert.Positive(t, e.Refs())
			}
			destroyed = append(destroyed, n.Ref())
		},
		OnFinalize: func(n Node) { finalized = append(finalized, n.Ref()) },
	})

	a := newNode(t, g, 1)
	b := newNode(t, g, 2)
	require.NoError(t, g.Link(a, b))
	require.NoError(t, g.Link(b, a))
	a.Decref()
	b.Decref()
	require.Equal(t, 2, g.Count(), "reference counting alone cannot free a cycle")

	res := c.Collect()
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Destroyed)
	assert.Equal(t, 2, res.Freed)
	assert.Equal(t, 0, g.Count())
	assert.ElementsMatch(t, []alloc.Ref{a.Ref(), b.Ref()}, destroyed)
	assert.ElementsMatch(t, destroyed, finalized)
	assert.Equal(t, 0, g.Allocator().PageCount(), "the emptied node pages are released")
}

func TestCollect_ExternalReferenceKeepsCycle(t *testing.T) {
	c, g := newTestGraph(t, gc.Options{}, Options{})

	a := newNode(t, g, 1)
	b := newNode(t, g, 2)
	require.NoError(t, g.Link(a, b))
	require.NoError(t, g.Link(b, a))
	b.Decref()

	res := c.Collect()
	assert.Zero(t, res.Destroyed)
	assert.Equal(t, 2, g.Count())
	assert.False(t, a.Destroyed())

	a.Decref()
	res = c.Collect()
	assert.Equal(t, 2, res.Destroyed)
	assert.Equal(t, 0, g.Count())
}

func TestCollect_ScheduledThroughEvaluators(t *testing.T) {
	var evaluators callback.List
	c, g := newTestGraph(t, gc.Options{MinThreshold: 8, Evaluators: &evaluators}, Options{})

	for i := range 10 {
		a := newNode(t, g, uint64(2*i))
		b := newNode(t, g, uint64(2*i+1))
		require.NoError(t, g.Link(a, b))
		require.NoError(t, g.Link(b, a))
		a.Decref()
		b.Decref()
	}
	require.Equal(t, 1, evaluators.Len())
	require.Equal(t, 20, g.Count())

	// The interpreter reaches a safe point.
	evaluators.Call(nil)
	assert.Equal(t, 0, g.Count())
	assert.Equal(t, 1, c.Stats().Cycles)
	assert.Equal(t, 20, c.Stats().TotalFreed)
}

func TestCollect_DestructorUnlinksEdges(t *testing.T) {
	var live []int
	destroyed := make(map[uint64]int)
	c, g := newTestGraph(t, gc.Options{}, Options{
		OnDestroy: func(n Node) {
			destroyed[n.Value()]++
			for _, e := range n.Edges() {
				require.True(t, n.g.Unlink(n, e))
				assert.Positive(t, e.Refs(), "sibling stays pinned")
			}
			live = append(live, n.g.Count())
		},
	})

	a := newNode(t, g, 1)
	b := newNode(t, g, 2)
	require.NoError(t, g.Link(a, b))
	require.NoError(t, g.Link(b, a))
	a.Decref()
	b.Decref()

	res := c.Collect()
	require.NoError(t, res.Err)
	assert.Equal(t, map[uint64]int{1: 1, 2: 1}, destroyed, "every garbage node is destroyed once")
	assert.Equal(t, []int{2, 2}, live, "nothing is released before FREE")
	assert.Equal(t, 2, res.Destroyed)
	assert.Equal(t, 2, res.Freed)
	assert.Equal(t, 0, g.Count())
	assert.Equal(t, 0, c.Stats().NumObjects)
}

// randomGraphRound builds a random graph, drops every reference except a
// few roots, collects, and checks that exactly the nodes reachable from the
// roots survive with correct reference counts. With unlink set, every
// destructor drops the node's edges.
func randomGraphRound(t *testing.T, rng *rand.Rand, round int, unlink bool) {
	t.Helper()

	destroyed := make(map[uint64]int)
	countAtCollect := -1
	c, g := newTestGraph(t, gc.Options{}, Options{
		MaxEdges:      4,
		InitialBlocks: 8,
		OnDestroy: func(n Node) {
			destroyed[n.Value()]++
			if unlink {
				for _, e := range n.Edges() {
					n.g.Unlink(n, e)
				}
			}
			require.Equal(t, countAtCollect, n.g.Count(), "round %d: node released during DESTROY", round)
		},
	})

	size := 10 + rng.Intn(60)
	nodes := make([]Node, size)
	edges := make([][]int, size)
	for i := range nodes {
		nodes[i] = newNode(t, g, uint64(i))
	}
	for i := range nodes {
		for range rng.Intn(4) {
			j := rng.Intn(size)
			require.NoError(t, g.Link(nodes[i], nodes[j]))
			edges[i] = append(edges[i], j)
		}
	}

	roots := make(map[int]bool)
	for range 1 + rng.Intn(3) {
		roots[rng.Intn(size)] = true
	}

	reachable := make(map[int]bool)
	var stack []int
	for r := range roots {
		reachable[r] = true
		stack = append(stack, r)
	}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, j := range edges[i] {
			if !reachable[j] {
				reachable[j] = true
				stack = append(stack, j)
			}
		}
	}

	for i, n := range nodes {
		if !roots[i] {
			n.Decref()
		}
	}

	countAtCollect = g.Count()
	res := c.Collect()
	require.NoError(t, res.Err, "round %d", round)
	require.Equal(t, len(reachable), g.Count(), "round %d", round)
	require.Equal(t, len(reachable), c.Stats().NumObjects, "round %d", round)
	require.Equal(t, countAtCollect-len(reachable), res.Destroyed, "round %d", round)
	require.Len(t, destroyed, res.Destroyed, "round %d", round)
	for v, k := range destroyed {
		require.Equal(t, 1, k, "round %d: node %d destroyed %d times", round, v, k)
		require.False(t, reachable[int(v)], "round %d: reachable node %d destroyed", round, v)
	}

	want := make(map[int]int32)
	for i := range reachable {
		if roots[i] {
			want[i]++
		}
		for _, j := range edges[i] {
			want[j]++
		}
	}
	for i := range reachable {
		require.Equal(t, want[i], nodes[i].Refs(), "round %d node %d", round, i)
		require.Equal(t, uint64(i), nodes[i].Value())
		require.False(t, nodes[i].Destroyed())
	}
}

func Test_Fuzz_RandomGraphs(t *testing.T) {
	rng := rand.New(rand.NewSource(42)) // Fixed seed for reproducibility
	for round := range 20 {
		randomGraphRound(t, rng, round, false)
	}
}

func Test_Fuzz_RandomGraphsDestructorsUnlink(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := range 50 {
		randomGraphRound(t, rng, round, true)
	}
}

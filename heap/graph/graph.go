// Package graph is a reference-counted object graph stored in slab
// allocator slots and collected by heap/gc.
//
// Every Node is a fixed-size record holding its reference count, a user
// value and up to MaxEdges outgoing references. Dropping the last reference
// releases a node immediately; cycles are left to the collector, for which
// Graph implements gc.Type.
package graph

import (
	"fmt"

	"github.com/joshuapare/blockgc/heap/alloc"
	"github.com/joshuapare/blockgc/heap/fault"
	"github.com/joshuapare/blockgc/heap/gc"
	"github.com/joshuapare/blockgc/internal/buf"
	"github.com/joshuapare/blockgc/internal/logger"
)

// Node record layout, little-endian:
//
//	0x00  int32   reference count
//	0x04  uint32  edge count
//	0x08  uint32  flags
//	0x0C  uint32  reserved
//	0x10  uint64  value
//	0x18  uint64  edges[MaxEdges]
const (
	nodeRefsOffset  = 0x00
	nodeEdgesCount  = 0x04
	nodeFlagsOffset = 0x08
	nodeValueOffset = 0x10
	nodeEdgesOffset = 0x18
	edgeSize        = 8
)

const (
	nodeDestroyed uint32 = 1 << iota
)

// DefaultMaxEdges is the edge capacity when Options.MaxEdges is zero.
const DefaultMaxEdges = 4

// Options configures a Graph.
type Options struct {
	Name          string
	MaxEdges      int
	InitialBlocks int
	Debug         bool

	// OnDestroy runs when the collector destroys an unreachable node. The
	// node and its neighbours are still intact, and it may Unlink edges:
	// every garbage node stays pinned until FREE.
	OnDestroy func(n Node)

	// OnFinalize runs after a collected node was released. Only the
	// node's identity may be used.
	OnFinalize func(n Node)
}

// Graph owns the node allocator and reports to a collector.
type Graph struct {
	name     string
	a        *alloc.Allocator
	c        *gc.Collector
	maxEdges int

	onDestroy  func(Node)
	onFinalize func(Node)
}

// New creates a graph and registers it with c.
func New(c *gc.Collector, opts Options) (*Graph, error) {
	maxEdges := opts.MaxEdges
	if maxEdges <= 0 {
		maxEdges = DefaultMaxEdges
	}
	name := opts.Name
	if name == "" {
		name = "graph"
	}

	a, err := alloc.New(alloc.Options{
		Name:          name,
		BlockSize:     nodeEdgesOffset + maxEdges*edgeSize,
		InitialBlocks: opts.InitialBlocks,
		Alignment:     8,
		Debug:         opts.Debug,
	})
	if err != nil {
		return nil, fmt.Errorf("graph %s: %w", name, err)
	}

	g := &Graph{
		name:       name,
		a:          a,
		c:          c,
		maxEdges:   maxEdges,
		onDestroy:  opts.OnDestroy,
		onFinalize: opts.OnFinalize,
	}
	c.Register(g)
	return g, nil
}

// Allocator exposes the node allocator for diagnostics.
func (g *Graph) Allocator() *alloc.Allocator { return g.a }

// Count returns the number of live nodes.
func (g *Graph) Count() int { return g.a.Count() }

// MaxEdges returns the edge capacity of a node.
func (g *Graph) MaxEdges() int { return g.maxEdges }

// NewNode allocates a node holding one reference owned by the caller.
func (g *Graph) NewNode(value uint64) (Node, error) {
	ref, err := g.a.Alloc()
	if err != nil {
		return Node{}, fmt.Errorf("graph %s: new node: %w", g.name, err)
	}
	n := Node{g: g, ref: ref}
	rec := n.rec()
	buf.PutI32LE(rec[nodeRefsOffset:], 1)
	buf.PutU64LE(rec[nodeValueOffset:], value)
	g.c.NoteAlloc(n)
	return n, nil
}

// Link adds an edge from -> to, taking a reference on to.
func (g *Graph) Link(from, to Node) error {
	if from.g != g || to.g != g {
		return ErrForeignNode
	}
	rec := from.rec()
	k := int(buf.U32LE(rec[nodeEdgesCount:]))
	if k >= g.maxEdges {
		return fmt.Errorf("%w: %d edges", ErrTooManyEdges, k)
	}
	buf.PutU64LE(rec[nodeEdgesOffset+k*edgeSize:], uint64(to.ref))
	buf.PutU32LE(rec[nodeEdgesCount:], uint32(k+1))
	to.Incref()
	return nil
}

// Unlink removes one edge from -> to and drops its reference. It reports
// whether such an edge existed.
func (g *Graph) Unlink(from, to Node) bool {
	rec := from.rec()
	k := int(buf.U32LE(rec[nodeEdgesCount:]))
	for i := range k {
		off := nodeEdgesOffset + i*edgeSize
		if alloc.Ref(buf.U64LE(rec[off:])) != to.ref {
			continue
		}
		last := nodeEdgesOffset + (k-1)*edgeSize
		copy(rec[off:off+edgeSize], rec[last:last+edgeSize])
		buf.PutU32LE(rec[nodeEdgesCount:], uint32(k-1))
		to.Decref()
		return true
	}
	return false
}

// takeEdges clears the edges of n and returns them.
func (g *Graph) takeEdges(n Node) []Node {
	rec := n.rec()
	k := int(buf.U32LE(rec[nodeEdgesCount:]))
	out := make([]Node, k)
	for i := range out {
		out[i] = Node{g: g, ref: alloc.Ref(buf.U64LE(rec[nodeEdgesOffset+i*edgeSize:]))}
	}
	buf.PutU32LE(rec[nodeEdgesCount:], 0)
	return out
}

// release frees n and drops the references it held.
func (g *Graph) release(n Node) {
	edges := g.takeEdges(n)
	g.c.NoteFree(n)
	g.a.Free(n.ref)
	for _, e := range edges {
		e.Decref()
	}
}

// Name implements gc.Type.
func (g *Graph) Name() string { return g.name }

// Each implements gc.Type.
func (g *Graph) Each(fn func(gc.Object)) {
	g.a.Each(func(ref alloc.Ref) { fn(Node{g: g, ref: ref}) })
}

// Destroy implements gc.Type.
func (g *Graph) Destroy(obj gc.Object) {
	n := g.node(obj)
	rec := n.rec()
	buf.PutU32LE(rec[nodeFlagsOffset:], buf.U32LE(rec[nodeFlagsOffset:])|nodeDestroyed)
	if g.onDestroy != nil {
		g.onDestroy(n)
	}
}

// Pin implements gc.Type.
func (g *Graph) Pin(obj gc.Object) { g.node(obj).Incref() }

// Free implements gc.Type. It drops the node's edges, then the pin taken
// before DESTROY.
func (g *Graph) Free(obj gc.Object) {
	n := g.node(obj)
	for _, e := range g.takeEdges(n) {
		e.Decref()
	}
	n.Decref()
}

// Finalize implements gc.Finalizer.
func (g *Graph) Finalize(obj gc.Object) {
	if g.onFinalize != nil {
		g.onFinalize(g.node(obj))
	}
}

// Touch implements gc.Toucher.
func (g *Graph) Touch(p gc.Phase) {
	logger.Debug("graph: touch", "graph", g.name, "phase", p, "nodes", g.a.Count())
}

func (g *Graph) node(obj gc.Object) Node {
	n, ok := obj.(Node)
	if !ok || n.g != g {
		fault.Raise("graph", "graph %s: foreign object %v", g.name, obj)
	}
	return n
}

// Close releases all node memory. Outstanding nodes become invalid.
func (g *Graph) Close() {
	g.a.Destroy()
}

package graph

import (
	"fmt"

	"github.com/joshuapare/blockgc/heap/alloc"
	"github.com/joshuapare/blockgc/heap/fault"
	"github.com/joshuapare/blockgc/heap/gc"
	"github.com/joshuapare/blockgc/internal/buf"
)

// Node is a handle to a node record. It is comparable and stays valid until
// the node is released.
type Node struct {
	g   *Graph
	ref alloc.Ref
}

func (n Node) rec() []byte { return n.g.a.Bytes(n.ref) }

// Ref returns the address of the node record.
func (n Node) Ref() alloc.Ref { return n.ref }

// IsZero reports whether n is the zero handle.
func (n Node) IsZero() bool { return n.g == nil }

func (n Node) String() string {
	if n.g == nil {
		return "node(nil)"
	}
	return fmt.Sprintf("%s:%v", n.g.name, n.ref)
}

// Refs implements gc.Object.
func (n Node) Refs() int32 { return buf.I32LE(n.rec()[nodeRefsOffset:]) }

// Trace implements gc.Object.
func (n Node) Trace(v gc.Visitor) {
	rec := n.rec()
	k := int(buf.U32LE(rec[nodeEdgesCount:]))
	for i := range k {
		v.Visit(Node{g: n.g, ref: alloc.Ref(buf.U64LE(rec[nodeEdgesOffset+i*edgeSize:]))})
	}
}

// Value returns the user value.
func (n Node) Value() uint64 { return buf.U64LE(n.rec()[nodeValueOffset:]) }

// SetValue replaces the user value.
func (n Node) SetValue(v uint64) { buf.PutU64LE(n.rec()[nodeValueOffset:], v) }

// Edges returns the targets of n's outgoing edges.
func (n Node) Edges() []Node {
	var out []Node
	n.Trace(visitFunc(func(o gc.Object) { out = append(out, o.(Node)) }))
	return out
}

// Destroyed reports whether the collector ran n's destructor.
func (n Node) Destroyed() bool {
	return buf.U32LE(n.rec()[nodeFlagsOffset:])&nodeDestroyed != 0
}

// Incref takes a reference.
func (n Node) Incref() {
	rec := n.rec()
	buf.PutI32LE(rec[nodeRefsOffset:], buf.I32LE(rec[nodeRefsOffset:])+1)
}

// Decref drops a reference, releasing n when it was the last one.
func (n Node) Decref() {
	rec := n.rec()
	refs := buf.I32LE(rec[nodeRefsOffset:]) - 1
	buf.PutI32LE(rec[nodeRefsOffset:], refs)
	switch {
	case refs == 0:
		n.g.release(n)
	case refs < 0:
		fault.Raise("graph", "%v: negative reference count %d", n, refs)
	}
}

type visitFunc func(gc.Object)

func (f visitFunc) Visit(o gc.Object) { f(o) }

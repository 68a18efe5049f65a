package gc

import (
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/blockgc/heap/fault"
)

// testObj is a reference-counted object with explicit edges.
type testObj struct {
	name  string
	refs  int32
	edges []*testObj
	h     *testHeap

	destroyed bool
	freed     bool
}

func (o *testObj) Trace(v Visitor) {
	if o.h.onTrace != nil {
		o.h.onTrace(o)
	}
	for _, e := range o.edges {
		v.Visit(e)
	}
}

func (o *testObj) Refs() int32    { return o.refs }
func (o *testObj) String() string { return o.name }

// testHeap is a Type holding testObjs in creation order.
type testHeap struct {
	c    *Collector
	live []*testObj

	onTrace   func(o *testObj)
	onDestroy func(o *testObj)

	events []string
}

func newTestHeap(t *testing.T, opts Options) *testHeap {
	t.Helper()
	opts.Debug = true
	h := &testHeap{c: New(opts)}
	h.c.Register(h)
	return h
}

func (h *testHeap) Name() string { return "test" }

func (h *testHeap) Each(fn func(Object)) {
	for _, o := range slices.Clone(h.live) {
		if !o.freed {
			fn(o)
		}
	}
}

func (h *testHeap) Destroy(obj Object) {
	o := obj.(*testObj)
	o.destroyed = true
	h.events = append(h.events, fmt.Sprintf("destroy %s in %s", o.name, h.c.Phase()))
	if h.onDestroy != nil {
		h.onDestroy(o)
	}
}

func (h *testHeap) Pin(obj Object) {
	obj.(*testObj).refs++
}

// Free drops the edges of o, then the pin.
func (h *testHeap) Free(obj Object) {
	o := obj.(*testObj)
	h.events = append(h.events, fmt.Sprintf("free %s in %s", o.name, h.c.Phase()))
	edges := o.edges
	o.edges = nil
	for _, e := range edges {
		h.decref(e)
	}
	h.decref(o)
}

func (h *testHeap) Touch(p Phase) {
	h.events = append(h.events, "touch "+p.String())
}

func (h *testHeap) Finalize(obj Object) {
	o := obj.(*testObj)
	h.events = append(h.events, fmt.Sprintf("finalize %s in %s", o.name, h.c.Phase()))
}

// obj allocates an object holding ext references from outside the heap.
func (h *testHeap) obj(name string, ext int32) *testObj {
	o := &testObj{name: name, refs: ext, h: h}
	h.live = append(h.live, o)
	h.c.NoteAlloc(o)
	return o
}

func (h *testHeap) link(from, to *testObj) {
	from.edges = append(from.edges, to)
	to.refs++
}

func (h *testHeap) decref(o *testObj) {
	o.refs--
	if o.refs > 0 {
		return
	}
	h.release(o)
}

func (h *testHeap) release(o *testObj) {
	o.freed = true
	h.live = slices.DeleteFunc(h.live, func(x *testObj) bool { return x == o })
	h.c.NoteFree(o)

	edges := o.edges
	o.edges = nil
	for _, e := range edges {
		h.decref(e)
	}
}

func (h *testHeap) eventsWithPrefix(prefix string) []string {
	var out []string
	for _, e := range h.events {
		if len(e) >= len(prefix) && e[:len(prefix)] == prefix {
			out = append(out, e)
		}
	}
	return out
}

// requireViolation asserts that fn panics with a gc consistency violation
// whose message contains substr.
func requireViolation(t *testing.T, substr string, fn func()) {
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

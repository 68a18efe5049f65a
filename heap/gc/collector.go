package gc

import (
	"github.com/joshuapare/blockgc/heap/callback"
	"github.com/joshuapare/blockgc/heap/fault"
	"github.com/joshuapare/blockgc/internal/logger"
)

// Collector owns the collection state: the current phase, the object and
// allocation counters, the registered types and the marker table of the
// cycle in progress.
type Collector struct {
	opts Options

	phase      Phase
	numObjects int
	numAllocs  int
	threshold  int

	types   []Type
	markers *markerTable

	evaluators *callback.List
	scheduled  *callback.Callback

	// onCycle runs at the start of every collection.
	onCycle callback.List

	// garbage destroyed in the current cycle, for DESTRUCT.
	garbage []garbageEntry

	// markErr records a marker table failure during CHECK.
	markErr error

	stats Stats
}

type garbageEntry struct {
	t   Type
	obj Object
}

// New creates a collector.
func New(opts Options) *Collector {
	opts = opts.withDefaults()
	c := &Collector{
		opts:       opts,
		threshold:  opts.MinThreshold,
		evaluators: opts.Evaluators,
	}
	if c.evaluators == nil {
		c.evaluators = &callback.List{}
	}
	return c
}

// Register adds a type to the tracked universe.
func (c *Collector) Register(t Type) {
	if c.phase != PhaseIdle {
		fault.Raise("gc", "registering type %q during %s", t.Name(), c.phase)
	}
	c.types = append(c.types, t)
	logger.Debug("gc: type registered", "type", t.Name())
}

// Evaluators returns the callback list the collector schedules itself on.
func (c *Collector) Evaluators() *callback.List { return c.evaluators }

// Phase returns the pass in progress, PhaseIdle between cycles.
func (c *Collector) Phase() Phase { return c.phase }

// Threshold returns the allocation count that schedules the next cycle.
func (c *Collector) Threshold() int { return c.threshold }

// Stats returns a snapshot of the collector counters.
func (c *Collector) Stats() Stats {
	s := c.stats
	s.Phase = c.phase
	s.NumObjects = c.numObjects
	s.NumAllocs = c.numAllocs
	s.Threshold = c.threshold
	s.Scheduled = c.scheduled != nil
	return s
}

func (c *Collector) checkLock() {
	if c.opts.Debug && c.opts.Lock != nil {
		c.opts.Lock.Check()
	}
}

// NoteAlloc records the allocation of a tracked object. Allocating between
// PREPARE and the end of MARK is a violation in debug mode. When the
// threshold is reached a collection is scheduled on the evaluator list.
func (c *Collector) NoteAlloc(obj Object) {
	c.numObjects++
	c.numAllocs++

	if c.opts.Debug {
		c.checkLock()
		if c.phase > PhasePrepare && c.phase <= PhaseMark {
			fault.Raise("gc", "allocating new objects within gc is not allowed (%s)", c.phase)
		}
	}

	if c.phase != PhaseIdle && c.markers != nil {
		// A recycled handle must not inherit the marker of its previous owner.
		c.markers.remove(obj)
		return
	}

	if c.scheduled == nil && (c.opts.AlwaysCollect || c.numAllocs >= c.threshold) {
		c.schedule()
	}
}

// NoteFree records the release of a tracked object. Freeing during MARK is
// a violation in debug mode.
func (c *Collector) NoteFree(obj Object) {
	if c.opts.Debug {
		c.checkLock()
		if c.phase == PhaseMark {
			fault.Raise("gc", "freeing objects within gc is not allowed")
		}
		if c.numObjects < 1 {
			fault.Raise("gc", "less than zero objects")
		}
	}

	c.numObjects--
	if c.phase != PhaseIdle && c.markers != nil {
		c.markers.remove(obj)
	}
}

func (c *Collector) schedule() {
	c.scheduled = c.evaluators.Add(func(*callback.Callback, any) { c.Collect() }, nil, nil)
	logger.Debug("gc: collection scheduled", "allocs", c.numAllocs, "threshold", c.threshold)
}

// OnCycle registers fn to run at the start of every collection, before any
// marker exists. fn receives the Collector as its argument; it may allocate
// and free objects, and a Collect it makes is skipped.
func (c *Collector) OnCycle(fn callback.Func, arg any, free func(arg any)) *callback.Callback {
	return c.onCycle.Add(fn, arg, free)
}

// ExternalMark accounts for one known reference to obj from outside the
// tracked universe. It is only valid after CHECK and before DESTROY; it
// reports whether obj is tracked in this cycle.
func (c *Collector) ExternalMark(obj Object) bool {
	if c.phase < PhaseCheck || c.phase >= PhaseDestroy {
		fault.Raise("gc", "external mark outside check and mark (%s)", c.phase)
	}
	m := c.markers.find(obj)
	if m == nil || !m.has(FlagChecked) {
		return false
	}
	m.setXRefs(m.xrefs() + 1)
	m.add(FlagXReferenced)
	if c.opts.Debug && m.refs()+m.xrefs() > m.saved() {
		fault.Raise("gc", "more references accounted for than %d held", m.saved())
	}
	return true
}

// IsReferenced reports whether obj is referenced from outside the tracked
// universe. Checked objects are judged by the count saved during CHECK, so
// the pins taken in DESTROY do not count. It is valid from CHECK through
// FREE.
func (c *Collector) IsReferenced(obj Object) bool {
	m := c.cycleMarker(obj, "IsReferenced")
	if m == nil {
		return true
	}
	if m.has(FlagChecked) {
		return m.refs() < m.saved()
	}
	return m.refs() < obj.Refs()
}

// DoFree reports whether obj was found unreachable. It is valid from CHECK
// through FREE.
func (c *Collector) DoFree(obj Object) bool {
	m := c.cycleMarker(obj, "DoFree")
	if m == nil {
		return false
	}
	return m.doFree()
}

func (c *Collector) cycleMarker(obj Object, op string) marker {
	if c.phase < PhaseCheck || c.phase > PhaseFree {
		fault.Raise("gc", "%s outside a collection (%s)", op, c.phase)
	}
	return c.markers.find(obj)
}

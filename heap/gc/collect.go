package gc

import (
	"log/slog"
	"os"
	"time"

	"github.com/joshuapare/blockgc/heap/fault"
	"github.com/joshuapare/blockgc/internal/logger"
)

type checkVisitor struct{ c *Collector }

func (v checkVisitor) Visit(target Object) {
	c := v.c
	if c.markErr != nil {
		return
	}
	m, err := c.markers.get(target)
	if err != nil {
		c.markErr = err
		return
	}
	m.setRefs(m.refs() + 1)
}

type markVisitor struct {
	c     *Collector
	stack *[]Object
}

func (v markVisitor) Visit(target Object) {
	m := v.c.markers.find(target)
	if m == nil || m.has(FlagReferenced) {
		return
	}
	m.add(FlagReferenced)
	*v.stack = append(*v.stack, target)
}

// Collect runs one full collection cycle. A call made while a cycle is
// running returns immediately with Result.Skipped set.
func (c *Collector) Collect() Result {
	if c.phase != PhaseIdle {
		return Result{Skipped: true}
	}
	if c.scheduled != nil {
		c.scheduled.Remove()
		c.scheduled = nil
	}
	if c.opts.Debug {
		c.checkLock()
	}

	start := time.Now()
	res := Result{Before: c.numObjects}

	c.phase = PhasePrepare
	c.onCycle.Call(c)
	if c.markers == nil {
		t, err := newMarkerTable(c.opts.MarkerBlocks, c.opts.Debug)
		if err != nil {
			c.phase = PhaseIdle
			res.Err = err
			return res
		}
		c.markers = t
	}
	c.markErr = nil
	c.garbage = c.garbage[:0]

	c.touch(PhasePretouch)

	c.phase = PhaseCheck
	res.Checked = c.check()

	if c.markErr == nil {
		c.phase = PhaseMark
		res.Marked = c.mark()

		c.phase = PhaseDestroy
		res.Destroyed = c.destroy()

		c.phase = PhaseFree
		before := c.numObjects
		c.free()
		res.Freed = before - c.numObjects

		c.phase = PhaseDestruct
		c.destruct()
	} else {
		res.Err = c.markErr
		logger.Warn("gc: cycle aborted", "error", c.markErr)
	}

	c.touch(PhasePosttouch)

	c.markers.destroy()
	clear(c.garbage)
	c.garbage = c.garbage[:0]

	res.After = c.numObjects
	c.threshold = c.nextThreshold(c.numObjects)
	c.numAllocs = 0
	res.Threshold = c.threshold
	res.Duration = time.Since(start)

	c.stats.Cycles++
	c.stats.TotalDestroyed += res.Destroyed
	c.stats.TotalFreed += res.Freed
	c.stats.LastDuration = res.Duration

	c.phase = PhaseIdle

	if logger.Enabled(slog.LevelDebug) {
		logger.Debug("gc: cycle done",
			"checked", res.Checked, "marked", res.Marked,
			"destroyed", res.Destroyed, "freed", res.Freed,
			"before", res.Before, "after", res.After,
			"threshold", res.Threshold, "duration", res.Duration)
	}
	return res
}

func (c *Collector) touch(p Phase) {
	c.phase = p
	for _, t := range c.types {
		if tt, ok := t.(Toucher); ok {
			tt.Touch(p)
		}
	}
	if c.opts.Debug {
		c.census(p)
	}
}

// census checks that the types report exactly the tracked objects. PRETOUCH
// flags every object TOUCHED; by POSTTOUCH no object may hold a marker it
// did not get during PRETOUCH.
func (c *Collector) census(p Phase) {
	seen := 0
	var bad Object
	var msg string
	for _, t := range c.types {
		t.Each(func(obj Object) {
			seen++
			if bad != nil || c.markErr != nil {
				return
			}
			if p == PhasePretouch {
				m, err := c.markers.get(obj)
				if err != nil {
					c.markErr = err
					return
				}
				if m.has(FlagTouched) {
					bad, msg = obj, "reported twice by pretouch"
					return
				}
				m.add(FlagTouched)
				return
			}
			if m := c.markers.find(obj); m != nil && !m.has(FlagTouched) {
				bad, msg = obj, "got a marker after pretouch"
			}
		})
	}
	if bad != nil {
		c.Dump(os.Stderr)
		fault.Raise("gc", "%v: %s", bad, msg)
	}
	if seen != c.numObjects {
		fault.Raise("gc", "%s saw %d objects but %d are tracked", p, seen, c.numObjects)
	}
}

// check counts, for every tracked object, the references it receives from
// other tracked objects.
func (c *Collector) check() int {
	n := 0
	visit := checkVisitor{c: c}
	for _, t := range c.types {
		t.Each(func(obj Object) {
			if c.markErr != nil {
				return
			}
			m, err := c.markers.get(obj)
			if err != nil {
				c.markErr = err
				return
			}
			if m.has(FlagChecked) {
				return
			}
			m.add(FlagChecked)
			m.setSaved(obj.Refs())
			obj.Trace(visit)
			n++
		})
	}

	if c.opts.Debug && c.markErr == nil {
		var bad Object
		var m0 marker
		c.markers.each(func(obj Object, m marker) {
			if bad == nil && m.has(FlagChecked) && m.refs() > m.saved() {
				bad, m0 = obj, m
			}
		})
		if bad != nil {
			c.Dump(os.Stderr)
			fault.Raise("gc", "%v: %d internal references but only %d held",
				bad, m0.refs(), m0.saved())
		}
	}
	return n
}

// mark flags everything reachable from objects with outside references.
func (c *Collector) mark() int {
	var stack []Object
	visit := markVisitor{c: c, stack: &stack}
	n := 0

	for _, t := range c.types {
		t.Each(func(obj Object) {
			m := c.markers.find(obj)
			if m == nil || m.has(FlagReferenced) || m.refs() >= m.saved() {
				return
			}
			m.add(FlagReferenced)
			stack = append(stack, obj)

			for len(stack) > 0 {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				n++
				top.Trace(visit)
			}
		})
	}
	return n
}

// destroy pins every unreachable object, then runs their destructors.
// Pinning first keeps a destructor that drops references from releasing a
// sibling that has not been destroyed yet.
func (c *Collector) destroy() int {
	for _, t := range c.types {
		t.Each(func(obj Object) {
			m := c.markers.find(obj)
			if m == nil || !m.doFree() || m.has(FlagDestroyCheck) {
				return
			}
			m.add(FlagDestroyCheck)
			c.garbage = append(c.garbage, garbageEntry{t: t, obj: obj})
		})
	}
	for _, g := range c.garbage {
		g.t.Pin(g.obj)
	}
	for _, g := range c.garbage {
		g.t.Destroy(g.obj)
	}
	return len(c.garbage)
}

// free calls Type.Free on every destroyed object. A pinned object can only
// lose its marker by being released, which requires its own Free.
func (c *Collector) free() {
	for _, g := range c.garbage {
		m := c.markers.find(g.obj)
		if m == nil || m.has(FlagDoFree) {
			continue
		}
		m.add(FlagDoFree)
		g.t.Free(g.obj)
	}
}

func (c *Collector) destruct() {
	for _, g := range c.garbage {
		if f, ok := g.t.(Finalizer); ok {
			f.Finalize(g.obj)
		}
	}
}

func (c *Collector) nextThreshold(live int) int {
	next := int(float64(live) * c.opts.GrowthFactor)
	return min(max(next, c.opts.MinThreshold), c.opts.MaxThreshold)
}

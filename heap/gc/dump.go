package gc

import (
	"fmt"
	"io"
)

// Dump writes the collector counters and, during a cycle, every marker. The
// format is for humans and may change.
func (c *Collector) Dump(w io.Writer) {
	fmt.Fprintf(w, "=== GC: phase=%s objects=%d allocs=%d threshold=%d scheduled=%v types=%d ===\n",
		c.phase, c.numObjects, c.numAllocs, c.threshold, c.scheduled != nil, len(c.types))
	for _, t := range c.types {
		fmt.Fprintf(w, "  type %s\n", t.Name())
	}

	if c.phase == PhaseIdle || c.markers == nil {
		fmt.Fprintf(w, "  cycles=%d destroyed=%d freed=%d last=%s\n",
			c.stats.Cycles, c.stats.TotalDestroyed, c.stats.TotalFreed, c.stats.LastDuration)
		return
	}

	fmt.Fprintf(w, "  markers: %d\n", c.markers.len())
	c.markers.each(func(obj Object, m marker) {
		fmt.Fprintf(w, "  %-24v refs=%d xrefs=%d held=%d flags=%s\n",
			obj, m.refs(), m.xrefs(), m.saved(), m.flags())
	})
	c.markers.a.Dump(w)
}

package gc

import (
	"fmt"
	"strings"
	"time"

	"github.com/joshuapare/blockgc/heap/callback"
	"github.com/joshuapare/blockgc/heap/interp"
)

// Phase identifies the collector pass in progress.
type Phase int

// Phases in execution order. Values leave room between passes.
const (
	PhaseIdle      Phase = 0
	PhasePrepare   Phase = 50
	PhasePretouch  Phase = 90
	PhaseCheck     Phase = 100
	PhaseMark      Phase = 200
	PhaseDestroy   Phase = 300
	PhaseFree      Phase = 400
	PhaseDestruct  Phase = 500
	PhasePosttouch Phase = 600
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePrepare:
		return "prepare"
	case PhasePretouch:
		return "pretouch"
	case PhaseCheck:
		return "check"
	case PhaseMark:
		return "mark"
	case PhaseDestroy:
		return "destroy"
	case PhaseFree:
		return "free"
	case PhaseDestruct:
		return "destruct"
	case PhasePosttouch:
		return "posttouch"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Flags are marker states.
type Flags uint32

const (
	FlagReferenced   Flags = 1 << iota // reachable from a root
	FlagXReferenced                    // has known external references
	FlagChecked                        // seen by CHECK
	FlagDestroyCheck                   // destructor ran
	FlagDoFree                         // storage released by FREE
	FlagTouched                        // seen by a touch pass
)

var flagNames = []string{"REFERENCED", "XREFERENCED", "CHECKED", "DESTROYED", "FREED", "TOUCHED"}

func (f Flags) String() string {
	if f == 0 {
		return "0"
	}
	var parts []string
	for i, name := range flagNames {
		if f&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

// Visitor receives the outgoing references of an object.
type Visitor interface {
	Visit(target Object)
}

// Object is a tracked, reference-counted object. Implementations must be
// comparable; small handle structs and pointers both work.
type Object interface {
	// Trace reports every reference the object holds to tracked objects,
	// once per reference.
	Trace(v Visitor)

	// Refs returns the object's current reference count.
	Refs() int32
}

// Type is a family of tracked objects registered with a Collector.
type Type interface {
	Name() string

	// Each calls fn for every live object of the type. fn may release
	// objects; released objects may still be reported afterwards.
	Each(fn func(Object))

	// Pin takes one reference on a garbage object before any destructor
	// runs, so nothing a destructor does can release it before FREE.
	Pin(obj Object)

	// Destroy runs the destructor of a garbage object. It may drop
	// references; every garbage object stays pinned until its Free.
	Destroy(obj Object)

	// Free drops the references a destroyed object holds and the pin taken
	// by Pin, reporting every release through Collector.NoteFree.
	Free(obj Object)
}

// Toucher is implemented by types that want PRETOUCH and POSTTOUCH hooks.
type Toucher interface {
	Touch(p Phase)
}

// Finalizer is implemented by types that need the DESTRUCT pass. obj has
// already been released and must only be used as an identity.
type Finalizer interface {
	Finalize(obj Object)
}

// Options configures a Collector.
type Options struct {
	// MinThreshold and MaxThreshold bound the allocation threshold.
	MinThreshold int
	MaxThreshold int

	// GrowthFactor scales the live object count into the next threshold.
	GrowthFactor float64

	// AlwaysCollect schedules a collection on every allocation.
	AlwaysCollect bool

	// Debug enables consistency checks.
	Debug bool

	// Lock is checked by NoteAlloc, NoteFree and Collect when Debug is set.
	Lock *interp.Lock

	// Evaluators receives the collection callback. A private list is used
	// when nil.
	Evaluators *callback.List

	// MarkerBlocks is the marker count of the first marker page.
	MarkerBlocks int
}

const (
	DefaultMinThreshold = 1000
	DefaultMaxThreshold = 10_000_000
	DefaultGrowthFactor = 2.0
	defaultMarkerBlocks = 256
)

func (o Options) withDefaults() Options {
	if o.MinThreshold <= 0 {
		o.MinThreshold = DefaultMinThreshold
	}
	if o.MaxThreshold < o.MinThreshold {
		o.MaxThreshold = max(DefaultMaxThreshold, o.MinThreshold)
	}
	if o.GrowthFactor <= 0 {
		o.GrowthFactor = DefaultGrowthFactor
	}
	if o.MarkerBlocks <= 0 {
		o.MarkerBlocks = defaultMarkerBlocks
	}
	return o
}

// Result summarises one Collect call.
type Result struct {
	Skipped bool // a cycle was already running

	Checked   int // objects seen by CHECK
	Marked    int // objects reached by MARK
	Destroyed int // destructors run
	Freed     int // objects released during FREE
	Before    int // tracked objects at PREPARE
	After     int // tracked objects at POSTTOUCH

	Threshold int // threshold for the next cycle
	Duration  time.Duration

	// Err is set when the marker table could not grow. Nothing is
	// destroyed in that case.
	Err error
}

// Stats holds collector counters.
type Stats struct {
	Phase      Phase
	NumObjects int
	NumAllocs  int
	Threshold  int
	Scheduled  bool

	Cycles         int
	TotalDestroyed int
	TotalFreed     int
	LastDuration   time.Duration
}

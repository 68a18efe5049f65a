// Package gc implements a cycle-collecting garbage collector for
// reference-counted objects.
//
// # Overview
//
// Objects are freed by their reference counts in the common case. The
// Collector finds what reference counting cannot: groups of objects that
// only reference each other. A collection runs a fixed sequence of passes,
// each one a Phase:
//
//	PREPARE    OnCycle callbacks, marker table ready
//	PRETOUCH   Toucher hooks; with Debug, every object is flagged TOUCHED
//	CHECK      count the references each object receives from tracked objects
//	MARK       mark everything reachable from objects with outside references
//	DESTROY    pin every unmarked object, then run their destructors
//	FREE       drop the references and the pin of every destroyed object
//	DESTRUCT   Finalizer hooks for the released objects
//	POSTTOUCH  Toucher hooks, scheduling re-enabled
//
// An object whose reference count exceeds the references counted in CHECK is
// referenced from outside the tracked universe (the stack, globals, native
// code) and is a root for MARK.
//
// Pinning means a destructor may drop references, even to its own cycle,
// without any garbage object being released before FREE.
//
// # Markers
//
// Per-object bookkeeping lives in markers: 16-byte records carved from an
// alloc.Allocator and indexed by object. The table is built during PRETOUCH
// (Debug) or CHECK and destroyed at the end of every cycle. With Debug on,
// POSTTOUCH verifies the types reported exactly the tracked objects.
//
// Locate lists the objects referencing a given one, for hunting leaks.
//
// # Scheduling
//
// Every tracked allocation must be reported with NoteAlloc and every release
// with NoteFree. When the number of allocations since the last cycle reaches
// the threshold, the collector registers itself on the evaluator callback
// list; the interpreter runs it at its next safe point by calling the list.
// A collection never runs inside NoteAlloc.
//
// After each cycle the threshold becomes
//
//	clamp(live * GrowthFactor, MinThreshold, MaxThreshold)
//
// # Thread Safety
//
// A Collector is not safe for concurrent use. Callers serialise every method
// through the interpreter lock (see heap/interp); with Debug enabled and a
// Lock configured, NoteAlloc, NoteFree and Collect verify it.
//
// # Related Packages
//
//   - heap/alloc: slab allocator backing the marker table
//   - heap/callback: evaluator callback lists
//   - heap/graph: a reference-counted object graph driven by this package
package gc

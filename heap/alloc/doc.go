// Package alloc provides a fixed-size block allocator for runtime records.
//
// # Overview
//
// An Allocator hands out slots of one fixed size, carved from pages that
// grow geometrically: page i holds InitialBlocks * 2^i slots. Each page keeps
// its own singly linked free list threaded through the unused slots, so
// allocation and release are O(1) in the common case.
//
// # Lazy Pages
//
// A fresh page prepares only slot 0. Its link says "this slot and the next
// one are free and the next one was never touched"; popping it synthesizes
// the following slot on demand. Creating or resetting an N-slot page is
// therefore O(1).
//
// # Page Release
//
// Pages are released only from the newest end. When the newest page becomes
// empty it is returned to the system together with every empty page directly
// before it. An interior page that becomes empty is reset in place instead.
//
// # Iteration
//
// Walk visits every allocated slot as maximal runs of consecutive slots. The
// free list of each page is sorted first (lazily, only if a free happened
// since the last sort), and the page is pinned while its runs are reported so
// that frees from inside the callback cannot release it:
//
//	a.Walk(func(r alloc.Run) {
//	    for i := range r.Len() {
//	        visit(r.Ref(i))
//	    }
//	})
//
// Slots freed by the callback may still be reported later in the same walk.
// The callback must not allocate from the allocator being walked and must not
// start a nested walk.
//
// # Handles
//
// Ref values are slot addresses. They remain valid until the slot is freed or
// the allocator is reset or destroyed; Bytes converts one to the slot's
// backing memory.
//
// # Thread Safety
//
// Allocator instances are not thread-safe. Callers serialize access, in
// practice by holding the interpreter lock (see heap/interp).
//
// # Related Packages
//
//   - github.com/joshuapare/blockgc/heap/gc: cycle collector whose marker table is built on this allocator
//   - github.com/joshuapare/blockgc/heap/fault: fatal consistency violations
//   - github.com/joshuapare/blockgc/internal/pagemem: page memory acquisition
package alloc

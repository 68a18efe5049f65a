// Package callback implements ordered lists of registered callbacks.
//
// The interpreter keeps one List of evaluator callbacks and calls it at
// every safe point. The collector registers itself there once its
// allocation threshold is reached, so a collection never runs inside an
// allocation.
package callback

// Func is invoked by List.Call with the callback being run and the argument
// passed to Call.
type Func func(cb *Callback, arg any)

// Callback is one registration in a List.
type Callback struct {
	fn      Func
	arg     any
	free    func(arg any)
	list    *List
	removed bool
}

// Arg returns the argument given at registration.
func (cb *Callback) Arg() any { return cb.arg }

// Remove unregisters cb and runs its free function. It may be called from
// inside the callback itself. Removing twice is a no-op.
func (cb *Callback) Remove() {
	if cb == nil || cb.removed {
		return
	}
	cb.removed = true
	if cb.free != nil {
		cb.free(cb.arg)
	}
	if l := cb.list; l != nil && l.calling == 0 {
		l.compact()
	}
}

// Removed reports whether cb was unregistered.
func (cb *Callback) Removed() bool { return cb.removed }

// List is an ordered set of callbacks. It is not safe for concurrent use;
// callers serialise access through the interpreter lock.
type List struct {
	cbs     []*Callback
	calling int
}

// Add registers fn with arg. free, if non-nil, runs when the callback is
// removed.
func (l *List) Add(fn Func, arg any, free func(arg any)) *Callback {
	cb := &Callback{fn: fn, arg: arg, free: free, list: l}
	l.cbs = append(l.cbs, cb)
	return cb
}

// Call runs every registered callback in registration order. Callbacks
// added during Call run on the next Call; callbacks removed during Call are
// skipped.
func (l *List) Call(arg any) {
	if len(l.cbs) == 0 {
		return
	}
	l.calling++
	defer func() {
		l.calling--
		if l.calling == 0 {
			l.compact()
		}
	}()

	n := len(l.cbs)
	for i := 0; i < n; i++ {
		cb := l.cbs[i]
		if cb.removed {
			continue
		}
		cb.fn(cb, arg)
	}
}

// Len returns the number of live callbacks.
func (l *List) Len() int {
	n := 0
	for _, cb := range l.cbs {
		if !cb.removed {
			n++
		}
	}
	return n
}

// Free removes every callback.
func (l *List) Free() {
	for _, cb := range l.cbs {
		cb.Remove()
	}
	l.compact()
}

func (l *List) compact() {
	j := 0
	for _, cb := range l.cbs {
		if !cb.removed {
			l.cbs[j] = cb
			j++
		}
	}
	clear(l.cbs[j:])
	l.cbs = l.cbs[:j]
}

// Package fault reports consistency violations: defects in the runtime itself
// (foreign frees, allocation inside a forbidden collector pass, unsorted free
// lists) rather than failures of the hosted program.
//
// Violations are never returned as errors. Raise panics with a *Violation so
// the process stops before a corrupted allocator is used again; tests assert
// on the panic value.
package fault

import (
	"fmt"

	"github.com/joshuapare/blockgc/internal/logger"
)

// Violation describes one detected invariant break.
type Violation struct {
	Component string // "alloc", "gc", "interp"
	Msg       string
}

func (v *Violation) Error() string {
	return v.Component + ": consistency violation: " + v.Msg
}

// Raise logs the violation and panics with it.
func Raise(component, format string, args ...any) {
	v := &Violation{Component: component, Msg: fmt.Sprintf(format, args...)}
	logger.Error("consistency violation", "component", component, "msg", v.Msg)
	panic(v)
}

// As extracts a *Violation from a recovered panic value.
func As(r any) (*Violation, bool) {
	v, ok := r.(*Violation)
	return v, ok
}

// Package trace writes sectioned diagnostic output to stderr when --trace is
// set. A Tracer with a nil writer is a no-op, so call sites never need to
// guard.
package trace

import (
	"fmt"
	"io"
)

// Tracer writes sectioned trace output. All methods no-op when the writer is nil.
type Tracer struct {
	w io.Writer
}

// New returns a Tracer writing to w. A nil w yields a no-op tracer.
func New(w io.Writer) *Tracer {
	return &Tracer{w: w}
}

// Enabled reports whether the tracer will produce output.
func (t *Tracer) Enabled() bool {
	return t != nil && t.w != nil
}

// Section writes a header: "\n[lareview:trace] === name ===\n"
func (t *Tracer) Section(name string) {
	if !t.Enabled() {
		return
	}
	fmt.Fprintf(t.w, "\n[lareview:trace] === %s ===\n", name)
}

// Printf writes formatted output when enabled.
func (t *Tracer) Printf(format string, args ...interface{}) {
	if !t.Enabled() {
		return
	}
	fmt.Fprintf(t.w, format, args...)
}

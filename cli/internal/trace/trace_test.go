package trace

import (
	"bytes"
	"strings"
	"testing"
)

func TestEnabled(t *testing.T) {
	t.Parallel()
	if New(nil).Enabled() {
		t.Error("Enabled() with nil writer = true, want false")
	}
	var buf bytes.Buffer
	if !New(&buf).Enabled() {
		t.Error("Enabled() with writer = false, want true")
	}
	var nilTracer *Tracer
	if nilTracer.Enabled() {
		t.Error("(*Tracer)(nil).Enabled() = true, want false")
	}
}

func TestSection_writesHeader(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	New(&buf).Section("Events")
	want := "\n[lareview:trace] === Events ===\n"
	if got := buf.String(); got != want {
		t.Errorf("Section wrote %q, want %q", got, want)
	}
}

func TestSection_nilWriter_noPanic(t *testing.T) {
	t.Parallel()
	New(nil).Section("Events")
	New(nil).Printf("run=%s\n", "abc")
}

func TestPrintf_writesFormatted(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	tr := New(&buf)
	tr.Section("Reconcile")
	tr.Printf("run=%s terminal=%s\n", "r1", "completed")
	got := buf.String()
	if !strings.Contains(got, "[lareview:trace] === Reconcile ===") {
		t.Errorf("output missing section header: %q", got)
	}
	if !strings.Contains(got, "run=r1 terminal=completed") {
		t.Errorf("output missing Printf content: %q", got)
	}
}

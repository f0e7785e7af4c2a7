package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"lareview/cli/internal/agent"
	"lareview/cli/internal/protocol"
	"lareview/cli/internal/session"
)

const validDiff = `diff --git a/x.txt b/x.txt
--- a/x.txt
+++ b/x.txt
@@ -1,2 +1,3 @@
 line1
+line2
-line3
`

// fakeRunner is a scriptable Runner. Events are delivered in order; the
// generation call blocks on proceed (when set) or sleeps delay, so tests
// control which completion source fires first.
type fakeRunner struct {
	mu        sync.Mutex
	events    []protocol.Envelope
	result    *agent.GenerateResult
	err       error
	proceed   chan struct{}
	delay     time.Duration
	stopCalls []string
	lastReq   *agent.GenerateRequest
}

func (r *fakeRunner) Generate(ctx context.Context, req *agent.GenerateRequest) (*agent.GenerateResult, error) {
	r.mu.Lock()
	r.lastReq = req
	proceed := r.proceed
	r.mu.Unlock()
	if proceed != nil {
		select {
		case <-proceed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	return r.result, r.err
}

func (r *fakeRunner) Events(ctx context.Context, runID string) (<-chan protocol.Envelope, error) {
	ch := make(chan protocol.Envelope, len(r.events))
	for _, e := range r.events {
		ch <- e
	}
	close(ch)
	return ch, nil
}

func (r *fakeRunner) Stop(ctx context.Context, runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopCalls = append(r.stopCalls, runID)
	return nil
}

func env(t *testing.T, tag string, payload any) protocol.Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return protocol.Envelope{Event: tag, Data: data}
}

func TestGenerateValidationFailure(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{}
	c := New(Options{Runner: runner})

	if _, err := c.Generate(context.Background(), "", "claude-code", ""); err == nil {
		t.Fatal("expected validation error for empty diff")
	}
	if runner.lastReq != nil {
		t.Error("validation failure must not reach the runner")
	}
	if c.Current() != nil {
		t.Error("no session should exist after a validation failure")
	}
}

func TestGenerateCompleted(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{
		events: []protocol.Envelope{},
		result: &agent.GenerateResult{ReviewID: "rev-1", TaskCount: 3},
	}
	c := New(Options{Runner: runner})

	sess, err := c.Generate(context.Background(), validDiff, "claude-code", "paste")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if sess.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", sess.Status)
	}
	if sess.ReviewID != "rev-1" || sess.TaskCount != 3 {
		t.Errorf("ReviewID = %q, TaskCount = %d", sess.ReviewID, sess.TaskCount)
	}
	if sess.RunID == "" {
		t.Error("RunID must be generated")
	}
	if runner.lastReq.RunID != sess.RunID {
		t.Error("the generation call must carry the session's run id")
	}
	if sess.FinishedAt.Before(sess.StartedAt) {
		t.Error("FinishedAt before StartedAt")
	}
}

func TestGenerateStreamErrorTakesPriority(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{
		events: []protocol.Envelope{
			env(t, protocol.TagError, protocol.Error{Message: "agent crashed"}),
		},
		result:  &agent.GenerateResult{ReviewID: "rev-late"},
		proceed: make(chan struct{}),
	}
	c := New(Options{Runner: runner})

	sess, err := c.Generate(context.Background(), validDiff, "claude-code", "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if sess.Status != StatusErrored {
		t.Errorf("Status = %s, want errored", sess.Status)
	}
	if sess.Err == nil || !strings.Contains(sess.Err.Error(), "agent crashed") {
		t.Errorf("Err = %v", sess.Err)
	}
	if sess.ReviewID != "" {
		t.Error("the stale call resolution must be ignored")
	}
	close(runner.proceed)
}

func TestGenerateCancellationByMarker(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{err: errors.New("generation cancelled by user")}
	c := New(Options{Runner: runner})

	sess, err := c.Generate(context.Background(), validDiff, "claude-code", "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if sess.Status != StatusCancelled {
		t.Errorf("Status = %s, want cancelled", sess.Status)
	}
	if sess.Err != nil {
		t.Errorf("a cancellation is not an error outcome, got %v", sess.Err)
	}
	if sess.Notice == "" {
		t.Error("cancellation must carry a neutral notice")
	}

	// The reentrancy flag is cleared: a new run is possible.
	sess2, err := c.Generate(context.Background(), validDiff, "claude-code", "")
	if err != nil {
		t.Fatalf("Generate after cancellation: %v", err)
	}
	if sess2.RunID == sess.RunID {
		t.Error("a new run must get a fresh run id")
	}
}

func TestGenerateStreamCancellation(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{
		events: []protocol.Envelope{
			env(t, protocol.TagError, protocol.Error{Message: "run cancelled by user"}),
		},
		proceed: make(chan struct{}),
	}
	c := New(Options{Runner: runner})

	sess, err := c.Generate(context.Background(), validDiff, "claude-code", "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if sess.Status != StatusCancelled {
		t.Errorf("Status = %s, want cancelled", sess.Status)
	}
	close(runner.proceed)
}

func TestGenerateStaleRejectionAfterStreamCompleted(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{
		events: []protocol.Envelope{
			env(t, protocol.TagCompleted, protocol.Completed{TaskCount: 2}),
		},
		err:   errors.New("connection reset"),
		delay: 100 * time.Millisecond,
	}
	c := New(Options{Runner: runner})

	sess, err := c.Generate(context.Background(), validDiff, "claude-code", "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if sess.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed (stream result wins)", sess.Status)
	}
	if sess.TaskCount != 2 {
		t.Errorf("TaskCount = %d, want 2 from the Completed event", sess.TaskCount)
	}
}

func TestGenerateTimelineAccumulates(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{
		events: []protocol.Envelope{
			env(t, protocol.TagLog, protocol.Log{Message: "starting"}),
			env(t, protocol.TagToolCallStarted, protocol.ToolCallStarted{ToolCallID: "tc1", Title: "Read x.txt"}),
			env(t, protocol.TagToolCallComplete, protocol.ToolCallComplete{ToolCallID: "tc1", Status: protocol.StatusCompleted}),
			env(t, protocol.TagCompleted, protocol.Completed{TaskCount: 1}),
		},
		result: &agent.GenerateResult{ReviewID: "rev-3", TaskCount: 1},
		delay:  100 * time.Millisecond,
	}
	c := New(Options{Runner: runner})

	sess, err := c.Generate(context.Background(), validDiff, "claude-code", "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if sess.Status != StatusCompleted {
		t.Fatalf("Status = %s", sess.Status)
	}
	entries := sess.Timeline.Entries()
	// log, tool_call (mutated in place), completed.
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3: %+v", len(entries), entries)
	}
	if entries[1].ToolStatus != protocol.StatusCompleted {
		t.Errorf("tool call not mutated in place: %+v", entries[1])
	}
}

func TestStopWithoutActiveRun(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{}
	c := New(Options{Runner: runner})

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop with no run: %v", err)
	}
	if len(runner.stopCalls) != 0 {
		t.Error("Stop with no active run must not call the backend")
	}

	// Also after a terminal run.
	runner.result = &agent.GenerateResult{ReviewID: "r"}
	if _, err := c.Generate(context.Background(), validDiff, "claude-code", ""); err != nil {
		t.Fatal(err)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop after terminal run: %v", err)
	}
	if len(runner.stopCalls) != 0 {
		t.Error("Stop after a terminal run must not call the backend")
	}
}

func TestGenerateReentrancyGuard(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{
		result:  &agent.GenerateResult{ReviewID: "rev-1", TaskCount: 1},
		proceed: make(chan struct{}),
	}
	c := New(Options{Runner: runner})

	done := make(chan *Session, 1)
	go func() {
		sess, err := c.Generate(context.Background(), validDiff, "claude-code", "")
		if err != nil {
			t.Error(err)
		}
		done <- sess
	}()

	deadline := time.After(2 * time.Second)
	for c.Current() == nil {
		select {
		case <-deadline:
			t.Fatal("run never became active")
		case <-time.After(time.Millisecond):
		}
	}

	// A second Generate while a run is active is a no-op signalled by
	// ErrRunInProgress; it must not start another run.
	if _, err := c.Generate(context.Background(), validDiff, "claude-code", ""); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("concurrent Generate returned %v, want ErrRunInProgress", err)
	}
	if got := c.Current().RunID; got == "" {
		t.Fatal("active session lost")
	}

	// Clear is likewise refused mid-run.
	if err := c.Clear(); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("Clear during run returned %v, want ErrRunInProgress", err)
	}
	if c.Current() == nil {
		t.Error("Clear during run must not discard the session")
	}

	close(runner.proceed)
	sess := <-done
	if sess.Status != StatusCompleted {
		t.Fatalf("Status = %s, want completed", sess.Status)
	}

	// Once terminal, the guard is released.
	if _, err := c.Generate(context.Background(), validDiff, "claude-code", ""); err != nil {
		t.Errorf("Generate after terminal run: %v", err)
	}
}

func TestStopDuringRun(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{
		err:     errors.New("cancelled by user"),
		proceed: make(chan struct{}),
	}
	c := New(Options{Runner: runner})

	done := make(chan *Session, 1)
	go func() {
		sess, err := c.Generate(context.Background(), validDiff, "claude-code", "")
		if err != nil {
			t.Error(err)
		}
		done <- sess
	}()

	// Wait until the run is active.
	deadline := time.After(2 * time.Second)
	for c.Current() == nil {
		select {
		case <-deadline:
			t.Fatal("run never became active")
		case <-time.After(time.Millisecond):
		}
	}

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	runner.mu.Lock()
	stops := len(runner.stopCalls)
	runner.mu.Unlock()
	if stops != 1 {
		t.Fatalf("stop calls = %d, want 1", stops)
	}

	// Stop alone changes nothing; the state only moves once the call
	// rejects with the cancellation marker.
	if got := c.Current().Status; got != StatusGenerating {
		t.Errorf("Status after Stop = %s, want generating", got)
	}

	close(runner.proceed)
	sess := <-done
	if sess.Status != StatusCancelled {
		t.Errorf("Status = %s, want cancelled", sess.Status)
	}
	found := false
	for _, e := range sess.Timeline.Entries() {
		if strings.Contains(e.Message, "Stop requested") {
			found = true
		}
	}
	if !found {
		t.Error("Stop must append a log entry")
	}
}

func TestClear(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{result: &agent.GenerateResult{ReviewID: "r"}}
	c := New(Options{Runner: runner})
	if _, err := c.Generate(context.Background(), validDiff, "claude-code", ""); err != nil {
		t.Fatal(err)
	}
	if c.Current() == nil {
		t.Fatal("expected a session after Generate")
	}
	if err := c.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if c.Current() != nil {
		t.Error("Clear must discard the session")
	}
}

func TestGenerateSavesSession(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	runner := &fakeRunner{result: &agent.GenerateResult{ReviewID: "rev-9", TaskCount: 4}}
	c := New(Options{Runner: runner, StateDir: dir})

	sess, err := c.Generate(context.Background(), validDiff, "claude-code", "")
	if err != nil {
		t.Fatal(err)
	}
	rec, err := session.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.RunID != sess.RunID || rec.Status != string(StatusCompleted) || rec.TaskCount != 4 {
		t.Errorf("saved record mismatch: %+v", rec)
	}
}

func TestGenerateCoverageWarning(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{
		events: []protocol.Envelope{
			env(t, protocol.TagPlan, protocol.Plan{Entries: []protocol.PlanEntry{
				{Content: "review something unrelated", Status: protocol.PlanPending},
			}}),
		},
		result: &agent.GenerateResult{ReviewID: "rev-5", TaskCount: 1},
		delay:  100 * time.Millisecond,
	}
	c := New(Options{Runner: runner})

	sess, err := c.Generate(context.Background(), validDiff, "claude-code", "")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, w := range sess.CoverageWarnings {
		if strings.Contains(w, "x.txt") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a coverage warning for x.txt, got %v", sess.CoverageWarnings)
	}
}

func TestGenerateStreamMirror(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	runner := &fakeRunner{
		events: []protocol.Envelope{
			env(t, protocol.TagLog, protocol.Log{Message: "hello"}),
		},
		result: &agent.GenerateResult{ReviewID: "r"},
		delay:  100 * time.Millisecond,
	}
	c := New(Options{Runner: runner, Stream: &buf})

	if _, err := c.Generate(context.Background(), validDiff, "claude-code", ""); err != nil {
		t.Fatal(err)
	}
	line := strings.SplitN(buf.String(), "\n", 2)[0]
	var got protocol.Envelope
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("mirrored line is not JSON: %v", err)
	}
	if got.Event != protocol.TagLog {
		t.Errorf("mirrored event = %q", got.Event)
	}
}

func TestGenerateRulesInjected(t *testing.T) {
	t.Parallel()
	rules := []agent.Rule{{Name: "style", Body: "prefer table tests"}}
	runner := &fakeRunner{result: &agent.GenerateResult{ReviewID: "r"}}
	c := New(Options{Runner: runner, Rules: rules})

	if _, err := c.Generate(context.Background(), validDiff, "claude-code", ""); err != nil {
		t.Fatal(err)
	}
	if len(runner.lastReq.Rules) != 1 || runner.lastReq.Rules[0].Name != "style" {
		t.Errorf("rules not injected: %+v", runner.lastReq.Rules)
	}
}

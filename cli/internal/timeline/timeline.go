// Package timeline accumulates decoded progress events for one generation
// run into two sinks: an append-only log of entries (with in-place mutation
// for two-phase tool calls and delta concatenation for streamed text) and a
// plan view that merges full plan snapshots with ad-hoc tasks announced by
// TaskStarted.
//
// Apply must be called in delivery order from a single goroutine; out-of-order
// application breaks delta concatenation and update-by-id semantics.
package timeline

import (
	"encoding/json"
	"fmt"
	"time"

	"lareview/cli/internal/protocol"
)

// Entry types stored in the log.
const (
	EntryLog          = "log"
	EntryAgentMessage = "agent_message"
	EntryAgentThought = "agent_thought"
	EntryToolCall     = "tool_call"
	EntryTaskStarted  = "task_started"
	EntryTaskAdded    = "task_added"
	EntryCompleted    = "completed"
	EntryError        = "error"
)

// Outcome is the terminal signal an applied event may carry. The consumer
// (the generation controller) reconciles it with the call's own resolution.
type Outcome int

const (
	// OutcomeNone means the run continues.
	OutcomeNone Outcome = iota
	// OutcomeCompleted means the stream reported terminal success.
	OutcomeCompleted
	// OutcomeError means the stream reported terminal failure.
	OutcomeError
)

// Entry is one progress log item. Entries are immutable once appended except
// tool_call entries, which ToolCallComplete mutates in place by id, and
// message/thought entries, which grow by delta concatenation.
type Entry struct {
	Seq        int             `json:"seq"`
	Type       string          `json:"type"`
	Message    string          `json:"message"`
	Timestamp  time.Time       `json:"timestamp"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolStatus string          `json:"tool_status,omitempty"`
	ToolKind   string          `json:"tool_kind,omitempty"`
	RawInput   json.RawMessage `json:"raw_input,omitempty"`
	RawOutput  json.RawMessage `json:"raw_output,omitempty"`
}

// Timeline is the per-run event accumulator. Not safe for concurrent use;
// the single channel consumer owns it.
type Timeline struct {
	entries   []Entry
	toolCalls map[string]int // tool_call_id -> entries index
	streams   map[string]int // "m:"/"t:" + delta id -> entries index
	plan      []protocol.PlanEntry
	adhoc     []protocol.PlanEntry // TaskStarted titles, most recent last
	nextSeq   int

	// now is the entry timestamp source; tests may replace it.
	now func() time.Time

	// TaskCount is the count reported by the terminal Completed event, if any.
	TaskCount int
	// ErrorMessage is the message of a terminal Error event, if any.
	ErrorMessage string
}

// New returns an empty timeline.
func New() *Timeline {
	return &Timeline{
		toolCalls: make(map[string]int),
		streams:   make(map[string]int),
		now:       time.Now,
	}
}

// Entries returns the progress log in append order. The returned slice is
// the timeline's own backing array; callers must not mutate it.
func (t *Timeline) Entries() []Entry {
	return t.entries
}

// Len returns the number of log entries.
func (t *Timeline) Len() int {
	return len(t.entries)
}

// Plan returns the merged plan view: the latest Plan snapshot in order,
// followed by ad-hoc tasks (from TaskStarted) whose content string does not
// already appear in the snapshot. Matching by content equality is fragile
// under duplicate titles; that is the upstream behavior and is kept as-is.
func (t *Timeline) Plan() []protocol.PlanEntry {
	merged := make([]protocol.PlanEntry, 0, len(t.plan)+len(t.adhoc))
	seen := make(map[string]struct{}, len(t.plan))
	for _, e := range t.plan {
		merged = append(merged, e)
		seen[e.Content] = struct{}{}
	}
	for _, e := range t.adhoc {
		if _, ok := seen[e.Content]; ok {
			continue
		}
		merged = append(merged, e)
		seen[e.Content] = struct{}{}
	}
	return merged
}

// Log appends a plain log entry outside the event stream (for example a
// stop request issued by the user).
func (t *Timeline) Log(message string) {
	t.append(Entry{Type: EntryLog, Message: message})
}

// Apply decodes one envelope and folds it into the timeline, returning the
// terminal outcome it carries (OutcomeNone for non-terminal events).
// ToolCallComplete for an unknown id is a silent no-op. An unknown tag is
// recorded as a log entry and otherwise ignored; Apply never returns an
// error for it, keeping the stream alive.
func (t *Timeline) Apply(env protocol.Envelope) Outcome {
	payload, err := env.Payload()
	if err != nil {
		t.append(Entry{Type: EntryLog, Message: fmt.Sprintf("ignoring event %q: %v", env.Event, err)})
		return OutcomeNone
	}

	switch p := payload.(type) {
	case protocol.Log:
		t.append(Entry{Type: EntryLog, Message: p.Message})
	case protocol.MessageDelta:
		t.appendDelta("m:"+p.ID, EntryAgentMessage, p.Delta)
	case protocol.ThoughtDelta:
		t.appendDelta("t:"+p.ID, EntryAgentThought, p.Delta)
	case protocol.ToolCallStarted:
		idx := t.append(Entry{
			Type:       EntryToolCall,
			Message:    p.Title,
			ToolCallID: p.ToolCallID,
			ToolStatus: protocol.StatusRunning,
			ToolKind:   p.Kind,
		})
		t.toolCalls[p.ToolCallID] = idx
	case protocol.ToolCallComplete:
		idx, ok := t.toolCalls[p.ToolCallID]
		if !ok {
			// Completion without a prior start: idempotent ignore.
			return OutcomeNone
		}
		e := &t.entries[idx]
		e.ToolStatus = p.Status
		if p.Title != "" {
			e.Message = p.Title
		}
		if p.RawInput != nil {
			e.RawInput = p.RawInput
		}
		if p.RawOutput != nil {
			e.RawOutput = p.RawOutput
		}
	case protocol.Plan:
		t.plan = append([]protocol.PlanEntry(nil), p.Entries...)
	case protocol.TaskStarted:
		t.append(Entry{Type: EntryTaskStarted, Message: p.Title})
		t.markTask(p.Title)
	case protocol.TaskCompleted:
		t.append(Entry{Type: EntryTaskAdded, Message: p.Title})
		t.completeLatestTask()
	case protocol.Completed:
		t.TaskCount = p.TaskCount
		t.append(Entry{Type: EntryCompleted, Message: "Generation completed."})
		return OutcomeCompleted
	case protocol.Error:
		t.ErrorMessage = p.Message
		t.append(Entry{Type: EntryError, Message: p.Message})
		return OutcomeError
	}
	return OutcomeNone
}

// append adds an entry with the next sequence number and returns its index.
func (t *Timeline) append(e Entry) int {
	e.Seq = t.nextSeq
	t.nextSeq++
	e.Timestamp = t.now()
	t.entries = append(t.entries, e)
	return len(t.entries) - 1
}

// appendDelta extends the entry for key with delta, creating it on first use.
func (t *Timeline) appendDelta(key, entryType, delta string) {
	if idx, ok := t.streams[key]; ok {
		t.entries[idx].Message += delta
		return
	}
	t.streams[key] = t.append(Entry{Type: entryType, Message: delta})
}

// markTask records title as an in-progress ad-hoc task. A title already in
// the ad-hoc list is marked in progress again rather than duplicated.
func (t *Timeline) markTask(title string) {
	for i := range t.adhoc {
		if t.adhoc[i].Content == title {
			t.adhoc[i].Status = protocol.PlanInProgress
			return
		}
	}
	t.adhoc = append(t.adhoc, protocol.PlanEntry{Content: title, Status: protocol.PlanInProgress})
}

// completeLatestTask marks the most recently started ad-hoc task completed.
func (t *Timeline) completeLatestTask() {
	for i := len(t.adhoc) - 1; i >= 0; i-- {
		if t.adhoc[i].Status == protocol.PlanInProgress {
			t.adhoc[i].Status = protocol.PlanCompleted
			return
		}
	}
}

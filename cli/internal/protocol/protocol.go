// Package protocol defines the wire shape of generation-session progress
// events and decodes them into typed payloads. Events arrive as
// {"event": <tag>, "data": <payload>} objects over an ordered, push-based
// channel tied to one run.
//
// Decoding is strict about the envelope and lenient about the rest: an
// unknown tag yields ErrUnknownTag so the consumer can record the anomaly
// and keep reading; the stream is never aborted over a single event.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event tags carried in the envelope's "event" field.
const (
	TagLog              = "Log"
	TagMessageDelta     = "MessageDelta"
	TagThoughtDelta     = "ThoughtDelta"
	TagToolCallStarted  = "ToolCallStarted"
	TagToolCallComplete = "ToolCallComplete"
	TagTaskStarted      = "TaskStarted"
	TagTaskCompleted    = "TaskCompleted"
	TagCompleted        = "Completed"
	TagError            = "Error"
	TagPlan             = "Plan"
)

// Tool call status values reported by ToolCallComplete. A tool call begins
// as StatusRunning; StatusFailed is non-fatal to the run.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Plan entry status values.
const (
	PlanPending    = "pending"
	PlanInProgress = "in_progress"
	PlanCompleted  = "completed"
)

// ErrUnknownTag indicates an envelope with an unrecognized event tag.
var ErrUnknownTag = errors.New("unknown event tag")

// Envelope is the raw wire form of one progress event.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Log is local log output from the agent worker.
type Log struct {
	Message string `json:"message"`
}

// MessageDelta carries new characters of agent message text since the last
// update, keyed by message id.
type MessageDelta struct {
	ID    string `json:"id"`
	Delta string `json:"delta"`
}

// ThoughtDelta carries new characters of agent thought text, keyed by id.
type ThoughtDelta struct {
	ID    string `json:"id"`
	Delta string `json:"delta"`
}

// ToolCallStarted is phase one of a two-phase tool call update.
type ToolCallStarted struct {
	ToolCallID string `json:"tool_call_id"`
	Title      string `json:"title"`
	Kind       string `json:"kind"`
}

// ToolCallComplete is phase two: it updates the entry created by
// ToolCallStarted in place rather than appending a new one.
type ToolCallComplete struct {
	ToolCallID string          `json:"tool_call_id"`
	Status     string          `json:"status"`
	Title      string          `json:"title"`
	RawInput   json.RawMessage `json:"raw_input,omitempty"`
	RawOutput  json.RawMessage `json:"raw_output,omitempty"`
}

// PlanEntry is one task description with status inside a Plan snapshot.
type PlanEntry struct {
	Content string `json:"content"`
	Status  string `json:"status"`
}

// Plan is a full snapshot of the agent's plan; each Plan event replaces the
// previous snapshot wholesale.
type Plan struct {
	Entries []PlanEntry `json:"entries"`
}

// TaskStarted announces a new task being generated.
type TaskStarted struct {
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
}

// TaskCompleted announces that the most recently started task was persisted.
type TaskCompleted struct {
	Title string `json:"title"`
}

// Completed is the stream's terminal success event.
type Completed struct {
	TaskCount int `json:"task_count"`
}

// Error is the stream's terminal failure event.
type Error struct {
	Message string `json:"message"`
}

// Payload decodes the envelope's data into the typed payload for its tag.
// Unknown tags return ErrUnknownTag (wrapped with the tag name); malformed
// payloads return the JSON error.
func (e Envelope) Payload() (any, error) {
	switch e.Event {
	case TagLog:
		return decode[Log](e.Data)
	case TagMessageDelta:
		return decode[MessageDelta](e.Data)
	case TagThoughtDelta:
		return decode[ThoughtDelta](e.Data)
	case TagToolCallStarted:
		return decode[ToolCallStarted](e.Data)
	case TagToolCallComplete:
		return decode[ToolCallComplete](e.Data)
	case TagPlan:
		return decode[Plan](e.Data)
	case TagTaskStarted:
		return decode[TaskStarted](e.Data)
	case TagTaskCompleted:
		return decode[TaskCompleted](e.Data)
	case TagCompleted:
		return decode[Completed](e.Data)
	case TagError:
		return decode[Error](e.Data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, e.Event)
	}
}

// decode unmarshals data into T. A nil/empty payload yields the zero value:
// some tags (TaskCompleted, Completed) are legitimately sent with no data.
func decode[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode event payload: %w", err)
	}
	return v, nil
}

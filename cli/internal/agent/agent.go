// Package agent talks to the external review-generation service: the
// generation call, the per-run ordered event stream, and the best-effort
// stop call. The controller depends on the Runner interface so tests can
// substitute fakes.
package agent

import (
	"context"

	"lareview/cli/internal/protocol"
)

// Rule is a review rule injected into the generation request. Loading and
// matching live elsewhere; this is just the wire shape.
type Rule struct {
	Name string `json:"name"`
	Body string `json:"body"`
}

// GenerateRequest is the input of the generation call.
type GenerateRequest struct {
	DiffText string `json:"diff_text"`
	AgentID  string `json:"agent_id"`
	RunID    string `json:"run_id"`
	Rules    []Rule `json:"rules,omitempty"`
	Source   string `json:"source,omitempty"`
}

// GenerateResult is the generation call's success payload.
type GenerateResult struct {
	ReviewID  string `json:"review_id"`
	TaskCount int    `json:"task_count"`
	RunID     string `json:"run_id,omitempty"`
}

// Runner is the generation collaborator contract.
//
// Generate blocks until the run finishes; a rejection whose message contains
// the cancellation marker means the run was stopped, not failed. Events
// returns the ordered event channel for runID; the channel closes when the
// stream ends. Stop requests cancellation and has no meaningful return --
// the run only terminates once Generate rejects or the stream reports an
// Error.
type Runner interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)
	Events(ctx context.Context, runID string) (<-chan protocol.Envelope, error)
	Stop(ctx context.Context, runID string) error
}

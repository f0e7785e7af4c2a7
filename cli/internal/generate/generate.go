// Package generate owns one review-generation run at a time: it validates
// the diff, issues the generation call, consumes the ordered event stream,
// and reconciles the call's own resolution with stream-driven terminal
// events into a single terminal status.
//
// The generation call and the event stream are two independent completion
// sources for the same run. Whichever fires first determines the transition,
// except that a terminal stream event (Error or Completed) takes priority
// over a later call resolution, which is then treated as stale.
package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lareview/cli/internal/agent"
	"lareview/cli/internal/diff"
	"lareview/cli/internal/protocol"
	"lareview/cli/internal/session"
	"lareview/cli/internal/timeline"
	"lareview/cli/internal/trace"
)

// Status is the lifecycle state of a generation session.
type Status string

// Idle has no constant: before the first Generate and after Clear the
// controller simply has no current session.
const (
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusErrored    Status = "errored"
	StatusCancelled  Status = "cancelled"
)

// cancelledMarker reclassifies a rejection or stream error as a user
// cancellation. The agent embeds it in the failure message when a stop
// request interrupted the run.
const cancelledMarker = "cancelled by user"

// stoppedNotice is the neutral notice shown for cancelled runs instead of
// an error message.
const stoppedNotice = "Generation stopped."

// ErrRunInProgress indicates a Generate or Clear call while a run is still
// active. Callers treat it as a no-op signal, not a failure.
var ErrRunInProgress = errors.New("a generation run is already in progress")

// Session is the state of one generation run. It is created at Generate,
// mutated only by the controller consuming the run's event channel, and
// replaced on the next Generate or discarded on Clear.
type Session struct {
	RunID    string
	DiffText string
	AgentID  string
	Source   string
	Status   Status

	ReviewID  string
	TaskCount int

	StartedAt  time.Time
	FinishedAt time.Time

	Timeline *timeline.Timeline

	// Err is the terminal failure for StatusErrored; nil otherwise.
	Err error
	// Notice is the neutral message for StatusCancelled.
	Notice string
	// CoverageWarnings lists changed files no generated task mentioned.
	// Populated for completed runs only; informational, never fatal.
	CoverageWarnings []string
}

// Options configures a Controller.
type Options struct {
	Runner agent.Runner
	Tracer *trace.Tracer
	// StateDir enables persistence of the terminal session snapshot when
	// non-empty.
	StateDir string
	// Rules are injected into every generation request.
	Rules []agent.Rule
	// Stream mirrors raw event envelopes as NDJSON when non-nil. Writes are
	// best-effort.
	Stream io.Writer
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Controller drives generation runs. Generate blocks until the run reaches
// a terminal status; Stop and Clear may be called from other goroutines.
type Controller struct {
	runner   agent.Runner
	tr       *trace.Tracer
	stateDir string
	rules    []agent.Rule
	stream   io.Writer
	now      func() time.Time

	mu         sync.Mutex
	generating bool
	current    *Session
}

// New returns a Controller. Runner must be non-nil.
func New(opts Options) *Controller {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{
		runner:   opts.Runner,
		tr:       opts.Tracer,
		stateDir: opts.StateDir,
		rules:    opts.Rules,
		stream:   opts.Stream,
		now:      now,
	}
}

// Current returns the most recent session, or nil before the first Generate.
func (c *Controller) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// callResult carries the generation call's resolution to the event loop.
type callResult struct {
	res *agent.GenerateResult
	err error
}

// Generate validates diffText, starts a run, and blocks until it reaches a
// terminal status, returning the terminal session. A validation failure is
// returned as an error without starting a run; a concurrent Generate while a
// run is active returns ErrRunInProgress. The returned session's Status
// distinguishes Completed, Errored, and Cancelled; Generate itself returns a
// non-nil error only when no run was started.
func (c *Controller) Generate(ctx context.Context, diffText, agentID, source string) (*Session, error) {
	if err := diff.Validate(diffText); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.generating {
		c.mu.Unlock()
		return nil, ErrRunInProgress
	}
	sess := &Session{
		RunID:     uuid.NewString(),
		DiffText:  diffText,
		AgentID:   agentID,
		Source:    source,
		Status:    StatusGenerating,
		StartedAt: c.now(),
		Timeline:  timeline.New(),
	}
	c.generating = true
	c.current = sess
	c.mu.Unlock()

	c.tr.Section("Generate")
	c.tr.Printf("run %s agent %s diff %d bytes\n", sess.RunID, agentID, len(diffText))

	events, err := c.runner.Events(ctx, sess.RunID)
	if err != nil {
		c.finish(sess, StatusErrored, err)
		return sess, nil
	}

	callCh := make(chan callResult, 1)
	go func() {
		res, err := c.runner.Generate(ctx, &agent.GenerateRequest{
			DiffText: diffText,
			AgentID:  agentID,
			RunID:    sess.RunID,
			Rules:    c.rules,
			Source:   source,
		})
		callCh <- callResult{res: res, err: err}
	}()

	c.consume(sess, events, callCh)
	return sess, nil
}

// consume is the single event consumer for one run. It folds stream events
// into the timeline and merges them with the call resolution into one
// terminal transition.
func (c *Controller) consume(sess *Session, events <-chan protocol.Envelope, callCh <-chan callResult) {
	streamCompleted := false
	for {
		select {
		case env, ok := <-events:
			if !ok {
				// Stream ended without a terminal event; the call
				// resolution decides the outcome.
				events = nil
				continue
			}
			c.mirror(env)
			c.mu.Lock()
			outcome := sess.Timeline.Apply(env)
			c.mu.Unlock()
			switch outcome {
			case timeline.OutcomeError:
				// Stream error wins over any later call resolution.
				msg := sess.Timeline.ErrorMessage
				if strings.Contains(msg, cancelledMarker) {
					c.finish(sess, StatusCancelled, nil)
				} else {
					c.finish(sess, StatusErrored, errors.New(msg))
				}
				return
			case timeline.OutcomeCompleted:
				streamCompleted = true
				sess.TaskCount = sess.Timeline.TaskCount
			}

		case res := <-callCh:
			if res.err != nil {
				if streamCompleted {
					// Stream already reported success; the rejection is
					// stale. Keep the completed outcome.
					c.mu.Lock()
					sess.Timeline.Log(fmt.Sprintf("ignoring stale call error after completion: %v", res.err))
					c.mu.Unlock()
					c.finish(sess, StatusCompleted, nil)
					return
				}
				if strings.Contains(res.err.Error(), cancelledMarker) {
					c.finish(sess, StatusCancelled, nil)
				} else {
					c.finish(sess, StatusErrored, res.err)
				}
				return
			}
			if res.res != nil {
				sess.ReviewID = res.res.ReviewID
				if res.res.TaskCount > 0 {
					sess.TaskCount = res.res.TaskCount
				}
			}
			c.finish(sess, StatusCompleted, nil)
			return
		}
	}
}

// finish applies the terminal transition: status, timestamps, the neutral
// notice for cancellations, the coverage report for completions, and the
// reentrancy flag reset that makes the next Generate possible.
func (c *Controller) finish(sess *Session, status Status, err error) {
	c.mu.Lock()
	sess.Status = status
	sess.FinishedAt = c.now()
	sess.Err = err
	if status == StatusCancelled {
		sess.Notice = stoppedNotice
	}
	if status == StatusCompleted {
		sess.CoverageWarnings = coverageWarnings(sess)
	}
	c.generating = false
	c.mu.Unlock()

	c.tr.Section("Terminal")
	c.tr.Printf("run %s status %s tasks %d\n", sess.RunID, status, sess.TaskCount)

	if c.stateDir != "" {
		if saveErr := c.save(sess); saveErr != nil {
			c.tr.Printf("session save failed: %v", saveErr)
		}
	}
}

// Stop requests cancellation of the active run. With no active run it does
// nothing and returns nil: no backend call, no error. Stop never changes the
// session status itself; the run terminates when the generation call rejects
// with the cancellation marker or the stream reports an error.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	sess := c.current
	active := c.generating && sess != nil && sess.RunID != ""
	c.mu.Unlock()
	if !active {
		return nil
	}

	if err := c.runner.Stop(ctx, sess.RunID); err != nil {
		return err
	}
	c.mu.Lock()
	sess.Timeline.Log("Stop requested by user.")
	c.mu.Unlock()
	return nil
}

// Clear resets a terminal session back to an empty controller, discarding
// diff text, timeline, and plan state. Clearing during an active run returns
// ErrRunInProgress.
func (c *Controller) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generating {
		return ErrRunInProgress
	}
	c.current = nil
	return nil
}

// mirror writes the raw envelope as one NDJSON line. Best-effort; a failed
// write never interrupts the run.
func (c *Controller) mirror(env protocol.Envelope) {
	if c.stream == nil {
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	data = append(data, '\n')
	_, _ = c.stream.Write(data)
}

// coverageWarnings reports changed files of the diff that no plan entry or
// task title mentions. Informational only.
func coverageWarnings(sess *Session) []string {
	parsed := diff.Parse(sess.DiffText)
	titles := sess.Timeline.Plan()
	var warnings []string
	for _, name := range parsed.ChangedFileNames() {
		mentioned := false
		for _, t := range titles {
			if strings.Contains(t.Content, name) {
				mentioned = true
				break
			}
		}
		if !mentioned {
			warnings = append(warnings, fmt.Sprintf("no task mentions changed file %s", name))
		}
	}
	return warnings
}

// save persists the terminal session snapshot for `lareview last`.
func (c *Controller) save(sess *Session) error {
	rec := session.Record{
		RunID:      sess.RunID,
		AgentID:    sess.AgentID,
		Status:     string(sess.Status),
		ReviewID:   sess.ReviewID,
		TaskCount:  sess.TaskCount,
		Source:     sess.Source,
		StartedAt:  sess.StartedAt,
		FinishedAt: sess.FinishedAt,
	}
	if sess.Err != nil {
		rec.Error = sess.Err.Error()
	}
	return session.Save(c.stateDir, &rec)
}

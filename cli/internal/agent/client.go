package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lareview/cli/internal/protocol"
)

const _defaultTimeout = 10 * time.Minute

// eventBufferSize bounds how far the stream reader may run ahead of the
// consumer before blocking.
const eventBufferSize = 64

// maxEventLineBytes caps one NDJSON event line; tool-call raw output can be large.
const maxEventLineBytes = 1 << 20

// ErrUnreachable indicates the agent service could not be reached
// (connection refused, timeout, or a non-2xx status on the stream endpoint).
var ErrUnreachable = errors.New("agent service unreachable")

// Client is the HTTP Runner implementation. Zero value is not valid; use
// NewClient.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds an agent client. baseURL is the API root. If httpClient
// is nil, a default client with a 10m timeout is used; generation runs are
// long-lived, so callers with tighter budgets should pass their own client
// or cancel via context.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: _defaultTimeout}
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), httpClient: httpClient}
}

// Generate POSTs the run request and blocks until the service responds,
// which happens only when the run has finished. A non-2xx response becomes
// an error carrying the body text, so a "cancelled by user" rejection keeps
// its marker for the controller to reclassify.
func (c *Client) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("agent generate: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("agent generate: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("agent generate: %w", errors.Join(ErrUnreachable, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxEventLineBytes))
		return nil, fmt.Errorf("agent generate: %s", strings.TrimSpace(string(msg)))
	}
	var result GenerateResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("agent generate: parse response: %w", err)
	}
	return &result, nil
}

// Events opens the NDJSON progress stream for runID and returns an ordered
// channel of envelopes. Malformed lines are skipped; the channel closes when
// the stream ends or ctx is cancelled.
func (c *Client) Events(ctx context.Context, runID string) (<-chan protocol.Envelope, error) {
	url := c.baseURL + "/api/runs/" + runID + "/events"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("agent events: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent events: %w", errors.Join(ErrUnreachable, err))
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("agent events: %w: HTTP %d", ErrUnreachable, resp.StatusCode)
	}

	ch := make(chan protocol.Envelope, eventBufferSize)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxEventLineBytes)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var env protocol.Envelope
			if err := json.Unmarshal(line, &env); err != nil {
				continue
			}
			select {
			case ch <- env:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Stop requests cancellation of runID. Fire-and-forget: the response body is
// discarded and a non-2xx status is not an error. Actual termination arrives
// through the Generate rejection or a stream Error event.
func (c *Client) Stop(ctx context.Context, runID string) error {
	url := c.baseURL + "/api/runs/" + runID + "/stop"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("agent stop: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("agent stop: %w", errors.Join(ErrUnreachable, err))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

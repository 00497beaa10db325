package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"goa.design/clue/log"

	"github.com/xiaot623/gogo/workspace/internal/stream"
)

// Client invokes an external agent over HTTP. The agent answers with an SSE
// stream whose data lines carry one or more envelopes.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a new agent client.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Invoke calls the agent's /invoke endpoint and emits every SSE event as one
// log entry.
func (c *Client) Invoke(ctx context.Context, inv *Invocation, emit EmitFunc) error {
	body, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/invoke", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("X-Workspace-ID", inv.WorkspaceID)
	httpReq.Header.Set("X-Run-ID", inv.RunID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to invoke agent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("agent returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	return c.relay(ctx, resp.Body, emit)
}

// relay reads SSE frames from r and emits the envelopes of each one.
func (c *Client) relay(ctx context.Context, r io.Reader, emit EmitFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan stream.Frame)
	readErr := make(chan error, 1)
	go func() {
		readErr <- stream.ReadFrames(ctx, r, frames)
		close(frames)
	}()

	for f := range frames {
		if f.KeepAlive || f.Data == "" {
			continue
		}
		envs, errs := stream.ParsePayload(f.Data)
		for _, err := range errs {
			log.Warn(ctx, log.KV{K: "msg", V: "dropping malformed agent envelope"},
				log.KV{K: "err", V: err.Error()})
		}
		if len(envs) == 0 {
			continue
		}
		if err := emit(ctx, envs...); err != nil {
			cancel()
			for range frames {
			}
			return err
		}
	}
	return <-readErr
}

// Package session is the client side of workspace setup: it follows the
// active run of a workspace, merges the streamed documents with local edits
// and walks the workspace through its stages.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xiaot623/gogo/workspace/internal/domain"
)

// TenantHeader carries the caller's tenant on every request.
const TenantHeader = "X-Tenant-ID"

// Client is an HTTP client for the external workspace API.
type Client struct {
	baseURL      string
	tenantID     string
	httpClient   *http.Client
	streamClient *http.Client
}

// NewClient creates a new API client acting for tenantID.
func NewClient(baseURL, tenantID string) *Client {
	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		tenantID: tenantID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		// Streams stay open for as long as the caller follows the run.
		streamClient: &http.Client{},
	}
}

// BaseURL returns the server address the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// TenantID returns the tenant the client acts for.
func (c *Client) TenantID() string { return c.tenantID }

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.Status, e.Message)
}

// ErrorResponse is the body of an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CreateWorkspace calls POST /v1/workspaces.
func (c *Client) CreateWorkspace(ctx context.Context, req domain.CreateWorkspaceRequest) (*domain.WorkspaceResponse, error) {
	var resp domain.WorkspaceResponse
	if err := c.do(ctx, http.MethodPost, "/v1/workspaces", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return &resp, nil
}

// GetWorkspace calls GET /v1/workspaces/:workspace_id.
func (c *Client) GetWorkspace(ctx context.Context, workspaceID string) (*domain.WorkspaceResponse, error) {
	var resp domain.WorkspaceResponse
	if err := c.do(ctx, http.MethodGet, "/v1/workspaces/"+url.PathEscape(workspaceID), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	return &resp, nil
}

// SubmitMessage calls POST /v1/workspaces/:workspace_id/messages.
func (c *Client) SubmitMessage(ctx context.Context, workspaceID string, req domain.SubmitMessageRequest) (*domain.SubmitMessageResponse, error) {
	var resp domain.SubmitMessageResponse
	path := fmt.Sprintf("/v1/workspaces/%s/messages", url.PathEscape(workspaceID))
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to submit message: %w", err)
	}
	return &resp, nil
}

// ConfirmStage calls POST /v1/workspaces/:workspace_id/stages/:stage/confirm.
func (c *Client) ConfirmStage(ctx context.Context, workspaceID string, stage domain.Stage, req domain.ConfirmStageRequest) (*domain.ConfirmStageResponse, error) {
	var resp domain.ConfirmStageResponse
	path := fmt.Sprintf("/v1/workspaces/%s/stages/%s/confirm", url.PathEscape(workspaceID), stage)
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to confirm stage %s: %w", stage, err)
	}
	return &resp, nil
}

// ListDocuments calls GET /v1/workspaces/:workspace_id/documents.
func (c *Client) ListDocuments(ctx context.Context, workspaceID string) ([]domain.StageDocument, error) {
	var resp struct {
		Documents []domain.StageDocument `json:"documents"`
	}
	path := fmt.Sprintf("/v1/workspaces/%s/documents", url.PathEscape(workspaceID))
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return resp.Documents, nil
}

// GetMessages calls GET /v1/workspaces/:workspace_id/messages.
func (c *Client) GetMessages(ctx context.Context, workspaceID string, limit int) ([]domain.Message, error) {
	var resp struct {
		Messages []domain.Message `json:"messages"`
	}
	path := fmt.Sprintf("/v1/workspaces/%s/messages?limit=%d", url.PathEscape(workspaceID), limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return resp.Messages, nil
}

// Open calls GET /v1/runs/:run_id/stream and returns the SSE body. The
// stream ends when ctx is done or the body is closed.
func (c *Client) Open(ctx context.Context, runID string, cursor int64) (io.ReadCloser, error) {
	u := fmt.Sprintf("%s/v1/runs/%s/stream?cursor=%s", c.baseURL, url.PathEscape(runID), strconv.FormatInt(cursor, 10))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set(TenantHeader, c.tenantID)

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readError(resp)
	}
	return resp.Body, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set(TenantHeader, c.tenantID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func readError(resp *http.Response) error {
	respBody, _ := io.ReadAll(resp.Body)
	var errResp ErrorResponse
	if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}
	return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
}

package domain

import "encoding/json"

// CreateWorkspaceRequest starts a new workspace setup.
type CreateWorkspaceRequest struct {
	WorkspaceID string `json:"workspace_id,omitempty"`
	TenantID    string `json:"tenant_id,omitempty"`
}

// WorkspaceResponse describes a workspace and the run a client should follow.
type WorkspaceResponse struct {
	Workspace Workspace `json:"workspace"`
	State     RunState  `json:"state"`
}

// SubmitMessageRequest carries a user chat turn plus the editor state the
// agent should take into account.
type SubmitMessageRequest struct {
	Message          string          `json:"message"`
	DocumentSnapshot json.RawMessage `json:"current_document_snapshot,omitempty"`
	UserEditedFields []string        `json:"user_edited_fields,omitempty"`
}

// SubmitMessageResponse returns the log id assigned to the turn.
type SubmitMessageResponse struct {
	RunID     string `json:"run_id"`
	LogID     int64  `json:"log_id"`
	MessageID string `json:"message_id"`
}

// ConfirmStageRequest carries the finalized document of the stage being left.
type ConfirmStageRequest struct {
	Document json.RawMessage `json:"document"`
}

// ConfirmStageResponse tells the caller where to point its stream.
type ConfirmStageResponse struct {
	Stage Stage  `json:"stage"`
	RunID string `json:"run_id"`
}

// AppendLogRequest is sent by agents publishing into a run log. Either
// Envelopes or Content is set.
type AppendLogRequest struct {
	Envelopes []json.RawMessage `json:"envelopes,omitempty"`
	Content   string            `json:"content,omitempty"`
}

// AppendLogResponse returns the assigned log id.
type AppendLogResponse struct {
	RunID string `json:"run_id"`
	LogID int64  `json:"log_id"`
}

// LogPage is a forward page of run log entries.
type LogPage struct {
	Entries    []RunLogEntry `json:"entries"`
	NextCursor int64         `json:"next_cursor"`
	HasMore    bool          `json:"has_more"`
}

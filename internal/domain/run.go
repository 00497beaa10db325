package domain

import (
	"encoding/json"
	"time"
)

// RunLogEntry is one immutable row of a run's append-only log.
type RunLogEntry struct {
	LogID     int64     `json:"log_id"`
	RunID     string    `json:"run_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Run represents one execution of a single setup stage.
type Run struct {
	RunID       string     `json:"run_id"`
	WorkspaceID string     `json:"workspace_id"`
	Stage       Stage      `json:"stage"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// Workspace is the unit that moves through the setup stages.
type Workspace struct {
	WorkspaceID string    `json:"workspace_id"`
	TenantID    string    `json:"tenant_id"`
	Stage       Stage     `json:"stage"`
	ActiveRunID string    `json:"active_run_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RunState is the pointer a client follows: which run of which stage is live
// and how far into its log the client has read.
type RunState struct {
	WorkspaceID string `json:"workspace_id"`
	RunID       string `json:"run_id"`
	Stage       Stage  `json:"stage"`
	Cursor      int64  `json:"cursor"`
}

// Message is a chat transcript row. LogID correlates it with the run log
// entry that carried it.
type Message struct {
	MessageID   string    `json:"message_id"`
	WorkspaceID string    `json:"workspace_id"`
	RunID       string    `json:"run_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	LogID       int64     `json:"log_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// StageDocument is the finalized document persisted when a stage is left.
type StageDocument struct {
	WorkspaceID      string           `json:"workspace_id"`
	Stage            Stage            `json:"stage"`
	Kind             DocumentKind     `json:"kind"`
	Document         json.RawMessage  `json:"document"`
	IterationHistory []IterationEntry `json:"iteration_history,omitempty"`
	ConfirmedAt      time.Time        `json:"confirmed_at"`
}

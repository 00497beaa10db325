package store

import (
	"context"
	"errors"
	"time"

	"github.com/xiaot623/gogo/workspace/internal/domain"
)

// ErrConflict is returned when a stage transition races with another one.
var ErrConflict = errors.New("workspace stage changed concurrently")

// RunLog is the append-only log of every run. Log ids are assigned by the
// implementation and are strictly increasing within a run.
type RunLog interface {
	Append(ctx context.Context, runID, content string) (int64, error)
	List(ctx context.Context, runID string, afterLogID int64, limit int) ([]domain.RunLogEntry, error)
}

// AdvanceParams describes one stage transition.
type AdvanceParams struct {
	WorkspaceID string
	From        domain.Stage
	To          domain.Stage
	Document    *domain.StageDocument
	OldRunID    string
	// NewRun is nil when To is terminal.
	NewRun *domain.Run
	// Announcement, when set, is appended as the first log entry of NewRun.
	Announcement string
	At           time.Time
}

// Store persists workspaces, runs, transcripts and confirmed documents.
type Store interface {
	RunLog

	CreateWorkspace(ctx context.Context, ws *domain.Workspace, run *domain.Run) error
	GetWorkspace(ctx context.Context, workspaceID string) (*domain.Workspace, error)
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	UpdateRunCompleted(ctx context.Context, runID string, status domain.RunStatus) error

	// AppendMessage appends content to the message's run log and records the
	// transcript row in one transaction. It sets msg.LogID.
	AppendMessage(ctx context.Context, msg *domain.Message, content string) (int64, error)
	CreateMessage(ctx context.Context, msg *domain.Message) error
	GetMessages(ctx context.Context, workspaceID string, limit int) ([]domain.Message, error)

	// AdvanceStage applies a stage transition in one transaction.
	AdvanceStage(ctx context.Context, p AdvanceParams) error
	GetStageDocument(ctx context.Context, workspaceID string, stage domain.Stage) (*domain.StageDocument, error)
	ListStageDocuments(ctx context.Context, workspaceID string) ([]domain.StageDocument, error)

	Close() error
}

package service

import (
	"context"
	"fmt"

	"goa.design/clue/log"

	"github.com/xiaot623/gogo/workspace/internal/adapter/agent"
	"github.com/xiaot623/gogo/workspace/internal/domain"
	"github.com/xiaot623/gogo/workspace/internal/policy"
	"github.com/xiaot623/gogo/workspace/internal/stage"
)

// CreateWorkspace starts a workspace in the intent stage with a fresh run.
func (s *Service) CreateWorkspace(ctx context.Context, req domain.CreateWorkspaceRequest) (*domain.WorkspaceResponse, error) {
	if req.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	wsID := req.WorkspaceID
	if wsID == "" {
		wsID = newID("ws_")
	}
	now := s.now()
	run := &domain.Run{
		RunID:       newID("run_"),
		WorkspaceID: wsID,
		Stage:       stage.Initial(),
		Status:      domain.RunStatusRunning,
		StartedAt:   now,
	}
	ws := &domain.Workspace{
		WorkspaceID: wsID,
		TenantID:    req.TenantID,
		Stage:       run.Stage,
		ActiveRunID: run.RunID,
		CreatedAt:   now,
	}
	if err := s.store.CreateWorkspace(ctx, ws, run); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	log.Info(ctx, log.KV{K: "msg", V: "workspace created"},
		log.KV{K: "workspace_id", V: wsID}, log.KV{K: "run_id", V: run.RunID})

	s.startTurn(&agent.Invocation{WorkspaceID: wsID, RunID: run.RunID, Stage: run.Stage})
	return &domain.WorkspaceResponse{Workspace: *ws, State: stateOf(ws)}, nil
}

// GetWorkspace returns a workspace and the run a client should follow.
func (s *Service) GetWorkspace(ctx context.Context, workspaceID string) (*domain.WorkspaceResponse, error) {
	ws, err := s.workspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return &domain.WorkspaceResponse{Workspace: *ws, State: stateOf(ws)}, nil
}

// Authorize reports ErrForbidden unless tenantID may access the workspace.
// Access is decided by the same policy the stream tailer uses.
func (s *Service) Authorize(ctx context.Context, tenantID, workspaceID string) error {
	ws, err := s.workspace(ctx, workspaceID)
	if err != nil {
		return err
	}
	if s.policy == nil {
		return ErrForbidden
	}
	in := policy.Input{
		TenantID: tenantID,
		Run:      policy.RunFacts{RunID: ws.ActiveRunID, WorkspaceID: ws.WorkspaceID, TenantID: ws.TenantID},
		Action:   "workspace.access",
	}
	if !s.policy.Allowed(ctx, in) {
		return ErrForbidden
	}
	return nil
}

func (s *Service) workspace(ctx context.Context, workspaceID string) (*domain.Workspace, error) {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	if ws == nil {
		return nil, fmt.Errorf("%w: workspace %s", ErrNotFound, workspaceID)
	}
	return ws, nil
}

// stateOf starts a client at the beginning of the active run.
func stateOf(ws *domain.Workspace) domain.RunState {
	return domain.RunState{WorkspaceID: ws.WorkspaceID, RunID: ws.ActiveRunID, Stage: ws.Stage}
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"

	"github.com/xiaot623/gogo/workspace/internal/adapter/agent"
	"github.com/xiaot623/gogo/workspace/internal/docschema"
	"github.com/xiaot623/gogo/workspace/internal/domain"
	store "github.com/xiaot623/gogo/workspace/internal/repository"
	"github.com/xiaot623/gogo/workspace/internal/stage"
)

// ConfirmStage finalizes the document of the workspace's current stage and
// moves the workspace to the next one. The store writes happen in one
// transaction; the new run starts with a stage_update entry and the agent is
// kicked off on it. Confirming the last document stage returns an empty run
// id.
func (s *Service) ConfirmStage(ctx context.Context, workspaceID string, from domain.Stage, req domain.ConfirmStageRequest) (resp *domain.ConfirmStageResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "service.ConfirmStage",
		trace.WithAttributes(attribute.String("workspace_id", workspaceID), attribute.String("stage", string(from))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "confirm failed")
		}
		span.End()
	}()

	ws, err := s.workspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	next, err := stage.Advance(ws.Stage, from)
	if err != nil {
		return nil, err
	}
	kind, _ := from.DocumentKind()

	doc, err := docschema.ValidateJSON(kind, req.Document)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	doc["confirmed"] = true
	finalized, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	var system struct {
		IterationHistory []domain.IterationEntry `json:"iteration_history"`
	}
	if err := json.Unmarshal(finalized, &system); err != nil {
		return nil, fmt.Errorf("%w: iteration_history: %v", ErrInvalidInput, err)
	}

	now := s.now()
	params := store.AdvanceParams{
		WorkspaceID: ws.WorkspaceID,
		From:        from,
		To:          next,
		OldRunID:    ws.ActiveRunID,
		At:          now,
		Document: &domain.StageDocument{
			WorkspaceID:      ws.WorkspaceID,
			Stage:            from,
			Kind:             kind,
			Document:         finalized,
			IterationHistory: system.IterationHistory,
			ConfirmedAt:      now,
		},
	}
	if next != domain.StageComplete {
		params.NewRun = &domain.Run{
			RunID:       newID("run_"),
			WorkspaceID: ws.WorkspaceID,
			Stage:       next,
			Status:      domain.RunStatusRunning,
			StartedAt:   now,
		}
	}
	newRunID := ""
	if params.NewRun != nil {
		newRunID = params.NewRun.RunID
	}
	announcement, err := domain.NewEnvelope(domain.EventStageUpdate, domain.StageUpdatePayload{Stage: next, RunID: newRunID})
	if err != nil {
		return nil, err
	}
	content := domain.JoinEnvelopes(announcement)
	if s.colocated {
		params.Announcement = content
	}

	if err := s.store.AdvanceStage(ctx, params); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: %v", stage.ErrStageMismatch, err)
		}
		return nil, fmt.Errorf("failed to advance stage: %w", err)
	}
	if !s.colocated && params.NewRun != nil {
		if _, err := s.publisher.PublishContent(ctx, newRunID, content); err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "failed to announce stage"}, log.KV{K: "run_id", V: newRunID})
		}
	}
	// Followers of the old run learn where the workspace went.
	if _, err := s.publisher.PublishContent(ctx, ws.ActiveRunID, content); err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "failed to announce stage on previous run"},
			log.KV{K: "run_id", V: ws.ActiveRunID}, log.KV{K: "err", V: err.Error()})
	}
	log.Info(ctx, log.KV{K: "msg", V: "stage confirmed"},
		log.KV{K: "workspace_id", V: ws.WorkspaceID}, log.KV{K: "from", V: from},
		log.KV{K: "to", V: next}, log.KV{K: "run_id", V: newRunID})

	if params.NewRun != nil {
		s.startTurn(&agent.Invocation{
			WorkspaceID: ws.WorkspaceID,
			RunID:       newRunID,
			Stage:       next,
			Previous:    finalized,
		})
	}
	return &domain.ConfirmStageResponse{Stage: next, RunID: newRunID}, nil
}

// GetDocument returns the confirmed document of one stage.
func (s *Service) GetDocument(ctx context.Context, workspaceID string, st domain.Stage) (*domain.StageDocument, error) {
	if !st.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, stage.ErrUnknownStage)
	}
	if _, err := s.workspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	doc, err := s.store.GetStageDocument(ctx, workspaceID, st)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: no confirmed %s document", ErrNotFound, st)
	}
	return doc, nil
}

// ListDocuments returns every confirmed document of a workspace.
func (s *Service) ListDocuments(ctx context.Context, workspaceID string) ([]domain.StageDocument, error) {
	if _, err := s.workspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	docs, err := s.store.ListStageDocuments(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	if docs == nil {
		docs = []domain.StageDocument{}
	}
	return docs, nil
}

package service

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"

	"github.com/xiaot623/gogo/workspace/internal/adapter/agent"
	"github.com/xiaot623/gogo/workspace/internal/domain"
)

// SubmitUserMessage records a user turn in the active run and starts the
// agent on it. The run log append happens first; if it fails nothing else
// is recorded and the agent is not started.
func (s *Service) SubmitUserMessage(ctx context.Context, workspaceID string, req domain.SubmitMessageRequest) (*domain.SubmitMessageResponse, error) {
	ctx, span := s.tracer.Start(ctx, "service.SubmitUserMessage",
		trace.WithAttributes(attribute.String("workspace_id", workspaceID)))
	defer span.End()

	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidInput)
	}
	ws, err := s.workspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if ws.Stage == domain.StageComplete || ws.ActiveRunID == "" {
		return nil, fmt.Errorf("%w: workspace %s is complete", ErrInvalidInput, workspaceID)
	}

	msgID := newID("msg_")
	env, err := domain.NewEnvelope(domain.EventUserMessage, domain.UserMessagePayload{
		MessageID:        msgID,
		Message:          req.Message,
		DocumentSnapshot: req.DocumentSnapshot,
		UserEditedFields: req.UserEditedFields,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	msg := &domain.Message{
		MessageID:   msgID,
		WorkspaceID: ws.WorkspaceID,
		RunID:       ws.ActiveRunID,
		Role:        "user",
		Content:     req.Message,
		CreatedAt:   s.now(),
	}

	logID, err := s.appendMessage(ctx, msg, domain.JoinEnvelopes(env))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int64("log_id", logID))

	s.startTurn(&agent.Invocation{
		WorkspaceID:      ws.WorkspaceID,
		RunID:            ws.ActiveRunID,
		Stage:            ws.Stage,
		Message:          req.Message,
		LogID:            logID,
		DocumentSnapshot: req.DocumentSnapshot,
		UserEditedFields: req.UserEditedFields,
	})
	return &domain.SubmitMessageResponse{RunID: ws.ActiveRunID, LogID: logID, MessageID: msgID}, nil
}

// appendMessage writes the turn to the run log and the transcript. With the
// run log in the same database both happen in one transaction; otherwise the
// transcript row is best effort once the log append succeeded.
func (s *Service) appendMessage(ctx context.Context, msg *domain.Message, content string) (int64, error) {
	if s.colocated {
		logID, err := s.store.AppendMessage(ctx, msg, content)
		if err != nil {
			return 0, fmt.Errorf("failed to append message: %w", err)
		}
		return logID, nil
	}

	logID, err := s.publisher.PublishContent(ctx, msg.RunID, content)
	if err != nil {
		return 0, err
	}
	msg.LogID = logID
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "failed to save transcript row"},
			log.KV{K: "message_id", V: msg.MessageID})
	}
	return logID, nil
}

// GetMessages returns the chat transcript of a workspace, oldest first.
func (s *Service) GetMessages(ctx context.Context, workspaceID string, limit int) ([]domain.Message, error) {
	if _, err := s.workspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	msgs, err := s.store.GetMessages(ctx, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}

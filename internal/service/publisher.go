package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xiaot623/gogo/workspace/internal/domain"
	store "github.com/xiaot623/gogo/workspace/internal/repository"
)

// Publisher turns producer output into run log entries.
type Publisher struct {
	log     store.RunLog
	entries metric.Int64Counter
}

// NewPublisher returns a publisher appending to runLog.
func NewPublisher(runLog store.RunLog) *Publisher {
	p := &Publisher{log: runLog}
	p.entries, _ = otel.Meter(instrumentation).Int64Counter("publisher.entries",
		metric.WithDescription("Run log entries published"))
	return p
}

// Publish appends envs to the run log as a single entry and returns its log
// id. Envelopes in one entry are newline separated.
func (p *Publisher) Publish(ctx context.Context, runID string, envs ...domain.Envelope) (int64, error) {
	if len(envs) == 0 {
		return 0, fmt.Errorf("%w: nothing to publish", ErrInvalidInput)
	}
	return p.PublishContent(ctx, runID, domain.JoinEnvelopes(envs...))
}

// PublishContent appends content verbatim.
func (p *Publisher) PublishContent(ctx context.Context, runID, content string) (int64, error) {
	logID, err := p.log.Append(ctx, runID, content)
	if err != nil {
		return 0, fmt.Errorf("append run log: %w", err)
	}
	if p.entries != nil {
		p.entries.Add(ctx, 1, metric.WithAttributes(attribute.String("run_id", runID)))
	}
	return logID, nil
}

// AppendLog publishes agent output received over the internal API.
func (s *Service) AppendLog(ctx context.Context, runID string, req domain.AppendLogRequest) (*domain.AppendLogResponse, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}

	var logID int64
	switch {
	case len(req.Envelopes) > 0:
		envs := make([]domain.Envelope, 0, len(req.Envelopes))
		for i, raw := range req.Envelopes {
			env, err := domain.ParseEnvelope(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: envelope %d: %v", ErrInvalidInput, i, err)
			}
			envs = append(envs, env)
		}
		logID, err = s.publisher.Publish(ctx, runID, envs...)
	case req.Content != "":
		logID, err = s.publisher.PublishContent(ctx, runID, req.Content)
	default:
		return nil, fmt.Errorf("%w: envelopes or content is required", ErrInvalidInput)
	}
	if err != nil {
		return nil, err
	}
	return &domain.AppendLogResponse{RunID: runID, LogID: logID}, nil
}

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// GetLog returns the entries of a run after the given log id.
func (s *Service) GetLog(ctx context.Context, runID string, after int64, limit int) (*domain.LogPage, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}

	entries, err := s.runLog.List(ctx, runID, after, limit+1)
	if err != nil {
		return nil, fmt.Errorf("failed to list run log: %w", err)
	}
	page := &domain.LogPage{Entries: entries, NextCursor: after}
	if len(entries) > limit {
		page.Entries = entries[:limit]
		page.HasMore = true
	}
	if n := len(page.Entries); n > 0 {
		page.NextCursor = page.Entries[n-1].LogID
	}
	if page.Entries == nil {
		page.Entries = []domain.RunLogEntry{}
	}
	return page, nil
}

// GetRun returns a run.
func (s *Service) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}
	return run, nil
}

func summaryOf(envs []domain.Envelope) string {
	for _, env := range envs {
		var p struct {
			UpdateSummary string `json:"update_summary"`
		}
		if err := json.Unmarshal(env.Raw, &p); err == nil && p.UpdateSummary != "" {
			return p.UpdateSummary
		}
	}
	return ""
}

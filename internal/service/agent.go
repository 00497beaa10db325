package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"goa.design/clue/log"

	"github.com/xiaot623/gogo/workspace/internal/adapter/agent"
	"github.com/xiaot623/gogo/workspace/internal/domain"
)

// startTurn runs the agent on inv in the background. Turns of the same run
// are serialized so their entries never interleave.
func (s *Service) startTurn(inv *agent.Invocation) {
	if s.agent == nil {
		return
	}
	s.turnMu.Lock()
	if s.baseCtx.Err() != nil {
		s.turnMu.Unlock()
		return
	}
	s.wg.Add(1)
	lock := s.acquireRunLock(inv.RunID)
	s.turnMu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.releaseRunLock(inv.RunID)
		lock.mu.Lock()
		defer lock.mu.Unlock()
		s.runTurn(inv)
	}()
}

// runLock serializes the turns of one run. It lives as long as a turn of
// the run is queued or running.
type runLock struct {
	mu   sync.Mutex
	refs int
}

// acquireRunLock returns the lock of runID. Callers hold turnMu.
func (s *Service) acquireRunLock(runID string) *runLock {
	l, ok := s.runLocks[runID]
	if !ok {
		l = &runLock{}
		s.runLocks[runID] = l
	}
	l.refs++
	return l
}

func (s *Service) releaseRunLock(runID string) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	l, ok := s.runLocks[runID]
	if !ok {
		return
	}
	if l.refs--; l.refs <= 0 {
		delete(s.runLocks, runID)
	}
}

// pendingRuns returns the number of runs with a queued or running turn.
func (s *Service) pendingRuns() int {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	return len(s.runLocks)
}

func (s *Service) runTurn(inv *agent.Invocation) {
	ctx, cancel := context.WithTimeout(s.baseCtx, s.opts.AgentTimeout)
	defer cancel()

	attrs := metric.WithAttributes(attribute.String("stage", string(inv.Stage)))
	if s.turns != nil {
		s.turns.Add(ctx, 1, attrs)
	}

	err := s.agent.Invoke(ctx, inv, func(ctx context.Context, envs ...domain.Envelope) error {
		// Output of a message turn names the message it answers.
		stamped := make([]domain.Envelope, 0, len(envs))
		for _, env := range envs {
			env, err := env.ReplyingTo(inv.LogID)
			if err != nil {
				return err
			}
			stamped = append(stamped, env)
		}
		logID, err := s.publisher.Publish(ctx, inv.RunID, stamped...)
		if err != nil {
			return err
		}
		if summary := summaryOf(envs); summary != "" {
			s.recordAssistant(ctx, inv, summary, logID)
		}
		return nil
	})
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) && s.baseCtx.Err() != nil {
		// Shutting down.
		return
	}

	if s.agentFailures != nil {
		s.agentFailures.Add(ctx, 1, attrs)
	}
	log.Error(ctx, err, log.KV{K: "msg", V: "agent turn failed"},
		log.KV{K: "run_id", V: inv.RunID}, log.KV{K: "stage", V: inv.Stage})

	// The failure is reported on a fresh context so a timed-out turn can
	// still be recorded.
	reportCtx, reportCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer reportCancel()
	env, envErr := domain.NewEnvelope(domain.EventError, domain.ErrorPayload{Error: err.Error(), Stage: inv.Stage})
	if envErr == nil {
		if _, pubErr := s.publisher.Publish(reportCtx, inv.RunID, env); pubErr != nil {
			log.Error(reportCtx, pubErr, log.KV{K: "msg", V: "failed to publish agent error"})
		}
	}
	if err := s.store.UpdateRunCompleted(reportCtx, inv.RunID, domain.RunStatusFailed); err != nil {
		log.Error(reportCtx, err, log.KV{K: "msg", V: "failed to update run status"})
	}
}

func (s *Service) recordAssistant(ctx context.Context, inv *agent.Invocation, content string, logID int64) {
	msg := &domain.Message{
		MessageID:   newID("msg_"),
		WorkspaceID: inv.WorkspaceID,
		RunID:       inv.RunID,
		Role:        "assistant",
		Content:     content,
		LogID:       logID,
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "failed to save assistant message"})
	}
}

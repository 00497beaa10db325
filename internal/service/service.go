// Package service implements the workspace setup operations shared by the
// HTTP and RPC transports.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xiaot623/gogo/workspace/internal/adapter/agent"
	"github.com/xiaot623/gogo/workspace/internal/policy"
	store "github.com/xiaot623/gogo/workspace/internal/repository"
)

var (
	// ErrNotFound is returned when a workspace, run or document is missing.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned for requests that can never succeed.
	ErrInvalidInput = errors.New("invalid input")
	// ErrForbidden is returned when the tenant may not access a workspace.
	ErrForbidden = errors.New("forbidden")
)

const instrumentation = "github.com/xiaot623/gogo/workspace/internal/service"

// Options tunes the service.
type Options struct {
	// AgentTimeout bounds one agent turn.
	AgentTimeout time.Duration
}

type Service struct {
	store     store.Store
	runLog    store.RunLog
	colocated bool
	agent     agent.Agent
	policy    *policy.Engine
	publisher *Publisher
	opts      Options
	now       func() time.Time

	tracer        trace.Tracer
	turns         metric.Int64Counter
	agentFailures metric.Int64Counter

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	turnMu   sync.Mutex
	runLocks map[string]*runLock
}

// New creates the service. Agent turns run on a context carrying the values
// of ctx, such as its logger. runLog may be nil, in which case the store's
// own run log is used and message appends share a transaction with their
// transcript rows.
func New(ctx context.Context, st store.Store, runLog store.RunLog, ag agent.Agent, pol *policy.Engine, opts Options) *Service {
	if runLog == nil {
		runLog = st
	}
	if opts.AgentTimeout <= 0 {
		opts.AgentTimeout = 5 * time.Minute
	}
	baseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Service{
		store:     st,
		runLog:    runLog,
		colocated: runLog == store.RunLog(st),
		agent:     ag,
		policy:    pol,
		publisher: NewPublisher(runLog),
		opts:      opts,
		now:       time.Now,
		tracer:    otel.Tracer(instrumentation),
		baseCtx:   baseCtx,
		cancel:    cancel,
		runLocks:  map[string]*runLock{},
	}
	meter := otel.Meter(instrumentation)
	s.turns, _ = meter.Int64Counter("service.agent_turns", metric.WithDescription("Agent turns started"))
	s.agentFailures, _ = meter.Int64Counter("service.agent_failures", metric.WithDescription("Agent turns that failed"))
	return s
}

// Publisher returns the publisher writing into the run logs.
func (s *Service) Publisher() *Publisher { return s.publisher }

// Wait blocks until every agent turn started so far has finished.
func (s *Service) Wait() { s.wg.Wait() }

// Close cancels running agent turns and waits for them to return.
func (s *Service) Close() {
	s.turnMu.Lock()
	s.cancel()
	s.turnMu.Unlock()
	s.wg.Wait()
}

func newID(prefix string) string {
	return prefix + uuid.New().String()[:8]
}

// Package tailer streams a run log to a client as it grows.
package tailer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"goa.design/clue/log"

	"github.com/xiaot623/gogo/workspace/internal/domain"
	"github.com/xiaot623/gogo/workspace/internal/policy"
	store "github.com/xiaot623/gogo/workspace/internal/repository"
)

const (
	DefaultBatchSize = 100
	DefaultInterval  = 500 * time.Millisecond
)

// FrameWriter delivers frames to one client. Implementations flush each
// frame before returning.
type FrameWriter interface {
	WriteEntry(entry domain.RunLogEntry) error
	WriteKeepAlive() error
}

// RunLookup resolves the workspace a run belongs to.
type RunLookup interface {
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	GetWorkspace(ctx context.Context, workspaceID string) (*domain.Workspace, error)
}

// Options tunes the polling loop.
type Options struct {
	BatchSize int
	Interval  time.Duration
	// MaxDuration bounds one connection. Zero means unbounded.
	MaxDuration time.Duration
}

// Tailer polls run logs on behalf of stream connections.
type Tailer struct {
	log    store.RunLog
	runs   RunLookup
	policy *policy.Engine
	opts   Options

	frames     metric.Int64Counter
	keepAlives metric.Int64Counter
	denied     metric.Int64Counter
}

// New returns a tailer. A nil policy engine denies every read.
func New(runLog store.RunLog, runs RunLookup, pol *policy.Engine, opts Options) *Tailer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	t := &Tailer{log: runLog, runs: runs, policy: pol, opts: opts}

	meter := otel.Meter("github.com/xiaot623/gogo/workspace/internal/tailer")
	t.frames, _ = meter.Int64Counter("tailer.frames", metric.WithDescription("Run log entries streamed to clients"))
	t.keepAlives, _ = meter.Int64Counter("tailer.keepalives", metric.WithDescription("Keep-alive frames sent"))
	t.denied, _ = meter.Int64Counter("tailer.denied", metric.WithDescription("Connections degraded to keep-alives"))
	return t
}

// Subscription is the state of one stream connection.
type Subscription struct {
	RunID      string
	Cursor     int64
	Authorized bool
}

// Open authorizes tenantID against the run and returns a subscription
// starting after cursor. An unauthorized subscription never yields rows.
func (t *Tailer) Open(ctx context.Context, runID, tenantID string, cursor int64) *Subscription {
	sub := &Subscription{RunID: runID, Cursor: cursor}
	sub.Authorized = t.authorize(ctx, runID, tenantID)
	if !sub.Authorized {
		add(ctx, t.denied, 1, runID)
		log.Warn(ctx, log.KV{K: "msg", V: "stream degraded to keep-alives"},
			log.KV{K: "run_id", V: runID}, log.KV{K: "tenant_id", V: tenantID})
	}
	return sub
}

func (t *Tailer) authorize(ctx context.Context, runID, tenantID string) bool {
	if t.policy == nil || t.runs == nil {
		return false
	}
	run, err := t.runs.GetRun(ctx, runID)
	if err != nil || run == nil {
		return false
	}
	ws, err := t.runs.GetWorkspace(ctx, run.WorkspaceID)
	if err != nil || ws == nil {
		return false
	}
	return t.policy.Allowed(ctx, policy.Input{
		TenantID: tenantID,
		Action:   "read",
		Run:      policy.RunFacts{RunID: runID, WorkspaceID: ws.WorkspaceID, TenantID: ws.TenantID},
	})
}

// Step runs one poll iteration: emit every entry after the cursor (up to the
// batch size), advance the cursor, then emit a keep-alive. It returns the
// number of entries emitted. Only write errors are returned; a failed read
// is logged and the iteration still ends with a keep-alive.
func (t *Tailer) Step(ctx context.Context, sub *Subscription, w FrameWriter) (int, error) {
	n := 0
	if sub.Authorized {
		entries, err := t.log.List(ctx, sub.RunID, sub.Cursor, t.opts.BatchSize)
		if err != nil && ctx.Err() == nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "failed to read run log"}, log.KV{K: "run_id", V: sub.RunID})
		}
		for _, e := range entries {
			if e.LogID <= sub.Cursor {
				continue
			}
			if err := w.WriteEntry(e); err != nil {
				return n, err
			}
			sub.Cursor = e.LogID
			n++
		}
		add(ctx, t.frames, int64(n), sub.RunID)
	}
	if err := w.WriteKeepAlive(); err != nil {
		return n, err
	}
	add(ctx, t.keepAlives, 1, sub.RunID)
	return n, nil
}

// Tail runs Step every interval until ctx is done, a write fails or the
// maximum duration elapses. Cancellation is not an error.
func (t *Tailer) Tail(ctx context.Context, sub *Subscription, w FrameWriter) error {
	if t.opts.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.MaxDuration)
		defer cancel()
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug(ctx, log.KV{K: "msg", V: "stream closed"},
				log.KV{K: "run_id", V: sub.RunID}, log.KV{K: "cursor", V: sub.Cursor})
			return nil
		case <-timer.C:
		}
		if _, err := t.Step(ctx, sub, w); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		timer.Reset(t.opts.Interval)
	}
}

func add(ctx context.Context, c metric.Int64Counter, n int64, runID string) {
	if c == nil || n == 0 {
		return
	}
	c.Add(ctx, n, metric.WithAttributes(attribute.String("run_id", runID)))
}

package tailer

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/workspace/internal/domain"
	"github.com/xiaot623/gogo/workspace/internal/policy"
	store "github.com/xiaot623/gogo/workspace/internal/repository"
)

type recorder struct {
	mu     sync.Mutex
	frames []string
	failAt int
}

func (r *recorder) WriteEntry(e domain.RunLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAt > 0 && len(r.frames)+1 >= r.failAt {
		return errors.New("client gone")
	}
	r.frames = append(r.frames, "id:"+e.Content)
	return nil
}

func (r *recorder) WriteKeepAlive() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, "keep-alive")
	return nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.frames...)
}

func newTestTailer(t *testing.T, opts Options) (*Tailer, *store.SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	now := time.Now()
	require.NoError(t, s.CreateWorkspace(ctx,
		&domain.Workspace{WorkspaceID: "w1", TenantID: "acme", Stage: domain.StageIntent, ActiveRunID: "r1", CreatedAt: now},
		&domain.Run{RunID: "r1", WorkspaceID: "w1", Stage: domain.StageIntent, Status: domain.RunStatusRunning, StartedAt: now}))

	engine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	require.NoError(t, err)
	return New(s, s, engine, opts), s
}

func TestStepEmptyLogEmitsOnlyKeepAlivesUntilRowAppears(t *testing.T) {
	ctx := context.Background()
	tl, s := newTestTailer(t, Options{})
	sub := tl.Open(ctx, "r1", "acme", 0)
	require.True(t, sub.Authorized)

	var buf recorder
	for i := 0; i < 3; i++ {
		n, err := tl.Step(ctx, sub, &buf)
		require.NoError(t, err)
		assert.Zero(t, n)
	}
	assert.Equal(t, []string{"keep-alive", "keep-alive", "keep-alive"}, buf.snapshot())

	_, err := s.Append(ctx, "r1", `{"event_type":"intent_updated"}`)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	sse := NewSSEWriter(w)
	n, err := tl.Step(ctx, sub, sse)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(1), sub.Cursor)
	assert.Equal(t, "id: 1\nevent: message\ndata: {\"event_type\":\"intent_updated\"}\n\n: keep-alive\n\n", w.Body.String())
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	// Nothing new: keep-alive only, no repeat of id 1.
	w.Body.Reset()
	n, err = tl.Step(ctx, sub, sse)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, ": keep-alive\n\n", w.Body.String())
}

func TestStepEscapesNewlines(t *testing.T) {
	ctx := context.Background()
	tl, s := newTestTailer(t, Options{})
	_, err := s.Append(ctx, "r1", "{\"event_type\":\"a\"}\n{\"event_type\":\"b\"}")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	_, err = tl.Step(ctx, tl.Open(ctx, "r1", "acme", 0), NewSSEWriter(w))
	require.NoError(t, err)
	assert.Contains(t, w.Body.String(), "data: {\"event_type\":\"a\"}\\n{\"event_type\":\"b\"}\n\n")
}

func TestStepCapsBatch(t *testing.T) {
	ctx := context.Background()
	tl, s := newTestTailer(t, Options{BatchSize: 2})
	for i := 0; i < 5; i++ {
		_, err := s.Append(ctx, "r1", "x")
		require.NoError(t, err)
	}
	sub := tl.Open(ctx, "r1", "acme", 0)
	var buf recorder
	n, err := tl.Step(ctx, sub, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(2), sub.Cursor)

	// A resumed connection starts after its cursor.
	resumed := tl.Open(ctx, "r1", "acme", 4)
	n, err = tl.Step(ctx, resumed, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(5), resumed.Cursor)
}

func TestUnauthorizedSubscriptionOnlyKeepsAlive(t *testing.T) {
	ctx := context.Background()
	tl, s := newTestTailer(t, Options{})
	_, err := s.Append(ctx, "r1", "secret")
	require.NoError(t, err)

	for _, tenant := range []string{"", "globex"} {
		sub := tl.Open(ctx, "r1", tenant, 0)
		assert.False(t, sub.Authorized)
		var buf recorder
		n, err := tl.Step(ctx, sub, &buf)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Equal(t, []string{"keep-alive"}, buf.snapshot())
	}

	unknown := tl.Open(ctx, "no-such-run", "acme", 0)
	assert.False(t, unknown.Authorized)

	noPolicy := New(s, s, nil, Options{})
	assert.False(t, noPolicy.Open(ctx, "r1", "acme", 0).Authorized)
}

func TestTailStopsOnCancel(t *testing.T) {
	tl, s := newTestTailer(t, Options{Interval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	sub := tl.Open(ctx, "r1", "acme", 0)

	var buf recorder
	done := make(chan error, 1)
	go func() { done <- tl.Tail(ctx, sub, &buf) }()

	_, err := s.Append(context.Background(), "r1", "first")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		for _, f := range buf.snapshot() {
			if f == "id:first" {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("tail loop did not stop after cancel")
	}
}

func TestTailReturnsWriteError(t *testing.T) {
	tl, s := newTestTailer(t, Options{Interval: time.Millisecond})
	_, err := s.Append(context.Background(), "r1", "x")
	require.NoError(t, err)

	sub := tl.Open(context.Background(), "r1", "acme", 0)
	err = tl.Tail(context.Background(), sub, &recorder{failAt: 1})
	assert.EqualError(t, err, "client gone")
}

func TestTailHonorsMaxDuration(t *testing.T) {
	tl, _ := newTestTailer(t, Options{Interval: time.Millisecond, MaxDuration: 20 * time.Millisecond})
	sub := tl.Open(context.Background(), "r1", "acme", 0)
	start := time.Now()
	require.NoError(t, tl.Tail(context.Background(), sub, &recorder{}))
	assert.Less(t, time.Since(start), 2*time.Second)
}

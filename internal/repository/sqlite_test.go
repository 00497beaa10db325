package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xiaot623/gogo/workspace/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedWorkspace(t *testing.T, store *SQLiteStore, wsID, runID string) {
	t.Helper()
	now := time.Now()
	ws := &domain.Workspace{WorkspaceID: wsID, TenantID: "t1", Stage: domain.StageIntent, ActiveRunID: runID, CreatedAt: now}
	run := &domain.Run{RunID: runID, WorkspaceID: wsID, Stage: domain.StageIntent, Status: domain.RunStatusRunning, StartedAt: now}
	if err := store.CreateWorkspace(context.Background(), ws, run); err != nil {
		t.Fatalf("CreateWorkspace failed: %v", err)
	}
}

func TestSQLiteStoreAppendAssignsSequentialIDs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for i := 1; i <= 3; i++ {
		id, err := store.Append(ctx, "r1", fmt.Sprintf(`{"event_type":"e%d"}`, i))
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if id != int64(i) {
			t.Fatalf("expected log id %d, got %d", i, id)
		}
	}
	// Ids are per run.
	id, err := store.Append(ctx, "r2", "x")
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected first id of r2 to be 1, got %d", id)
	}

	entries, err := store.List(ctx, "r1", 1, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 2 || entries[0].LogID != 2 || entries[1].LogID != 3 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if entries[0].Content != `{"event_type":"e2"}` {
		t.Fatalf("unexpected content: %q", entries[0].Content)
	}

	capped, err := store.List(ctx, "r1", 0, 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(capped) != 2 {
		t.Fatalf("expected batch of 2, got %d", len(capped))
	}
}

func TestSQLiteStoreConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	const writers, perWriter = 8, 25
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := store.Append(ctx, "r1", fmt.Sprintf("w%d-%d", w, i)); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Append failed: %v", err)
	}

	entries, err := store.List(ctx, "r1", 0, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != writers*perWriter {
		t.Fatalf("expected %d entries, got %d", writers*perWriter, len(entries))
	}
	for i, e := range entries {
		if e.LogID != int64(i+1) {
			t.Fatalf("entry %d has log id %d", i, e.LogID)
		}
	}
}

func TestSQLiteStoreWorkspaceAndMessages(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedWorkspace(t, store, "w1", "r1")

	ws, err := store.GetWorkspace(ctx, "w1")
	if err != nil || ws == nil {
		t.Fatalf("GetWorkspace failed: %v %+v", err, ws)
	}
	if ws.ActiveRunID != "r1" || ws.Stage != domain.StageIntent || ws.TenantID != "t1" {
		t.Fatalf("unexpected workspace: %+v", ws)
	}
	missing, err := store.GetWorkspace(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil workspace, got %+v %v", missing, err)
	}

	msg := &domain.Message{MessageID: "m1", WorkspaceID: "w1", RunID: "r1", Role: "user", Content: "hello", CreatedAt: time.Now()}
	logID, err := store.AppendMessage(ctx, msg, `{"event_type":"user_message","message":"hello"}`)
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if logID != 1 || msg.LogID != 1 {
		t.Fatalf("expected log id 1, got %d / %d", logID, msg.LogID)
	}

	messages, err := store.GetMessages(ctx, "w1", 10)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 1 || messages[0].LogID != 1 {
		t.Fatalf("unexpected messages: %+v", messages)
	}
}

func TestSQLiteStoreAppendMessageIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedWorkspace(t, store, "w1", "r1")

	// Unknown workspace violates the foreign key, so the log append must roll back.
	msg := &domain.Message{MessageID: "m1", WorkspaceID: "missing", RunID: "r1", Role: "user", Content: "x", CreatedAt: time.Now()}
	if _, err := store.AppendMessage(ctx, msg, "x"); err == nil {
		t.Fatal("expected AppendMessage to fail")
	}
	entries, err := store.List(ctx, "r1", 0, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no log entries after failed append, got %d", len(entries))
	}
}

func TestSQLiteStoreAdvanceStage(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedWorkspace(t, store, "w1", "r1")

	now := time.Now()
	params := AdvanceParams{
		WorkspaceID: "w1",
		From:        domain.StageIntent,
		To:          domain.StageDataScoping,
		Document: &domain.StageDocument{
			WorkspaceID:      "w1",
			Stage:            domain.StageIntent,
			Kind:             domain.DocumentIntent,
			Document:         json.RawMessage(`{"title":"t","confirmed":true}`),
			IterationHistory: []domain.IterationEntry{{Version: 1, Timestamp: now.UTC(), Source: domain.SourceUser}},
			ConfirmedAt:      now,
		},
		OldRunID:     "r1",
		NewRun:       &domain.Run{RunID: "r2", WorkspaceID: "w1", Stage: domain.StageDataScoping, Status: domain.RunStatusRunning, StartedAt: now},
		Announcement: `{"event_type":"stage_update","stage":"data_scoping"}`,
		At:           now,
	}
	if err := store.AdvanceStage(ctx, params); err != nil {
		t.Fatalf("AdvanceStage failed: %v", err)
	}

	ws, _ := store.GetWorkspace(ctx, "w1")
	if ws.Stage != domain.StageDataScoping || ws.ActiveRunID != "r2" {
		t.Fatalf("unexpected workspace: %+v", ws)
	}
	old, _ := store.GetRun(ctx, "r1")
	if old.Status != domain.RunStatusDone || old.EndedAt == nil {
		t.Fatalf("expected old run done, got %+v", old)
	}
	entries, _ := store.List(ctx, "r2", 0, 0)
	if len(entries) != 1 || entries[0].LogID != 1 {
		t.Fatalf("expected announcement at log id 1, got %+v", entries)
	}
	doc, err := store.GetStageDocument(ctx, "w1", domain.StageIntent)
	if err != nil || doc == nil {
		t.Fatalf("GetStageDocument failed: %v", err)
	}
	if len(doc.IterationHistory) != 1 || string(doc.Document) != `{"title":"t","confirmed":true}` {
		t.Fatalf("unexpected document: %+v", doc)
	}

	// Same transition again loses the race.
	params.NewRun = &domain.Run{RunID: "r3", WorkspaceID: "w1", Stage: domain.StageDataScoping, Status: domain.RunStatusRunning, StartedAt: now}
	if err := store.AdvanceStage(ctx, params); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if run, _ := store.GetRun(ctx, "r3"); run != nil {
		t.Fatalf("conflicting transition must not create a run: %+v", run)
	}

	docs, err := store.ListStageDocuments(ctx, "w1")
	if err != nil || len(docs) != 1 {
		t.Fatalf("ListStageDocuments: %v %+v", err, docs)
	}
}

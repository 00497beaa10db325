package internalapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/workspace/internal/domain"
	"github.com/xiaot623/gogo/workspace/internal/policy"
	store "github.com/xiaot623/gogo/workspace/internal/repository"
	"github.com/xiaot623/gogo/workspace/internal/service"
)

func newTestHandler(t *testing.T) (*Handler, store.Store) {
	t.Helper()
	ctx := context.Background()
	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	pol, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	svc := service.New(ctx, db, nil, nil, pol, service.Options{})
	t.Cleanup(func() {
		svc.Close()
		db.Close()
	})

	now := time.Now()
	if err := db.CreateWorkspace(ctx,
		&domain.Workspace{WorkspaceID: "w1", TenantID: "acme", Stage: domain.StageIntent, ActiveRunID: "r1", CreatedAt: now},
		&domain.Run{RunID: "r1", WorkspaceID: "w1", Stage: domain.StageIntent, Status: domain.RunStatusRunning, StartedAt: now}); err != nil {
		t.Fatalf("CreateWorkspace failed: %v", err)
	}
	return NewHandler(svc), db
}

func post(t *testing.T, h *Handler, runID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/internal/runs/"+runID+"/log", bytes.NewBufferString(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	c.SetParamNames("run_id")
	c.SetParamValues(runID)
	if err := h.AppendLog(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return rec
}

func TestAppendLogEnvelopes(t *testing.T) {
	h, db := newTestHandler(t)

	rec := post(t, h, "r1", `{"envelopes":[{"event_type":"intent_updated","intent_package":{"title":"x"}},{"event_type":"intent_proposed","ready":true}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.AppendLogResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.LogID != 1 || resp.RunID != "r1" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	rec = post(t, h, "r1", `{"content":"{\"event_type\":\"scope_updated\"}"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	entries, err := db.List(context.Background(), "r1", 0, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if want := `{"event_type":"intent_updated","intent_package":{"title":"x"}}` + "\n" + `{"event_type":"intent_proposed","ready":true}`; entries[0].Content != want {
		t.Fatalf("unexpected content: %q", entries[0].Content)
	}
}

func TestAppendLogErrors(t *testing.T) {
	h, _ := newTestHandler(t)

	cases := []struct {
		name  string
		runID string
		body  string
		want  int
	}{
		{"unknown run", "nope", `{"content":"x"}`, http.StatusNotFound},
		{"empty", "r1", `{}`, http.StatusBadRequest},
		{"missing event_type", "r1", `{"envelopes":[{"ready":true}]}`, http.StatusBadRequest},
		{"bad body", "r1", `{"envelopes":`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		if rec := post(t, h, tc.runID, tc.body); rec.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, rec.Code)
		}
	}
}

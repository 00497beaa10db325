package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/workspace/internal/adapter/agent"
	"github.com/xiaot623/gogo/workspace/internal/domain"
	"github.com/xiaot623/gogo/workspace/internal/policy"
	store "github.com/xiaot623/gogo/workspace/internal/repository"
	"github.com/xiaot623/gogo/workspace/internal/service"
	"github.com/xiaot623/gogo/workspace/internal/tailer"
	"github.com/xiaot623/gogo/workspace/internal/transport/ws"
)

func newTestHandler(t *testing.T) (*Handler, *service.Service) {
	t.Helper()
	ctx := context.Background()
	db, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	pol, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	require.NoError(t, err)
	svc := service.New(ctx, db, nil, agent.NewMockAgent(), pol, service.Options{AgentTimeout: time.Second})
	t.Cleanup(func() {
		svc.Close()
		db.Close()
	})
	return NewHandler(svc, tailer.New(db, db, pol, tailer.Options{Interval: 5 * time.Millisecond})), svc
}

func newContext(e *echo.Echo, method, target, body, tenant string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if tenant != "" {
		req.Header.Set(ws.TenantHeader, tenant)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func createWorkspace(t *testing.T, h *Handler) domain.WorkspaceResponse {
	t.Helper()
	c, rec := newContext(echo.New(), http.MethodPost, "/v1/workspaces", `{"workspace_id":"w1"}`, "acme")
	require.NoError(t, h.CreateWorkspace(c))
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp domain.WorkspaceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCreateWorkspace(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := createWorkspace(t, h)
	assert.Equal(t, "acme", resp.Workspace.TenantID)
	assert.Equal(t, domain.StageIntent, resp.State.Stage)
	assert.NotEmpty(t, resp.State.RunID)

	c, rec := newContext(echo.New(), http.MethodPost, "/v1/workspaces", `{}`, "")
	require.NoError(t, h.CreateWorkspace(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWorkspaceAccessIsScopedToTenant(t *testing.T) {
	h, _ := newTestHandler(t)
	createWorkspace(t, h)
	e := echo.New()

	cases := []struct {
		tenant string
		id     string
		want   int
	}{
		{"acme", "w1", http.StatusOK},
		{"globex", "w1", http.StatusForbidden},
		{"", "w1", http.StatusForbidden},
		{"acme", "missing", http.StatusNotFound},
	}
	for _, tc := range cases {
		c, rec := newContext(e, http.MethodGet, "/v1/workspaces/"+tc.id, "", tc.tenant)
		c.SetParamNames("workspace_id")
		c.SetParamValues(tc.id)
		require.NoError(t, h.GetWorkspace(c))
		assert.Equal(t, tc.want, rec.Code, "tenant=%q id=%q", tc.tenant, tc.id)
	}
}

func TestSubmitMessageThenReadLog(t *testing.T) {
	h, svc := newTestHandler(t)
	created := createWorkspace(t, h)
	e := echo.New()

	c, rec := newContext(e, http.MethodPost, "/v1/workspaces/w1/messages", `{"message":""}`, "acme")
	c.SetParamNames("workspace_id")
	c.SetParamValues("w1")
	require.NoError(t, h.SubmitMessage(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	c, rec = newContext(e, http.MethodPost, "/v1/workspaces/w1/messages",
		`{"message":"Plan a churn study","current_document_snapshot":{"title":"Churn"},"user_edited_fields":["title"]}`, "acme")
	c.SetParamNames("workspace_id")
	c.SetParamValues("w1")
	require.NoError(t, h.SubmitMessage(c))
	require.Equal(t, http.StatusOK, rec.Code)
	var sub domain.SubmitMessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	assert.Equal(t, int64(1), sub.LogID)
	svc.Wait()

	c, rec = newContext(e, http.MethodGet, "/v1/runs/"+created.State.RunID+"/log?after=0&limit=10", "", "acme")
	c.SetParamNames("run_id")
	c.SetParamValues(created.State.RunID)
	require.NoError(t, h.GetRunLog(c))
	require.Equal(t, http.StatusOK, rec.Code)
	var page domain.LogPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Entries, 2)
	assert.Contains(t, page.Entries[0].Content, `"event_type":"user_message"`)
	assert.Equal(t, int64(2), page.NextCursor)

	c, rec = newContext(e, http.MethodGet, "/v1/runs/"+created.State.RunID+"/log", "", "globex")
	c.SetParamNames("run_id")
	c.SetParamValues(created.State.RunID)
	require.NoError(t, h.GetRunLog(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	c, rec = newContext(e, http.MethodGet, "/v1/workspaces/w1/messages", "", "acme")
	c.SetParamNames("workspace_id")
	c.SetParamValues("w1")
	require.NoError(t, h.GetMessages(c))
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs struct {
		Messages []domain.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	assert.Len(t, msgs.Messages, 2)
}

func TestConfirmStage(t *testing.T) {
	h, _ := newTestHandler(t)
	createWorkspace(t, h)
	e := echo.New()

	confirm := func(st, body string) *httptest.ResponseRecorder {
		c, rec := newContext(e, http.MethodPost, "/v1/workspaces/w1/stages/"+st+"/confirm", body, "acme")
		c.SetParamNames("workspace_id", "stage")
		c.SetParamValues("w1", st)
		require.NoError(t, h.ConfirmStage(c))
		return rec
	}

	assert.Equal(t, http.StatusBadRequest, confirm("intent", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, confirm("intent", `{"document":{"title":1}}`).Code)
	assert.Equal(t, http.StatusConflict, confirm("execution", `{"document":{}}`).Code)
	assert.Equal(t, http.StatusBadRequest, confirm("bogus", `{"document":{}}`).Code)

	rec := confirm("intent", `{"document":{"title":"Churn","current_version":2}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp domain.ConfirmStageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.StageDataScoping, resp.Stage)
	assert.NotEmpty(t, resp.RunID)

	assert.Equal(t, http.StatusConflict, confirm("intent", `{"document":{"title":"again"}}`).Code)

	c, rec := newContext(e, http.MethodGet, "/v1/workspaces/w1/documents/intent", "", "acme")
	c.SetParamNames("workspace_id", "stage")
	c.SetParamValues("w1", "intent")
	require.NoError(t, h.GetDocument(c))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"confirmed":true`)

	c, rec = newContext(e, http.MethodGet, "/v1/workspaces/w1/documents/execution", "", "acme")
	c.SetParamNames("workspace_id", "stage")
	c.SetParamValues("w1", "execution")
	require.NoError(t, h.GetDocument(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamRunResumesAfterLastEventID(t *testing.T) {
	h, svc := newTestHandler(t)
	created := createWorkspace(t, h)
	ctx := context.Background()
	for _, content := range []string{`{"event_type":"a"}`, `{"event_type":"b"}`, "{\"event_type\":\"c\"}\n{\"event_type\":\"d\"}"} {
		_, err := svc.AppendLog(ctx, created.State.RunID, domain.AppendLogRequest{Content: content})
		require.NoError(t, err)
	}

	streamCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/"+created.State.RunID+"/stream", nil).WithContext(streamCtx)
	req.Header.Set("Last-Event-ID", "2")
	req.Header.Set(ws.TenantHeader, "acme")
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	c.SetParamNames("run_id")
	c.SetParamValues(created.State.RunID)

	require.NoError(t, h.StreamRun(c))
	body := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(body, "id: 3\nevent: message\ndata: {\"event_type\":\"c\"}\\n{\"event_type\":\"d\"}\n\n"), body)
	assert.NotContains(t, body, "id: 2\n")
	assert.Contains(t, body, ": keep-alive\n\n")
}

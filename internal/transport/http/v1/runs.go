package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"goa.design/clue/log"

	"github.com/xiaot623/gogo/workspace/internal/tailer"
)

// GetRunLog returns a forward page of a run's log.
// GET /v1/runs/:run_id/log?after=&limit=
func (h *Handler) GetRunLog(c echo.Context) error {
	runID := c.Param("run_id")
	ctx := c.Request().Context()

	var after int64
	if a := c.QueryParam("after"); a != "" {
		val, err := strconv.ParseInt(a, 10, 64)
		if err != nil || val < 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "after must be a non-negative integer"})
		}
		after = val
	}
	limit := 0
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}

	run, err := h.service.GetRun(ctx, runID)
	if err != nil {
		return respondError(c, err)
	}
	if ok, err := h.authorize(c, run.WorkspaceID); !ok {
		return err
	}

	page, err := h.service.GetLog(ctx, runID, after, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, page)
}

// StreamRun tails a run's log as server-sent events. Last-Event-ID, or the
// cursor query parameter, resumes after a known log id. A caller without
// access receives keep-alives only.
// GET /v1/runs/:run_id/stream
func (h *Handler) StreamRun(c echo.Context) error {
	runID := c.Param("run_id")
	ctx := c.Request().Context()

	cursor := c.Request().Header.Get("Last-Event-ID")
	if cursor == "" {
		cursor = c.QueryParam("cursor")
	}
	after, _ := strconv.ParseInt(cursor, 10, 64)
	if after < 0 {
		after = 0
	}
	tenant := tenantOf(c)
	if tenant == "" {
		// EventSource cannot set headers.
		tenant = c.QueryParam("tenant_id")
	}

	sub := h.tailer.Open(ctx, runID, tenant, after)
	if err := h.tailer.Tail(ctx, sub, tailer.NewSSEWriter(c.Response())); err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "event stream ended"},
			log.KV{K: "run_id", V: runID}, log.KV{K: "err", V: err.Error()})
	}
	return nil
}

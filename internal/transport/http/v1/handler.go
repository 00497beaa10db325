// Package v1 provides the public HTTP handlers.
package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"goa.design/clue/log"

	"github.com/xiaot623/gogo/workspace/internal/service"
	"github.com/xiaot623/gogo/workspace/internal/stage"
	"github.com/xiaot623/gogo/workspace/internal/tailer"
	"github.com/xiaot623/gogo/workspace/internal/transport/ws"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	tailer  *tailer.Tailer
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service, t *tailer.Tailer) *Handler {
	return &Handler{
		service: service,
		tailer:  t,
	}
}

// RegisterRoutes registers external routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Workspaces
	e.POST("/v1/workspaces", h.CreateWorkspace)
	e.GET("/v1/workspaces/:workspace_id", h.GetWorkspace)
	e.POST("/v1/workspaces/:workspace_id/messages", h.SubmitMessage)
	e.GET("/v1/workspaces/:workspace_id/messages", h.GetMessages)
	e.POST("/v1/workspaces/:workspace_id/stages/:stage/confirm", h.ConfirmStage)
	e.GET("/v1/workspaces/:workspace_id/documents", h.ListDocuments)
	e.GET("/v1/workspaces/:workspace_id/documents/:stage", h.GetDocument)

	// Run logs
	e.GET("/v1/runs/:run_id/log", h.GetRunLog)
	e.GET("/v1/runs/:run_id/stream", h.StreamRun)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

func tenantOf(c echo.Context) string {
	return c.Request().Header.Get(ws.TenantHeader)
}

// authorize resolves access to a workspace and writes the error response
// when it is denied. It returns false if the handler should stop.
func (h *Handler) authorize(c echo.Context, workspaceID string) (bool, error) {
	if err := h.service.Authorize(c.Request().Context(), tenantOf(c), workspaceID); err != nil {
		return false, respondError(c, err)
	}
	return true, nil
}

func respondError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, stage.ErrUnknownStage):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, stage.ErrStageMismatch), errors.Is(err, stage.ErrTerminal):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		log.Error(c.Request().Context(), err, log.KV{K: "msg", V: "request failed"})
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}

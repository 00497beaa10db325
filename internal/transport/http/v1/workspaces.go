package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/workspace/internal/domain"
)

// CreateWorkspace starts a new workspace for the caller's tenant.
// POST /v1/workspaces
func (h *Handler) CreateWorkspace(c echo.Context) error {
	var req domain.CreateWorkspaceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if tenant := tenantOf(c); tenant != "" {
		req.TenantID = tenant
	}

	resp, err := h.service.CreateWorkspace(c.Request().Context(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, resp)
}

// GetWorkspace returns a workspace and the run to follow.
// GET /v1/workspaces/:workspace_id
func (h *Handler) GetWorkspace(c echo.Context) error {
	workspaceID := c.Param("workspace_id")
	if ok, err := h.authorize(c, workspaceID); !ok {
		return err
	}
	resp, err := h.service.GetWorkspace(c.Request().Context(), workspaceID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// SubmitMessage records a user turn.
// POST /v1/workspaces/:workspace_id/messages
func (h *Handler) SubmitMessage(c echo.Context) error {
	workspaceID := c.Param("workspace_id")
	var req domain.SubmitMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Message == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "message is required"})
	}
	if ok, err := h.authorize(c, workspaceID); !ok {
		return err
	}

	resp, err := h.service.SubmitUserMessage(c.Request().Context(), workspaceID, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// GetMessages returns the chat transcript.
// GET /v1/workspaces/:workspace_id/messages
func (h *Handler) GetMessages(c echo.Context) error {
	workspaceID := c.Param("workspace_id")
	limit := 50
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}
	if ok, err := h.authorize(c, workspaceID); !ok {
		return err
	}

	messages, err := h.service.GetMessages(c.Request().Context(), workspaceID, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"messages": messages,
		"has_more": limit > 0 && len(messages) == limit,
	})
}

// ConfirmStage finalizes the current stage's document.
// POST /v1/workspaces/:workspace_id/stages/:stage/confirm
func (h *Handler) ConfirmStage(c echo.Context) error {
	workspaceID := c.Param("workspace_id")
	st := domain.Stage(c.Param("stage"))
	var req domain.ConfirmStageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if len(req.Document) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "document is required"})
	}
	if ok, err := h.authorize(c, workspaceID); !ok {
		return err
	}

	resp, err := h.service.ConfirmStage(c.Request().Context(), workspaceID, st, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// ListDocuments returns every confirmed document.
// GET /v1/workspaces/:workspace_id/documents
func (h *Handler) ListDocuments(c echo.Context) error {
	workspaceID := c.Param("workspace_id")
	if ok, err := h.authorize(c, workspaceID); !ok {
		return err
	}
	docs, err := h.service.ListDocuments(c.Request().Context(), workspaceID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"documents": docs})
}

// GetDocument returns the confirmed document of one stage.
// GET /v1/workspaces/:workspace_id/documents/:stage
func (h *Handler) GetDocument(c echo.Context) error {
	workspaceID := c.Param("workspace_id")
	if ok, err := h.authorize(c, workspaceID); !ok {
		return err
	}
	doc, err := h.service.GetDocument(c.Request().Context(), workspaceID, domain.Stage(c.Param("stage")))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, doc)
}

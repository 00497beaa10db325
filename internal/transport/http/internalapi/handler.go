// Package internalapi provides HTTP handlers for internal APIs.
// These APIs are only accessible to agents publishing into run logs.
package internalapi

import (
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/workspace/internal/service"
)

// Handler handles internal HTTP requests from agents.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new internal API handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers internal routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/internal/runs/:run_id/log", h.AppendLog)
}

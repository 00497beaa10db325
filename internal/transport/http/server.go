// Package http provides the HTTP servers of the workspace setup service.
package http

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"goa.design/clue/log"

	"github.com/xiaot623/gogo/workspace/internal/service"
	"github.com/xiaot623/gogo/workspace/internal/tailer"
	"github.com/xiaot623/gogo/workspace/internal/transport/http/internalapi"
	v1 "github.com/xiaot623/gogo/workspace/internal/transport/http/v1"
	"github.com/xiaot623/gogo/workspace/internal/transport/ws"
)

// NewExternalServer creates the client-facing HTTP server: workspaces,
// messages, stage confirmation and run log streaming.
func NewExternalServer(logCtx context.Context, svc *service.Service, t *tailer.Tailer, wsServer *ws.Server) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(LogContext(logCtx))

	v1Handler := v1.NewHandler(svc, t)
	v1Handler.RegisterRoutes(e)
	if wsServer != nil {
		e.GET("/v1/runs/:run_id/ws", wsServer.HandleStream)
	}

	return e
}

// NewInternalServer creates the server agents publish into.
func NewInternalServer(logCtx context.Context, svc *service.Service) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(LogContext(logCtx))

	internalHandler := internalapi.NewHandler(svc)
	internalHandler.RegisterRoutes(e)

	return e
}

// LogContext gives every request context the logger carried by base.
func LogContext(base context.Context) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if base == nil {
				return next(c)
			}
			req := c.Request()
			c.SetRequest(req.WithContext(log.WithContext(req.Context(), base)))
			return next(c)
		}
	}
}

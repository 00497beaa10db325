// Package ws streams run logs over WebSocket. Each WebSocket text message
// carries exactly one frame in the same text form as the SSE stream.
package ws

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"goa.design/clue/log"

	"github.com/xiaot623/gogo/workspace/internal/domain"
	"github.com/xiaot623/gogo/workspace/internal/stream"
	"github.com/xiaot623/gogo/workspace/internal/tailer"
)

// TenantHeader carries the caller's tenant.
const TenantHeader = "X-Tenant-ID"

// Config holds connection timeouts.
type Config struct {
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
}

// Server upgrades stream requests and tails the run log onto the socket.
type Server struct {
	cfg      Config
	tailer   *tailer.Tailer
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg Config, t *tailer.Tailer) *Server {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4096
	}
	return &Server{
		cfg:    cfg,
		tailer: t,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleStream handles GET /v1/runs/:run_id/ws.
func (s *Server) HandleStream(c echo.Context) error {
	runID := c.Param("run_id")
	cursor, _ := strconv.ParseInt(c.QueryParam("cursor"), 10, 64)
	tenantID := c.Request().Header.Get(TenantHeader)
	if tenantID == "" {
		tenantID = c.QueryParam("tenant_id")
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Error(c.Request().Context(), err, log.KV{K: "msg", V: "failed to upgrade websocket"})
		return nil
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	go s.readPump(conn, cancel)

	sub := s.tailer.Open(ctx, runID, tenantID, cursor)
	if err := s.tailer.Tail(ctx, sub, &frameWriter{conn: conn, timeout: s.cfg.WriteTimeout}); err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "websocket stream ended"},
			log.KV{K: "run_id", V: runID}, log.KV{K: "err", V: err.Error()})
	}
	deadline := time.Now().Add(s.cfg.WriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return nil
}

// readPump discards client messages and cancels the stream once the client
// goes away.
func (s *Server) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(s.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}
}

type frameWriter struct {
	conn    *websocket.Conn
	timeout time.Duration
	buf     bytes.Buffer
}

func (w *frameWriter) WriteEntry(e domain.RunLogEntry) error {
	w.buf.Reset()
	if err := stream.WriteFrame(&w.buf, e.LogID, e.Content); err != nil {
		return err
	}
	return w.send()
}

// WriteKeepAlive sends the comment frame followed by a ping so the read
// deadline on both ends keeps moving.
func (w *frameWriter) WriteKeepAlive() error {
	w.buf.Reset()
	if err := stream.WriteKeepAlive(&w.buf); err != nil {
		return err
	}
	if err := w.send(); err != nil {
		return err
	}
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.timeout))
}

func (w *frameWriter) send() error {
	w.conn.SetWriteDeadline(time.Now().Add(w.timeout))
	return w.conn.WriteMessage(websocket.TextMessage, w.buf.Bytes())
}

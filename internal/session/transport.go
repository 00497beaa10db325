package session

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// Transport opens one stream connection on a run. The returned reader
// yields SSE frame text until the connection ends.
type Transport interface {
	Open(ctx context.Context, runID string, cursor int64) (io.ReadCloser, error)
}

var (
	_ Transport = (*Client)(nil)
	_ Transport = (*WSTransport)(nil)
)

// WSTransport follows runs over the WebSocket endpoint. Each message carries
// one frame, so the messages are concatenated into the same text an SSE
// stream would carry.
type WSTransport struct {
	baseURL  string
	tenantID string
	dialer   *websocket.Dialer
}

// NewWSTransport creates a transport for the server at baseURL. An http or
// https scheme is rewritten to ws or wss.
func NewWSTransport(baseURL, tenantID string) *WSTransport {
	u := strings.TrimSuffix(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	}
	return &WSTransport{baseURL: u, tenantID: tenantID, dialer: websocket.DefaultDialer}
}

// Open dials GET /v1/runs/:run_id/ws.
func (t *WSTransport) Open(ctx context.Context, runID string, cursor int64) (io.ReadCloser, error) {
	u := fmt.Sprintf("%s/v1/runs/%s/ws?cursor=%d", t.baseURL, url.PathEscape(runID), cursor)
	header := http.Header{}
	header.Set(TenantHeader, t.tenantID)

	conn, _, err := t.dialer.DialContext(ctx, u, header)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					pw.Close()
				} else {
					pw.CloseWithError(err)
				}
				return
			}
			if _, err := pw.Write(data); err != nil {
				return
			}
		}
	}()
	return &wsStream{conn: conn, pr: pr}, nil
}

type wsStream struct {
	conn *websocket.Conn
	pr   *io.PipeReader
}

func (s *wsStream) Read(p []byte) (int, error) { return s.pr.Read(p) }

func (s *wsStream) Close() error {
	s.pr.Close()
	return s.conn.Close()
}

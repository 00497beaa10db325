package tailer

import (
	"io"
	"net/http"

	"github.com/xiaot623/gogo/workspace/internal/domain"
	"github.com/xiaot623/gogo/workspace/internal/stream"
)

// SSEWriter writes frames as server-sent events.
type SSEWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewSSEWriter sets the event-stream headers on w, writes them out and
// returns a frame writer for the response body.
func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s := &SSEWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		s.flusher = f
		f.Flush()
	}
	return s
}

// WriteEntry writes one message frame.
func (s *SSEWriter) WriteEntry(e domain.RunLogEntry) error {
	if err := stream.WriteFrame(s.w, e.LogID, e.Content); err != nil {
		return err
	}
	s.flush()
	return nil
}

// WriteKeepAlive writes a comment frame.
func (s *SSEWriter) WriteKeepAlive() error {
	if err := stream.WriteKeepAlive(s.w); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *SSEWriter) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

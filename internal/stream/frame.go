// Package stream implements the wire side of run log streaming: SSE framing,
// defensive envelope parsing and the client-side consumer.
package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// EventMessage is the SSE event name of every log frame.
const EventMessage = "message"

// Frame is one SSE frame. A keep-alive frame carries nothing else.
type Frame struct {
	ID        int64
	HasID     bool
	Event     string
	Data      string
	KeepAlive bool
}

var newlineEscaper = strings.NewReplacer("\r\n", `\n`, "\n", `\n`, "\r", `\n`)

// EscapeData replaces literal newlines in content with the two characters
// `\n` so the content fits on a single data line.
func EscapeData(content string) string {
	return newlineEscaper.Replace(content)
}

// WriteFrame writes one message frame for a log entry.
func WriteFrame(w io.Writer, logID int64, content string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", logID, EventMessage, EscapeData(content))
	return err
}

// WriteKeepAlive writes a comment frame.
func WriteKeepAlive(w io.Writer) error {
	_, err := io.WriteString(w, ": keep-alive\n\n")
	return err
}

// maxLine bounds a single SSE line. Log entries carry whole documents.
const maxLine = 4 << 20

// ReadFrames parses an SSE stream and sends each frame on out until the
// stream ends or ctx is done. It returns nil on a clean EOF.
func ReadFrames(ctx context.Context, r io.Reader, out chan<- Frame) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	var (
		cur     Frame
		data    []string
		pending bool
	)
	emit := func(f Frame) error {
		select {
		case out <- f:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if pending {
				cur.Data = strings.Join(data, "\n")
				if err := emit(cur); err != nil {
					return err
				}
			}
			cur, data, pending = Frame{}, nil, false
			continue
		}
		if strings.HasPrefix(line, ":") {
			if !pending {
				if err := emit(Frame{KeepAlive: true}); err != nil {
					return err
				}
			}
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			id, err := strconv.ParseInt(value, 10, 64)
			if err == nil {
				cur.ID, cur.HasID = id, true
			}
		case "event":
			cur.Event = value
		case "data":
			data = append(data, value)
		default:
			continue
		}
		pending = true
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

package stream

import (
	"strings"

	"github.com/xiaot623/gogo/workspace/internal/domain"
)

// ParsePayload recovers the envelopes carried in one frame's data.
//
// The data is first parsed as a single envelope. Failing that, escaped
// newlines outside JSON strings are turned back into whitespace and the text
// is split wherever one object closes and the next opens. Each piece is
// parsed on its own; pieces that still fail are returned as errors and the
// rest are kept.
func ParsePayload(data string) ([]domain.Envelope, []error) {
	if env, err := domain.ParseEnvelope([]byte(data)); err == nil {
		return []domain.Envelope{env}, nil
	}

	var (
		envs []domain.Envelope
		errs []error
	)
	for _, piece := range splitObjects(data) {
		if strings.TrimSpace(piece) == "" {
			continue
		}
		env, err := domain.ParseEnvelope([]byte(piece))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		envs = append(envs, env)
	}
	return envs, errs
}

// splitObjects walks data once, tracking whether it is inside a JSON string.
// Outside strings, `\n` escapes become newlines and a closing brace followed
// only by whitespace and an opening brace ends a piece.
func splitObjects(data string) []string {
	var (
		pieces   []string
		b        strings.Builder
		inString bool
		escaped  bool
	)
	for i := 0; i < len(data); i++ {
		c := data[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch {
		case c == '"':
			inString = true
			b.WriteByte(c)
		case c == '\\' && i+1 < len(data) && data[i+1] == 'n':
			b.WriteByte('\n')
			i++
		case c == '}':
			b.WriteByte(c)
			if next := skipBoundary(data, i+1); next < len(data) && data[next] == '{' {
				pieces = append(pieces, b.String())
				b.Reset()
				i = next - 1
			}
		default:
			b.WriteByte(c)
		}
	}
	if b.Len() > 0 {
		pieces = append(pieces, b.String())
	}
	return pieces
}

// skipBoundary returns the index of the first byte at or after i that is
// neither whitespace nor an escaped newline.
func skipBoundary(data string, i int) int {
	for i < len(data) {
		switch {
		case data[i] == ' ' || data[i] == '\t' || data[i] == '\n' || data[i] == '\r':
			i++
		case data[i] == '\\' && i+1 < len(data) && data[i+1] == 'n':
			i += 2
		default:
			return i
		}
	}
	return i
}

package agent

import (
	"context"
	"time"

	"goa.design/clue/log"
)

// ModeMock selects the mock agent.
const ModeMock = "MOCK"

// New creates the agent selected by mode. MOCK, or an empty endpoint,
// returns a MockAgent; otherwise the HTTP client for endpoint.
func New(ctx context.Context, mode, endpoint string, timeout time.Duration) Agent {
	if mode == ModeMock || endpoint == "" {
		log.Info(ctx, log.KV{K: "msg", V: "using mock agent"}, log.KV{K: "agent_mode", V: mode})
		return NewMockAgent()
	}
	return NewClient(endpoint, timeout)
}

// Package agent provides the adapters that drive the setup agent for one
// stage turn and collect the envelopes it produces.
package agent

import (
	"context"
	"encoding/json"

	"github.com/xiaot623/gogo/workspace/internal/domain"
)

// Invocation describes one agent turn. Message is empty when the turn is
// the kickoff of a freshly entered stage.
type Invocation struct {
	WorkspaceID      string          `json:"workspace_id"`
	RunID            string          `json:"run_id"`
	Stage            domain.Stage    `json:"stage"`
	Message          string          `json:"message,omitempty"`
	LogID            int64           `json:"log_id,omitempty"`
	DocumentSnapshot json.RawMessage `json:"current_document_snapshot,omitempty"`
	UserEditedFields []string        `json:"user_edited_fields,omitempty"`
	// Previous holds the finalized document of the stage just left.
	Previous json.RawMessage `json:"previous_document,omitempty"`
}

// Kickoff reports whether the invocation starts a stage rather than answering
// a user message.
func (inv *Invocation) Kickoff() bool { return inv.Message == "" }

// EmitFunc receives the envelopes of one agent output step. Each call
// becomes exactly one run log entry.
type EmitFunc func(ctx context.Context, envs ...domain.Envelope) error

// Agent runs one turn of the setup agent.
type Agent interface {
	// Invoke runs the turn and calls emit for every output step. It returns
	// once the agent is done or ctx is cancelled.
	Invoke(ctx context.Context, inv *Invocation, emit EmitFunc) error
}

// Ensure both implementations satisfy Agent.
var (
	_ Agent = (*Client)(nil)
	_ Agent = (*MockAgent)(nil)
)

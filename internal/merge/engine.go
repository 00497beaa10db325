package merge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xiaot623/gogo/workspace/internal/domain"
)

// Engine holds the live state of one document and applies updates to it.
// It is not safe for concurrent use; callers serialize access.
type Engine struct {
	schema *Schema
	opts   Options
	state  State
}

// NewEngine returns an engine for a fresh document of kind.
func NewEngine(kind domain.DocumentKind, opts Options) (*Engine, error) {
	schema, ok := SchemaFor(kind)
	if !ok {
		return nil, fmt.Errorf("merge: unknown document kind %q", kind)
	}
	opts = opts.withDefaults()
	return &Engine{schema: schema, opts: opts, state: NewState(opts.Now())}, nil
}

// Seed replaces the document with a previously accepted snapshot, such as
// one persisted by the server. User and agent fields are taken as-is and the
// system fields are restored from the snapshot.
func (e *Engine) Seed(doc Document) error {
	norm, err := normalize(doc)
	if err != nil {
		return err
	}
	st := NewState(e.opts.Now())
	for _, f := range e.schema.Fields {
		if f.Owner == domain.OwnerSystem {
			continue
		}
		if v, ok := norm.Get(f.Path); ok {
			st.Doc.Set(f.Path, v)
		}
	}
	if v, ok := norm[FieldCurrentVersion].(float64); ok && v > 0 {
		st.Version = int(v)
	}
	if v, ok := norm[FieldConfirmed].(bool); ok {
		st.Confirmed = v
	}
	if v, ok := norm[FieldCreatedAt].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.CreatedAt = ts
		}
	}
	if raw, ok := norm[FieldIterationHistory]; ok {
		b, _ := json.Marshal(raw)
		var history []domain.IterationEntry
		if err := json.Unmarshal(b, &history); err == nil {
			st.History = history
		}
	}
	e.state = st
	return nil
}

// Kind returns the document kind.
func (e *Engine) Kind() domain.DocumentKind { return e.schema.Kind }

// Apply merges one update.
func (e *Engine) Apply(u Update) Result {
	next, res := Merge(e.schema, e.state, u, e.opts)
	e.state = next
	return res
}

// Origin locates an agent broadcast in the run log.
type Origin struct {
	LogID int64
	Index int
	// InReplyTo is the log id of the user message the broadcast answers.
	InReplyTo int64
}

// ApplyAgentJSON decodes and merges an agent broadcast found at o.
func (e *Engine) ApplyAgentJSON(raw json.RawMessage, o Origin) Result {
	u := Update{Source: domain.SourceAgent, LogID: o.LogID, Index: o.Index, InReplyTo: o.InReplyTo}
	if u.replayOf(e.state) {
		return Result{Replayed: true}
	}
	doc, err := FromJSON(raw)
	if err != nil {
		e.state.markApplied(u)
		e.state.Rejected++
		return Result{
			Err:      fmt.Errorf("merge: decode %s: %w", e.schema.Kind, err),
			Systemic: e.state.Rejected >= e.opts.SystemicThreshold,
		}
	}
	u.Document = doc
	return e.Apply(u)
}

// LocalEdit accepts the form's current document, diffs it against the
// accepted one and merges the changed user-owned fields. It returns the
// changed paths.
func (e *Engine) LocalEdit(doc Document) ([]string, Result) {
	norm, err := normalize(doc)
	if err != nil {
		return nil, Result{Err: err}
	}
	changed := Diff(e.schema, e.state, norm)
	if len(changed) == 0 {
		return nil, Result{}
	}
	res := e.Apply(Update{Source: domain.SourceUser, Document: norm.Only(changed...)})
	if res.Err != nil {
		return nil, res
	}
	return changed, res
}

// PendingUserEdits lists user edits the agent has not been told about.
func (e *Engine) PendingUserEdits() []string {
	return append([]string(nil), e.state.Pending...)
}

// SuppressedFields lists user-owned paths currently protected from agent
// writes.
func (e *Engine) SuppressedFields() []string {
	out := make([]string, 0, len(e.state.UserEdited))
	for _, path := range e.schema.Paths(domain.OwnerUser) {
		if _, ok := e.state.UserEdited[path]; ok {
			out = append(out, path)
		}
	}
	return out
}

// MarkSent records that pending edits were delivered in the message at logID.
func (e *Engine) MarkSent(logID int64) {
	e.state = MarkSent(e.state, logID)
}

// Finalize marks the document confirmed and returns its snapshot.
func (e *Engine) Finalize() Document {
	e.state.Confirmed = true
	return e.Document()
}

// Document returns a snapshot with system fields filled in.
func (e *Engine) Document() Document {
	return Snapshot(e.state)
}

// JSON returns the snapshot encoded as JSON.
func (e *Engine) JSON() (json.RawMessage, error) {
	return json.Marshal(e.Document())
}

// Version returns the current document version.
func (e *Engine) Version() int { return e.state.Version }

// History returns the bounded iteration history.
func (e *Engine) History() []domain.IterationEntry {
	return append([]domain.IterationEntry(nil), e.state.History...)
}

// State returns a copy of the full merge state.
func (e *Engine) State() State { return e.state.Clone() }

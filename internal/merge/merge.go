// Package merge reconciles concurrent writes to a shared document from two
// writer classes: the user typing into a form and the agent re-broadcasting
// its view of the document.
//
// Every field has exactly one owner (see Schema). User-owned fields take the
// user's local value until the agent has acknowledged it. Agent-owned fields
// are written only by the agent. System fields are computed here and never
// taken from either writer.
package merge

import (
	"fmt"
	"sort"
	"time"

	"github.com/xiaot623/gogo/workspace/internal/docschema"
	"github.com/xiaot623/gogo/workspace/internal/domain"
)

const (
	// DefaultHistoryLimit bounds the iteration history.
	DefaultHistoryLimit = 50
	// DefaultSystemicThreshold is the number of consecutive rejected updates
	// after which a Result is flagged systemic.
	DefaultSystemicThreshold = 3
)

// Options tunes Merge.
type Options struct {
	HistoryLimit      int
	SystemicThreshold int
	Now               func() time.Time
}

func (o Options) withDefaults() Options {
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = DefaultHistoryLimit
	}
	if o.SystemicThreshold <= 0 {
		o.SystemicThreshold = DefaultSystemicThreshold
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// State is the merge-relevant view of one document.
type State struct {
	Doc       Document
	Version   int
	History   []domain.IterationEntry
	CreatedAt time.Time
	Confirmed bool

	// UserEdited holds user-owned paths whose local value wins over agent
	// writes. The value is the log id of the message that carried the edit to
	// the agent, or 0 while the edit has not been sent.
	UserEdited map[string]int64
	// AgentSent holds the last value the agent sent for each path. A repeat
	// of that value is an echo and is never applied.
	AgentSent map[string]any
	// Pending lists user edits not yet communicated, in edit order.
	Pending []string
	// AppliedLogID and AppliedIndex locate the last agent update taken from
	// the run log. Anything at or before it is a replay.
	AppliedLogID int64
	AppliedIndex int

	Rejected int
}

// NewState returns the state of a fresh document.
func NewState(now time.Time) State {
	return State{
		Doc:        Document{},
		CreatedAt:  now,
		UserEdited: map[string]int64{},
		AgentSent:  map[string]any{},
	}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	out.Doc = s.Doc.Clone()
	if out.Doc == nil {
		out.Doc = Document{}
	}
	out.History = append([]domain.IterationEntry(nil), s.History...)
	out.UserEdited = make(map[string]int64, len(s.UserEdited))
	for k, v := range s.UserEdited {
		out.UserEdited[k] = v
	}
	out.AgentSent = make(map[string]any, len(s.AgentSent))
	for k, v := range s.AgentSent {
		out.AgentSent[k] = cloneValue(v)
	}
	out.Pending = append([]string(nil), s.Pending...)
	return out
}

// Update is one write to apply.
type Update struct {
	Source   domain.Source
	Document Document
	// LogID is the run log id of an agent update. Zero when unknown.
	LogID int64
	// Index is the position of the update within its log entry.
	Index int
	// InReplyTo is the log id of the user message an agent update answers.
	// Zero when the update answers no message.
	InReplyTo int64
}

// replayOf reports whether u was already taken from the run log.
func (u Update) replayOf(s State) bool {
	if u.Source != domain.SourceAgent || u.LogID <= 0 {
		return false
	}
	if u.LogID != s.AppliedLogID {
		return u.LogID < s.AppliedLogID
	}
	return u.Index <= s.AppliedIndex
}

func (s *State) markApplied(u Update) {
	if u.Source == domain.SourceAgent && u.LogID > 0 {
		s.AppliedLogID, s.AppliedIndex = u.LogID, u.Index
	}
}

// Result reports what a merge did.
type Result struct {
	Changed    []string
	Suppressed []string
	Echoes     []string
	Ignored    []string
	Cleared    []string
	Accepted   bool
	Err        error
	Systemic   bool
	// Replayed is set when the update was skipped as already applied.
	Replayed bool
}

// Merge applies update to state under schema and returns the new state. The
// input state is not modified. An agent update at or before the last one
// applied changes nothing. An invalid update leaves the state unchanged
// apart from the rejection counter.
func Merge(schema *Schema, state State, update Update, opts Options) (State, Result) {
	opts = opts.withDefaults()
	if update.replayOf(state) {
		return state.Clone(), Result{Replayed: true}
	}
	next := state.Clone()
	next.markApplied(update)
	var res Result

	incoming, err := validate(schema, update)
	if err != nil {
		next.Rejected++
		res.Err = err
		res.Systemic = next.Rejected >= opts.SystemicThreshold
		return next, res
	}
	next.Rejected = 0

	// The agent's answer to the message that carried the user's edits is
	// authoritative for them.
	if update.Source == domain.SourceAgent && update.InReplyTo > 0 {
		res.Cleared = clearAcknowledged(next.UserEdited, update.InReplyTo)
	}

	for _, f := range schema.Fields {
		v, ok := incoming.Get(f.Path)
		if !ok {
			continue
		}
		switch f.Owner {
		case domain.OwnerSystem:
			res.Ignored = append(res.Ignored, f.Path)
		case domain.OwnerAgent:
			if update.Source != domain.SourceAgent {
				res.Ignored = append(res.Ignored, f.Path)
				continue
			}
			if isEcho(next, f.Path, v) {
				res.Echoes = append(res.Echoes, f.Path)
				continue
			}
			next.AgentSent[f.Path] = cloneValue(v)
			if apply(next.Doc, f.Path, v) {
				res.Changed = append(res.Changed, f.Path)
			}
		case domain.OwnerUser:
			if update.Source == domain.SourceUser {
				next.UserEdited[f.Path] = 0
				if apply(next.Doc, f.Path, v) {
					res.Changed = append(res.Changed, f.Path)
					next.Pending = appendUnique(next.Pending, f.Path)
				}
				continue
			}
			if isEcho(next, f.Path, v) {
				res.Echoes = append(res.Echoes, f.Path)
				continue
			}
			next.AgentSent[f.Path] = cloneValue(v)
			if _, held := next.UserEdited[f.Path]; held {
				if cur, _ := next.Doc.Get(f.Path); !equal(cur, v) {
					res.Suppressed = append(res.Suppressed, f.Path)
				}
				continue
			}
			if apply(next.Doc, f.Path, v) {
				res.Changed = append(res.Changed, f.Path)
			}
		}
	}

	if len(res.Changed) > 0 {
		next.Version++
		next.History = append(next.History, domain.IterationEntry{
			Version:   next.Version,
			Timestamp: opts.Now(),
			Source:    update.Source,
		})
		if over := len(next.History) - opts.HistoryLimit; over > 0 {
			next.History = append([]domain.IterationEntry(nil), next.History[over:]...)
		}
		res.Accepted = true
	}
	return next, res
}

// MarkSent records that the pending user edits were delivered to the agent
// in the message appended at logID. Their suppression lifts once an agent
// update answering that message, or a later one, arrives.
func MarkSent(state State, logID int64) State {
	next := state.Clone()
	for path, sent := range next.UserEdited {
		if sent == 0 {
			next.UserEdited[path] = logID
		}
	}
	next.Pending = nil
	return next
}

// Diff returns the user-owned paths whose value in doc differs from the
// accepted document.
func Diff(schema *Schema, state State, doc Document) []string {
	var out []string
	for _, path := range schema.Paths(domain.OwnerUser) {
		v, ok := doc.Get(path)
		if !ok {
			continue
		}
		cur, had := state.Doc.Get(path)
		if !had || !equal(cur, v) {
			out = append(out, path)
		}
	}
	return out
}

// Snapshot renders the document with its system fields filled in.
func Snapshot(state State) Document {
	doc := state.Doc.Clone()
	if doc == nil {
		doc = Document{}
	}
	history := make([]any, 0, len(state.History))
	for _, h := range state.History {
		history = append(history, map[string]any{
			"version":   h.Version,
			"timestamp": h.Timestamp.Format(time.RFC3339Nano),
			"source":    string(h.Source),
		})
	}
	doc[FieldSchemaVersion] = domain.CurrentSchemaVersion
	doc[FieldCurrentVersion] = state.Version
	doc[FieldIterationHistory] = history
	doc[FieldConfirmed] = state.Confirmed
	if !state.CreatedAt.IsZero() {
		doc[FieldCreatedAt] = state.CreatedAt.Format(time.RFC3339Nano)
	}
	return doc
}

func validate(schema *Schema, update Update) (Document, error) {
	if update.Source != domain.SourceUser && update.Source != domain.SourceAgent {
		return nil, fmt.Errorf("merge: unknown source %q", update.Source)
	}
	if update.Document == nil {
		return nil, fmt.Errorf("merge: empty %s update", schema.Kind)
	}
	doc, err := normalize(update.Document)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	if err := docschema.Validate(schema.Kind, map[string]any(doc)); err != nil {
		return nil, err
	}
	return doc, nil
}

func isEcho(state State, path string, v any) bool {
	prev, ok := state.AgentSent[path]
	return ok && equal(prev, v)
}

func apply(doc Document, path string, v any) bool {
	cur, ok := doc.Get(path)
	if ok && equal(cur, v) {
		return false
	}
	doc.Set(path, cloneValue(v))
	return true
}

func clearAcknowledged(edited map[string]int64, replyTo int64) []string {
	var cleared []string
	for path, sent := range edited {
		if sent > 0 && sent <= replyTo {
			delete(edited, path)
			cleared = append(cleared, path)
		}
	}
	sort.Strings(cleared)
	return cleared
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

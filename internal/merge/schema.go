package merge

import (
	"fmt"

	"github.com/xiaot623/gogo/workspace/internal/domain"
)

// Field is one merge unit of a document: a dotted path and the writer class
// that owns it.
type Field struct {
	Path  string
	Owner domain.Owner
}

// Schema is the fixed field ownership table of one document kind.
type Schema struct {
	Kind   domain.DocumentKind
	Fields []Field
	owners map[string]domain.Owner
}

// NewSchema builds a schema. Paths must be unique.
func NewSchema(kind domain.DocumentKind, fields ...Field) (*Schema, error) {
	s := &Schema{Kind: kind, Fields: fields, owners: make(map[string]domain.Owner, len(fields))}
	for _, f := range fields {
		if _, dup := s.owners[f.Path]; dup {
			return nil, fmt.Errorf("merge: duplicate field %q in %s schema", f.Path, kind)
		}
		s.owners[f.Path] = f.Owner
	}
	return s, nil
}

func mustSchema(kind domain.DocumentKind, fields ...Field) *Schema {
	s, err := NewSchema(kind, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Owner returns the owner of path.
func (s *Schema) Owner(path string) (domain.Owner, bool) {
	o, ok := s.owners[path]
	return o, ok
}

// Paths lists the paths owned by owner in schema order.
func (s *Schema) Paths(owner domain.Owner) []string {
	var out []string
	for _, f := range s.Fields {
		if f.Owner == owner {
			out = append(out, f.Path)
		}
	}
	return out
}

// System-owned fields are shared by every document kind.
const (
	FieldSchemaVersion    = "schema_version"
	FieldIterationHistory = "iteration_history"
	FieldCurrentVersion   = "current_version"
	FieldCreatedAt        = "created_at"
	FieldConfirmed        = "confirmed"
)

func user(path string) Field  { return Field{Path: path, Owner: domain.OwnerUser} }
func agent(path string) Field { return Field{Path: path, Owner: domain.OwnerAgent} }

func withSystem(fields ...Field) []Field {
	return append(fields,
		Field{Path: FieldSchemaVersion, Owner: domain.OwnerSystem},
		Field{Path: FieldIterationHistory, Owner: domain.OwnerSystem},
		Field{Path: FieldCurrentVersion, Owner: domain.OwnerSystem},
		Field{Path: FieldCreatedAt, Owner: domain.OwnerSystem},
		Field{Path: FieldConfirmed, Owner: domain.OwnerSystem},
	)
}

var (
	// IntentSchema governs the intent package.
	IntentSchema = mustSchema(domain.DocumentIntent, withSystem(
		user("title"),
		user("summary"),
		user("description"),
		user("mission.objective"),
		user("mission.why"),
		user("mission.success_looks_like"),
		agent("team_guidance.expertise_needed"),
		agent("team_guidance.capabilities_needed"),
		agent("team_guidance.complexity_level"),
		agent("team_guidance.complexity_notes"),
		agent("team_guidance.collaboration_pattern"),
		agent("team_guidance.human_ai_handshake_points"),
		agent("team_guidance.workflow_pattern"),
		agent("conversation_transcript"),
	)...)

	// DataScopeSchema governs the data scope document.
	DataScopeSchema = mustSchema(domain.DocumentDataScope, withSystem(
		user("title"),
		user("notes"),
		user("filters"),
		agent("data_sources"),
		agent("entities"),
		agent("rationale"),
		agent("scope_summary"),
	)...)

	// ExecutionSchema governs the execution results document.
	ExecutionSchema = mustSchema(domain.DocumentExecution, withSystem(
		user("user_notes"),
		agent("status"),
		agent("summary"),
		agent("results"),
		agent("findings"),
	)...)

	// TeamSchema governs the team configuration document.
	TeamSchema = mustSchema(domain.DocumentTeam, withSystem(
		user("team_name"),
		user("user_notes"),
		agent("members"),
		agent("workflow"),
		agent("coordination_notes"),
	)...)
)

// SchemaFor returns the ownership schema of kind.
func SchemaFor(kind domain.DocumentKind) (*Schema, bool) {
	switch kind {
	case domain.DocumentIntent:
		return IntentSchema, true
	case domain.DocumentDataScope:
		return DataScopeSchema, true
	case domain.DocumentExecution:
		return ExecutionSchema, true
	case domain.DocumentTeam:
		return TeamSchema, true
	}
	return nil, false
}

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xiaot623/gogo/workspace/internal/domain"
)

// MockAgent is a deterministic agent for local runs and tests. It answers
// each turn with stage-appropriate envelopes built from the user's message
// and snapshot.
type MockAgent struct {
	mu          sync.Mutex
	transcripts map[string][]string
}

// NewMockAgent creates a new mock agent.
func NewMockAgent() *MockAgent {
	return &MockAgent{transcripts: map[string][]string{}}
}

// Invoke emits the mock output for inv.
func (m *MockAgent) Invoke(ctx context.Context, inv *Invocation, emit EmitFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	steps, err := m.respond(inv)
	if err != nil {
		return err
	}
	for _, envs := range steps {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := emit(ctx, envs...); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockAgent) respond(inv *Invocation) ([][]domain.Envelope, error) {
	switch inv.Stage {
	case domain.StageIntent:
		if inv.Kickoff() {
			return nil, nil
		}
		return m.intentTurn(inv)
	case domain.StageDataScoping:
		return scopeTurn(inv)
	case domain.StageExecution:
		return executionTurn(inv)
	case domain.StageTeamBuilding:
		return teamTurn(inv)
	}
	return nil, fmt.Errorf("mock agent: no turn for stage %q", inv.Stage)
}

func (m *MockAgent) intentTurn(inv *Invocation) ([][]domain.Envelope, error) {
	snapshot := decodeObject(inv.DocumentSnapshot)
	mission, _ := snapshot["mission"].(map[string]any)
	if mission == nil {
		mission = map[string]any{}
	}

	title, _ := snapshot["title"].(string)
	if title == "" {
		title = truncate(inv.Message, 60)
	}
	if obj, _ := mission["objective"].(string); obj == "" {
		mission["objective"] = inv.Message
	}

	m.mu.Lock()
	lines := append(m.transcripts[inv.RunID], "user: "+inv.Message)
	m.transcripts[inv.RunID] = lines
	m.mu.Unlock()

	words := keywords(inv.Message)
	pkg := map[string]any{
		"title":   title,
		"summary": stringField(snapshot, "summary"),
		"mission": mission,
		"team_guidance": map[string]any{
			"expertise_needed":          words,
			"capabilities_needed":       []string{"research", "summarization"},
			"complexity_level":          complexity(inv.Message),
			"complexity_notes":          fmt.Sprintf("[MOCK] derived from %d words", len(strings.Fields(inv.Message))),
			"collaboration_pattern":     "Coordinated",
			"human_ai_handshake_points": []string{"scope review", "final sign-off"},
			"workflow_pattern":          "OneTime",
		},
		"conversation_transcript": strings.Join(lines, "\n"),
	}
	raw, err := json.Marshal(pkg)
	if err != nil {
		return nil, err
	}

	updated, err := domain.NewEnvelope(domain.EventIntentUpdated, domain.DocumentPayload{
		IntentPackage: raw,
		UpdateSummary: fmt.Sprintf("[MOCK] Received your message: %q.", truncate(inv.Message, 100)),
	})
	if err != nil {
		return nil, err
	}
	step := []domain.Envelope{updated}
	if len(lines) >= 2 {
		proposed, err := domain.NewEnvelope(domain.EventIntentProposed, domain.DocumentPayload{IntentPackage: raw, Ready: true})
		if err != nil {
			return nil, err
		}
		step = append(step, proposed)
	}
	return [][]domain.Envelope{step}, nil
}

func scopeTurn(inv *Invocation) ([][]domain.Envelope, error) {
	kind := domain.EventScopeUpdated
	basis := inv.Message
	if inv.Kickoff() {
		kind = domain.EventScopeReady
		basis = stringField(decodeObject(inv.Previous), "title")
	}
	entities := keywords(basis)
	sources := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		sources = append(sources, map[string]any{"name": e + "_records", "kind": "table"})
	}
	scope, err := json.Marshal(map[string]any{
		"data_sources":  sources,
		"entities":      entities,
		"rationale":     fmt.Sprintf("[MOCK] scoped from %q", truncate(basis, 100)),
		"scope_summary": fmt.Sprintf("%d sources", len(sources)),
	})
	if err != nil {
		return nil, err
	}
	env, err := domain.NewEnvelope(kind, domain.ScopePayload{DataScope: scope})
	if err != nil {
		return nil, err
	}
	return [][]domain.Envelope{{env}}, nil
}

func executionTurn(inv *Invocation) ([][]domain.Envelope, error) {
	var steps [][]domain.Envelope
	running, err := json.Marshal(map[string]any{"status": "running", "results": []any{}})
	if err != nil {
		return nil, err
	}
	progress, err := domain.NewEnvelope(domain.EventExecutionProgress, domain.ExecutionPayload{Results: running})
	if err != nil {
		return nil, err
	}
	steps = append(steps, []domain.Envelope{progress})

	findings := []string{"[MOCK] execution finished"}
	if !inv.Kickoff() {
		findings = append(findings, "[MOCK] noted: "+truncate(inv.Message, 100))
	}
	done, err := json.Marshal(map[string]any{
		"status":   "complete",
		"summary":  "[MOCK] all steps ran",
		"results":  []map[string]any{{"name": "scope_query", "status": "ok"}},
		"findings": findings,
	})
	if err != nil {
		return nil, err
	}
	complete, err := domain.NewEnvelope(domain.EventExecutionComplete, domain.ExecutionPayload{Results: done})
	if err != nil {
		return nil, err
	}
	return append(steps, []domain.Envelope{complete}), nil
}

func teamTurn(inv *Invocation) ([][]domain.Envelope, error) {
	members := []map[string]any{
		{"name": "analyst", "role": "Analyst", "kind": "agent", "capabilities": []string{"research"}},
		{"name": "owner", "role": "Reviewer", "kind": "human"},
	}
	notes := "[MOCK] analyst drafts, owner reviews"
	if !inv.Kickoff() {
		notes += "; " + truncate(inv.Message, 100)
	}
	progress, err := json.Marshal(map[string]any{"members": members[:1]})
	if err != nil {
		return nil, err
	}
	final, err := json.Marshal(map[string]any{
		"members":            members,
		"workflow":           "review-then-run",
		"coordination_notes": notes,
	})
	if err != nil {
		return nil, err
	}
	first, err := domain.NewEnvelope(domain.EventTeamBuildingProgress, domain.TeamPayload{TeamConfig: progress})
	if err != nil {
		return nil, err
	}
	last, err := domain.NewEnvelope(domain.EventTeamComplete, domain.TeamPayload{TeamConfig: final})
	if err != nil {
		return nil, err
	}
	return [][]domain.Envelope{{first}, {last}}, nil
}

func decodeObject(raw json.RawMessage) map[string]any {
	obj := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &obj)
	}
	return obj
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

// keywords returns the distinct lowercase words longer than four letters,
// sorted, at most five.
func keywords(s string) []string {
	seen := map[string]bool{}
	var out []string
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	}) {
		if len(w) > 4 && !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	sort.Strings(out)
	if len(out) > 5 {
		out = out[:5]
	}
	if out == nil {
		out = []string{}
	}
	return out
}

func complexity(msg string) string {
	switch n := len(strings.Fields(msg)); {
	case n > 40:
		return string(domain.ComplexityComplex)
	case n > 12:
		return string(domain.ComplexityModerate)
	}
	return string(domain.ComplexitySimple)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

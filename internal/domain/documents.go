package domain

import "time"

// CurrentSchemaVersion is stamped on every document the system creates.
const CurrentSchemaVersion = 1

// IterationEntry records one accepted merge.
type IterationEntry struct {
	Version   int       `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Source    Source    `json:"source"`
}

// Mission is the user-owned statement of what the workspace is for.
type Mission struct {
	Objective        string `json:"objective"`
	Why              string `json:"why"`
	SuccessLooksLike string `json:"success_looks_like"`
}

// ComplexityLevel grades how hard the workspace goal is.
type ComplexityLevel string

const (
	ComplexitySimple   ComplexityLevel = "Simple"
	ComplexityModerate ComplexityLevel = "Moderate"
	ComplexityComplex  ComplexityLevel = "Complex"
)

// CollaborationPattern describes how agents on the team work together.
type CollaborationPattern string

const (
	CollaborationSolo         CollaborationPattern = "Solo"
	CollaborationCoordinated  CollaborationPattern = "Coordinated"
	CollaborationOrchestrated CollaborationPattern = "Orchestrated"
)

// WorkflowPattern describes how often the workspace runs.
type WorkflowPattern string

const (
	WorkflowOneTime     WorkflowPattern = "OneTime"
	WorkflowRecurring   WorkflowPattern = "Recurring"
	WorkflowExploratory WorkflowPattern = "Exploratory"
)

// TeamGuidance is agent-owned metadata derived from the conversation.
type TeamGuidance struct {
	ExpertiseNeeded        []string             `json:"expertise_needed"`
	CapabilitiesNeeded     []string             `json:"capabilities_needed"`
	ComplexityLevel        ComplexityLevel      `json:"complexity_level,omitempty"`
	ComplexityNotes        string               `json:"complexity_notes"`
	CollaborationPattern   CollaborationPattern `json:"collaboration_pattern,omitempty"`
	HumanAIHandshakePoints []string             `json:"human_ai_handshake_points"`
	WorkflowPattern        WorkflowPattern      `json:"workflow_pattern,omitempty"`
}

// IntentPackage is the shared document of the intent stage.
type IntentPackage struct {
	SchemaVersion          int              `json:"schema_version"`
	Title                  string           `json:"title"`
	Summary                string           `json:"summary"`
	Description            string           `json:"description"`
	Mission                Mission          `json:"mission"`
	TeamGuidance           TeamGuidance     `json:"team_guidance"`
	ConversationTranscript string           `json:"conversation_transcript,omitempty"`
	IterationHistory       []IterationEntry `json:"iteration_history"`
	CurrentVersion         int              `json:"current_version"`
	CreatedAt              time.Time        `json:"created_at"`
	Confirmed              bool             `json:"confirmed"`
}

// DataSource is one dataset the agent proposes to use.
type DataSource struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
}

// DataScope is the shared document of the data scoping stage.
type DataScope struct {
	SchemaVersion    int              `json:"schema_version"`
	Title            string           `json:"title"`
	Notes            string           `json:"notes"`
	Filters          []string         `json:"filters"`
	DataSources      []DataSource     `json:"data_sources"`
	Entities         []string         `json:"entities"`
	Rationale        string           `json:"rationale"`
	ScopeSummary     string           `json:"scope_summary"`
	IterationHistory []IterationEntry `json:"iteration_history"`
	CurrentVersion   int              `json:"current_version"`
	CreatedAt        time.Time        `json:"created_at"`
	Confirmed        bool             `json:"confirmed"`
}

// ExecutionResult is one output of the execution stage.
type ExecutionResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Output string `json:"output,omitempty"`
}

// ExecutionResults is the shared document of the execution stage.
type ExecutionResults struct {
	SchemaVersion    int               `json:"schema_version"`
	Status           string            `json:"status"`
	Summary          string            `json:"summary"`
	Results          []ExecutionResult `json:"results"`
	Findings         []string          `json:"findings"`
	UserNotes        string            `json:"user_notes"`
	IterationHistory []IterationEntry  `json:"iteration_history"`
	CurrentVersion   int               `json:"current_version"`
	CreatedAt        time.Time         `json:"created_at"`
	Confirmed        bool              `json:"confirmed"`
}

// TeamMember is one proposed participant, human or agent.
type TeamMember struct {
	Name         string   `json:"name"`
	Role         string   `json:"role"`
	Kind         string   `json:"kind"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// TeamConfig is the shared document of the team building stage.
type TeamConfig struct {
	SchemaVersion     int              `json:"schema_version"`
	TeamName          string           `json:"team_name"`
	UserNotes         string           `json:"user_notes"`
	Members           []TeamMember     `json:"members"`
	Workflow          string           `json:"workflow"`
	CoordinationNotes string           `json:"coordination_notes"`
	IterationHistory  []IterationEntry `json:"iteration_history"`
	CurrentVersion    int              `json:"current_version"`
	CreatedAt         time.Time        `json:"created_at"`
	Confirmed         bool             `json:"confirmed"`
}

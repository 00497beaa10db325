// Package domain defines the core domain models for workspace setup.
package domain

// Stage identifies which setup artifact is currently live for a workspace.
type Stage string

const (
	StageIntent       Stage = "intent"
	StageDataScoping  Stage = "data_scoping"
	StageExecution    Stage = "execution"
	StageTeamBuilding Stage = "team_building"
	StageComplete     Stage = "complete"
)

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	switch s {
	case StageIntent, StageDataScoping, StageExecution, StageTeamBuilding, StageComplete:
		return true
	}
	return false
}

// DocumentKind returns the shared document edited during the stage.
// The terminal stage has no document.
func (s Stage) DocumentKind() (DocumentKind, bool) {
	switch s {
	case StageIntent:
		return DocumentIntent, true
	case StageDataScoping:
		return DocumentDataScope, true
	case StageExecution:
		return DocumentExecution, true
	case StageTeamBuilding:
		return DocumentTeam, true
	}
	return "", false
}

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunStatusRunning    RunStatus = "RUNNING"
	RunStatusDone       RunStatus = "DONE"
	RunStatusFailed     RunStatus = "FAILED"
	RunStatusSuperseded RunStatus = "SUPERSEDED"
)

// DocumentKind names one of the shared documents.
type DocumentKind string

const (
	DocumentIntent    DocumentKind = "intent_package"
	DocumentDataScope DocumentKind = "data_scope"
	DocumentExecution DocumentKind = "execution_results"
	DocumentTeam      DocumentKind = "team_config"
)

// Source identifies who produced a document update.
type Source string

const (
	SourceUser  Source = "user"
	SourceAgent Source = "agent"
)

// Owner is the writer class a document field belongs to.
type Owner string

const (
	OwnerUser   Owner = "user"
	OwnerAgent  Owner = "agent"
	OwnerSystem Owner = "system"
)

// EventType is the discriminator carried in every envelope.
type EventType string

const (
	EventIntentUpdated        EventType = "intent_updated"
	EventIntentProposed       EventType = "intent_proposed"
	EventIntentFinalized      EventType = "intent_finalized"
	EventScopeReady           EventType = "scope_ready"
	EventScopeUpdated         EventType = "scope_updated"
	EventExecutionProgress    EventType = "execution_progress"
	EventExecutionComplete    EventType = "execution_complete"
	EventExecutionError       EventType = "execution_error"
	EventTeamBuildingProgress EventType = "team_building_progress"
	EventTeamComplete         EventType = "team_complete"
	EventTeamBuildingError    EventType = "team_building_error"
	EventError                EventType = "error"
	EventStageUpdate          EventType = "stage_update"
	EventUserMessage          EventType = "user_message"
)

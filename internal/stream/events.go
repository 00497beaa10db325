package stream

import (
	"encoding/json"
	"fmt"

	"github.com/xiaot623/gogo/workspace/internal/domain"
)

// Event is a decoded envelope. The concrete types below are the only
// implementations; callers switch on them and treat Unknown as ignorable.
type Event interface {
	Type() domain.EventType
	event()
}

type (
	// IntentUpdated is an agent-sourced revision of the intent package.
	IntentUpdated struct {
		Document json.RawMessage
		Summary  string
	}

	// IntentProposed marks the intent package ready for confirmation.
	IntentProposed struct {
		Document json.RawMessage
		Ready    bool
	}

	// IntentFinalized is the agent's view of the confirmed intent package.
	IntentFinalized struct {
		Document json.RawMessage
	}

	// ScopeUpdated is an agent-sourced revision of the data scope.
	ScopeUpdated struct {
		Kind     domain.EventType
		Document json.RawMessage
		Summary  string
	}

	// ExecutionProgress reports execution results so far.
	ExecutionProgress struct {
		Kind     domain.EventType
		Results  json.RawMessage
		Complete bool
	}

	// TeamUpdate carries the team configuration.
	TeamUpdate struct {
		Kind     domain.EventType
		Document json.RawMessage
		Complete bool
	}

	// StageError is a recoverable failure scoped to one stage. Stage is
	// empty when the producer did not tag it.
	StageError struct {
		Kind    domain.EventType
		Stage   domain.Stage
		Message string
	}

	// StageUpdate moves the workspace stage pointer.
	StageUpdate struct {
		Stage domain.Stage
		RunID string
	}

	// UserMessage echoes a submitted chat turn.
	UserMessage struct {
		MessageID        string
		Message          string
		Snapshot         json.RawMessage
		UserEditedFields []string
	}

	// Unknown is any envelope whose event_type is not recognized.
	Unknown struct {
		EventType domain.EventType
		Raw       json.RawMessage
	}
)

func (IntentUpdated) Type() domain.EventType       { return domain.EventIntentUpdated }
func (IntentProposed) Type() domain.EventType      { return domain.EventIntentProposed }
func (IntentFinalized) Type() domain.EventType     { return domain.EventIntentFinalized }
func (e ScopeUpdated) Type() domain.EventType      { return e.Kind }
func (e ExecutionProgress) Type() domain.EventType { return e.Kind }
func (e TeamUpdate) Type() domain.EventType        { return e.Kind }
func (e StageError) Type() domain.EventType        { return e.Kind }
func (StageUpdate) Type() domain.EventType         { return domain.EventStageUpdate }
func (UserMessage) Type() domain.EventType         { return domain.EventUserMessage }
func (e Unknown) Type() domain.EventType           { return e.EventType }

func (IntentUpdated) event()     {}
func (IntentProposed) event()    {}
func (IntentFinalized) event()   {}
func (ScopeUpdated) event()      {}
func (ExecutionProgress) event() {}
func (TeamUpdate) event()        {}
func (StageError) event()        {}
func (StageUpdate) event()       {}
func (UserMessage) event()       {}
func (Unknown) event()           {}

// Decode turns an envelope into its typed event. Unrecognized event types
// decode to Unknown; a recognized type with a malformed payload is an error.
func Decode(env domain.Envelope) (Event, error) {
	switch env.EventType {
	case domain.EventIntentUpdated, domain.EventIntentProposed, domain.EventIntentFinalized:
		var p domain.DocumentPayload
		if err := env.Decode(&p); err != nil {
			return nil, decodeErr(env, err)
		}
		switch env.EventType {
		case domain.EventIntentUpdated:
			return IntentUpdated{Document: p.IntentPackage, Summary: p.UpdateSummary}, nil
		case domain.EventIntentProposed:
			return IntentProposed{Document: p.IntentPackage, Ready: p.Ready}, nil
		default:
			return IntentFinalized{Document: p.IntentPackage}, nil
		}

	case domain.EventScopeReady, domain.EventScopeUpdated:
		var p domain.ScopePayload
		if err := env.Decode(&p); err != nil {
			return nil, decodeErr(env, err)
		}
		doc := p.DataScope
		if len(doc) == 0 {
			doc = p.ScopeState
		}
		return ScopeUpdated{Kind: env.EventType, Document: doc, Summary: p.UpdateSummary}, nil

	case domain.EventExecutionProgress, domain.EventExecutionComplete:
		var p domain.ExecutionPayload
		if err := env.Decode(&p); err != nil {
			return nil, decodeErr(env, err)
		}
		return ExecutionProgress{
			Kind:     env.EventType,
			Results:  p.Results,
			Complete: env.EventType == domain.EventExecutionComplete,
		}, nil

	case domain.EventTeamBuildingProgress, domain.EventTeamComplete:
		var p domain.TeamPayload
		if err := env.Decode(&p); err != nil {
			return nil, decodeErr(env, err)
		}
		return TeamUpdate{
			Kind:     env.EventType,
			Document: p.TeamConfig,
			Complete: env.EventType == domain.EventTeamComplete,
		}, nil

	case domain.EventExecutionError, domain.EventTeamBuildingError, domain.EventError:
		var p domain.ErrorPayload
		if err := env.Decode(&p); err != nil {
			return nil, decodeErr(env, err)
		}
		stage := p.Stage
		if stage == "" {
			switch env.EventType {
			case domain.EventExecutionError:
				stage = domain.StageExecution
			case domain.EventTeamBuildingError:
				stage = domain.StageTeamBuilding
			}
		}
		return StageError{Kind: env.EventType, Stage: stage, Message: p.Text()}, nil

	case domain.EventStageUpdate:
		var p domain.StageUpdatePayload
		if err := env.Decode(&p); err != nil {
			return nil, decodeErr(env, err)
		}
		if !p.Stage.Valid() {
			return nil, fmt.Errorf("%s: unknown stage %q", env.EventType, p.Stage)
		}
		return StageUpdate{Stage: p.Stage, RunID: p.RunID}, nil

	case domain.EventUserMessage:
		var p domain.UserMessagePayload
		if err := env.Decode(&p); err != nil {
			return nil, decodeErr(env, err)
		}
		return UserMessage{
			MessageID:        p.MessageID,
			Message:          p.Message,
			Snapshot:         p.DocumentSnapshot,
			UserEditedFields: p.UserEditedFields,
		}, nil
	}
	return Unknown{EventType: env.EventType, Raw: env.Raw}, nil
}

func decodeErr(env domain.Envelope, err error) error {
	return fmt.Errorf("decode %s: %w", env.EventType, err)
}

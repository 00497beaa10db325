package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Envelope is one self-describing event carried inside a run log entry.
// Payload fields live next to event_type at the top level of the object, so
// the envelope keeps the raw object around and decodes on demand.
type Envelope struct {
	EventType EventType
	Raw       json.RawMessage
}

// NewEnvelope builds an envelope from a payload struct or map. The payload
// must marshal to a JSON object; its event_type field is overwritten.
func NewEnvelope(eventType EventType, payload any) (Envelope, error) {
	fields := map[string]any{}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		if err := json.Unmarshal(b, &fields); err != nil {
			return Envelope{}, fmt.Errorf("%s payload is not an object: %w", eventType, err)
		}
	}
	fields["event_type"] = eventType
	raw, err := json.Marshal(fields)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s envelope: %w", eventType, err)
	}
	return Envelope{EventType: eventType, Raw: raw}, nil
}

// ParseEnvelope decodes a single JSON object into an envelope. Objects
// without an event_type are rejected.
func ParseEnvelope(data []byte) (Envelope, error) {
	var head struct {
		EventType EventType `json:"event_type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Envelope{}, err
	}
	if head.EventType == "" {
		return Envelope{}, fmt.Errorf("envelope missing event_type")
	}
	return Envelope{EventType: head.EventType, Raw: append(json.RawMessage(nil), data...)}, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Raw, v)
}

// InReplyTo returns the log id of the user message an agent envelope
// answers, or 0 when the envelope does not say.
func (e Envelope) InReplyTo() int64 {
	var head struct {
		InReplyTo int64 `json:"in_reply_to"`
	}
	if err := json.Unmarshal(e.Raw, &head); err != nil {
		return 0
	}
	return head.InReplyTo
}

// ReplyingTo returns e stamped as the answer to the user message at logID.
// An envelope that already names the message it answers is left alone.
func (e Envelope) ReplyingTo(logID int64) (Envelope, error) {
	if logID <= 0 || e.InReplyTo() > 0 {
		return e, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(e.Raw, &fields); err != nil {
		return e, fmt.Errorf("%s envelope is not an object: %w", e.EventType, err)
	}
	fields["in_reply_to"] = json.RawMessage(strconv.FormatInt(logID, 10))
	raw, err := json.Marshal(fields)
	if err != nil {
		return e, fmt.Errorf("marshal %s envelope: %w", e.EventType, err)
	}
	return Envelope{EventType: e.EventType, Raw: raw}, nil
}

// JoinEnvelopes encodes envelopes into the content of one log entry.
// Multiple envelopes are separated by a newline.
func JoinEnvelopes(envs ...Envelope) string {
	parts := make([]string, 0, len(envs))
	for _, e := range envs {
		parts = append(parts, string(e.Raw))
	}
	return strings.Join(parts, "\n")
}

// DocumentPayload is carried by intent_updated, intent_proposed and
// intent_finalized.
type DocumentPayload struct {
	IntentPackage json.RawMessage `json:"intent_package,omitempty"`
	UpdateSummary string          `json:"update_summary,omitempty"`
	Ready         bool            `json:"ready,omitempty"`
}

// ScopePayload is carried by scope_ready and scope_updated. Producers use
// either key for the document.
type ScopePayload struct {
	ScopeState    json.RawMessage `json:"scope_state,omitempty"`
	DataScope     json.RawMessage `json:"data_scope,omitempty"`
	UpdateSummary string          `json:"update_summary,omitempty"`
}

// ExecutionPayload is carried by execution_progress and execution_complete.
type ExecutionPayload struct {
	Results json.RawMessage `json:"results,omitempty"`
}

// TeamPayload is carried by team_building_progress and team_complete.
type TeamPayload struct {
	TeamConfig json.RawMessage `json:"team_config,omitempty"`
}

// ErrorPayload is carried by execution_error, team_building_error and error.
type ErrorPayload struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Stage   Stage  `json:"stage,omitempty"`
}

// Text returns whichever of error or message is set.
func (p ErrorPayload) Text() string {
	if p.Error != "" {
		return p.Error
	}
	return p.Message
}

// StageUpdatePayload is carried by stage_update.
type StageUpdatePayload struct {
	Stage Stage  `json:"stage"`
	RunID string `json:"run_id,omitempty"`
}

// UserMessagePayload is the envelope written for a submitted chat message.
type UserMessagePayload struct {
	MessageID        string          `json:"message_id"`
	Message          string          `json:"message"`
	DocumentSnapshot json.RawMessage `json:"current_document_snapshot,omitempty"`
	UserEditedFields []string        `json:"user_edited_fields,omitempty"`
}

package event

import (
	"encoding/json"
	"fmt"
)

// wireEvent is the ingest wire shape. Clients historically sent camelCase
// field names; the store canonicalizes to snake_case, so both casings are
// accepted here with snake_case winning when both are present. Unknown
// top-level fields are ignored; unknown properties are preserved verbatim.
type wireEvent struct {
	EventID   string `json:"event_id"`
	EventIDC  string `json:"eventId"`
	UserID    string `json:"user_id"`
	UserIDC   string `json:"userId"`
	EventType Type   `json:"event_type"`
	EventTypC Type   `json:"eventType"`
	Timestamp int64  `json:"timestamp"`

	Properties map[string]any `json:"properties"`

	PromptText  *string `json:"prompt_text"`
	PromptTextC *string `json:"promptText"`
	AIResponse  *string `json:"ai_response"`
	AIResponseC *string `json:"aiResponse"`

	JourneyID       *string `json:"journey_id"`
	JourneyIDC      *string `json:"journeyId"`
	ConversationID  *string `json:"conversation_id"`
	ConversationIDC *string `json:"conversationId"`
	TurnSequence    *int64  `json:"turn_sequence"`
	TurnSequenceC   *int64  `json:"turnSequence"`
	TurnID          *string `json:"turn_id"`
	TurnIDC         *string `json:"turnId"`
}

func (w *wireEvent) canonical() Event {
	e := Event{
		EventID:        pickString(w.EventID, w.EventIDC),
		UserID:         pickString(w.UserID, w.UserIDC),
		EventType:      Type(pickString(string(w.EventType), string(w.EventTypC))),
		Timestamp:      w.Timestamp,
		Properties:     w.Properties,
		PromptText:     pickStringPtr(w.PromptText, w.PromptTextC),
		AIResponse:     pickStringPtr(w.AIResponse, w.AIResponseC),
		JourneyID:      pickStringPtr(w.JourneyID, w.JourneyIDC),
		ConversationID: pickStringPtr(w.ConversationID, w.ConversationIDC),
		TurnSequence:   pickInt64Ptr(w.TurnSequence, w.TurnSequenceC),
		TurnID:         pickStringPtr(w.TurnID, w.TurnIDC),
	}
	if e.Properties == nil {
		e.Properties = map[string]any{}
	}
	return e
}

func pickString(snake, camel string) string {
	if snake != "" {
		return snake
	}
	return camel
}

func pickStringPtr(snake, camel *string) *string {
	if snake != nil {
		return snake
	}
	return camel
}

func pickInt64Ptr(snake, camel *int64) *int64 {
	if snake != nil {
		return snake
	}
	return camel
}

// DecodeWire parses a single event from its wire JSON form.
func DecodeWire(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	return w.canonical(), nil
}

// DecodeWireBatch parses an ingest request body, which may be either a bare
// event object or an envelope {"events": [...]}.
func DecodeWireBatch(data []byte) ([]Event, error) {
	var envelope struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode request body: %w", err)
	}
	if envelope.Events == nil {
		e, err := DecodeWire(data)
		if err != nil {
			return nil, err
		}
		return []Event{e}, nil
	}
	events := make([]Event, 0, len(envelope.Events))
	for i, raw := range envelope.Events {
		e, err := DecodeWire(raw)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		events = append(events, e)
	}
	return events, nil
}

// Package event defines the unified telemetry event record shared by the
// client SDK, the ingest API, and the event store. Every observable action
// (turn lifecycle, votes, journeys, conversations) is one Event row.
package event

import (
	"encoding/json"
	"fmt"
)

// Type identifies what kind of event a record represents.
type Type string

// The closed set of event types. The store schema enforces membership.
const (
	// TypeTurnStarted marks the opening of a turn. TypeTurnCreated is the
	// pre-migration name for the same record; both remain valid so stores
	// holding old rows keep validating.
	TypeTurnStarted           Type = "turn_started"
	TypeTurnCreated           Type = "turn_created"
	TypeTurnCompleted         Type = "turn_completed"
	TypeTurnFailed            Type = "turn_failed"
	TypeUserAction            Type = "user_action"
	TypeVoteCast              Type = "vote_cast"
	TypeJourneyStep           Type = "journey_step"
	TypeConversationStarted   Type = "conversation_started"
	TypeConversationEnded     Type = "conversation_ended"
	TypeRegenerationRequested Type = "regeneration_requested"
	TypeFrustrationDetected   Type = "frustration_detected"
)

// AllTypes lists every valid event type, in declaration order.
var AllTypes = []Type{
	TypeTurnStarted,
	TypeTurnCreated,
	TypeTurnCompleted,
	TypeTurnFailed,
	TypeUserAction,
	TypeVoteCast,
	TypeJourneyStep,
	TypeConversationStarted,
	TypeConversationEnded,
	TypeRegenerationRequested,
	TypeFrustrationDetected,
}

var validTypes = func() map[Type]bool {
	m := make(map[Type]bool, len(AllTypes))
	for _, t := range AllTypes {
		m[t] = true
	}
	return m
}()

// ValidType reports whether t is a member of the closed event type set.
func ValidType(t Type) bool {
	return validTypes[t]
}

// Event is the single unified telemetry record.
//
// EventID is generated client-side and is the primary key; duplicate inserts
// at the store are silent no-ops. PromptText and AIResponse hold
// post-privacy-processing content only — raw user content never reaches the
// store. The correlation keys (JourneyID, ConversationID, TurnSequence,
// TurnID) are promoted out of Properties into top-level columns so queries
// can use indexes.
type Event struct {
	EventID    string         `json:"event_id"`
	UserID     string         `json:"user_id"`
	EventType  Type           `json:"event_type"`
	Timestamp  int64          `json:"timestamp"`
	Properties map[string]any `json:"properties"`

	PromptText *string `json:"prompt_text,omitempty"`
	AIResponse *string `json:"ai_response,omitempty"`

	JourneyID      *string `json:"journey_id,omitempty"`
	ConversationID *string `json:"conversation_id,omitempty"`
	TurnSequence   *int64  `json:"turn_sequence,omitempty"`
	TurnID         *string `json:"turn_id,omitempty"`
}

// Validate checks the store-level invariants for a single event.
func (e *Event) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if !ValidType(e.EventType) {
		return fmt.Errorf("unknown event_type %q", e.EventType)
	}
	if e.Timestamp <= 0 {
		return fmt.Errorf("timestamp must be positive, got %d", e.Timestamp)
	}
	if e.EventType == TypeVoteCast {
		if err := validateVote(e.Properties); err != nil {
			return err
		}
	}
	return nil
}

// validateVote enforces the vote_cast property contract: value ∈ {1,-1} and
// a turn_id (or the legacy prompt_id) reference.
func validateVote(props map[string]any) error {
	v, ok := props["value"]
	if !ok {
		return fmt.Errorf("vote_cast requires properties.value")
	}
	switch n := v.(type) {
	case float64:
		if n != 1 && n != -1 {
			return fmt.Errorf("vote value must be 1 or -1, got %v", n)
		}
	case int:
		if n != 1 && n != -1 {
			return fmt.Errorf("vote value must be 1 or -1, got %d", n)
		}
	case int64:
		if n != 1 && n != -1 {
			return fmt.Errorf("vote value must be 1 or -1, got %d", n)
		}
	case json.Number:
		if s := n.String(); s != "1" && s != "-1" {
			return fmt.Errorf("vote value must be 1 or -1, got %s", s)
		}
	default:
		return fmt.Errorf("vote value must be numeric, got %T", v)
	}
	if stringProp(props, "turn_id") == "" && stringProp(props, "turnId") == "" &&
		stringProp(props, "prompt_id") == "" && stringProp(props, "promptId") == "" {
		return fmt.Errorf("vote_cast requires properties.turn_id or properties.prompt_id")
	}
	return nil
}

// PropTurnID returns the turn id carried in Properties, bridging both the
// snake_case and camelCase keys that legacy clients emit.
func (e *Event) PropTurnID() string {
	if s := stringProp(e.Properties, "turn_id"); s != "" {
		return s
	}
	return stringProp(e.Properties, "turnId")
}

// PromoteCorrelationKeys fills the top-level correlation columns from
// Properties when they are not already set. Called at ingest so indexed
// queries work against events from clients that only populate the bag.
func (e *Event) PromoteCorrelationKeys() {
	if e.TurnID == nil {
		if s := e.PropTurnID(); s != "" {
			e.TurnID = &s
		}
	}
	if e.JourneyID == nil {
		if s := firstStringProp(e.Properties, "journey_id", "journeyId"); s != "" {
			e.JourneyID = &s
		}
	}
	if e.ConversationID == nil {
		if s := firstStringProp(e.Properties, "conversation_id", "conversationId"); s != "" {
			e.ConversationID = &s
		}
	}
	if e.TurnSequence == nil {
		if n, ok := numberProp(e.Properties, "turn_sequence", "turnSequence"); ok {
			e.TurnSequence = &n
		}
	}
}

func stringProp(props map[string]any, key string) string {
	if props == nil {
		return ""
	}
	s, _ := props[key].(string)
	return s
}

func firstStringProp(props map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringProp(props, k); s != "" {
			return s
		}
	}
	return ""
}

func numberProp(props map[string]any, keys ...string) (int64, bool) {
	for _, k := range keys {
		switch n := props[k].(type) {
		case float64:
			return int64(n), true
		case int:
			return int64(n), true
		case int64:
			return n, true
		}
	}
	return 0, false
}

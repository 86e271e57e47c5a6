// Package track assembles telemetry events and feeds them into the queue.
// Tracker builds generic events with IDs, timestamps, and privacy-processed
// content; TurnTracker wraps AI calls with timeout, retry, and the
// turn_started/turn_completed/turn_failed lifecycle.
package track

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/mocksi/bilan-go/internal/event"
	"github.com/mocksi/bilan-go/internal/privacy"
	"github.com/mocksi/bilan-go/internal/queue"
)

// Content carries the raw content attached to a track call. Both text fields
// pass through the privacy controller before landing on the event; Context
// is merged into the event properties verbatim.
type Content struct {
	PromptText *string
	AIResponse *string
	Context    map[string]any
}

// Tracker builds and enqueues events on behalf of one configured user.
type Tracker struct {
	userID  string
	privacy *privacy.Controller
	queue   *queue.Queue
}

// NewTracker wires a tracker to its privacy controller and queue.
func NewTracker(userID string, priv *privacy.Controller, q *queue.Queue) *Tracker {
	return &Tracker{userID: userID, privacy: priv, queue: q}
}

// Track builds an event and enqueues it. The returned error is a tracking
// failure (queue persistence or flush), never a validation problem with the
// caller's properties.
func (t *Tracker) Track(ctx context.Context, eventType event.Type, props map[string]any, content Content) error {
	e := t.Build(eventType, props, content)
	if err := t.queue.Enqueue(ctx, e); err != nil {
		log.Debug().Err(err).Str("event_type", string(eventType)).Msg("Failed to enqueue event")
		return err
	}
	return nil
}

// Build constructs the event without enqueueing it.
func (t *Tracker) Build(eventType event.Type, props map[string]any, content Content) event.Event {
	merged := make(map[string]any, len(props)+1)
	for k, v := range props {
		merged[k] = v
	}
	if content.Context != nil {
		merged["context"] = content.Context
	}

	e := event.Event{
		EventID:    event.NewEventID(),
		UserID:     t.userID,
		EventType:  eventType,
		Timestamp:  event.NowMillis(),
		Properties: merged,
	}
	if content.PromptText != nil {
		e.PromptText = t.privacy.Process(*content.PromptText, privacy.ClassPrompts)
	}
	if content.AIResponse != nil {
		e.AIResponse = t.privacy.Process(*content.AIResponse, privacy.ClassResponses)
	}
	return e
}

// ProcessError routes an error message through the privacy controller's
// errors class. Turn failure events use this for error_message.
func (t *Tracker) ProcessError(msg string) string {
	if out := t.privacy.Process(msg, privacy.ClassErrors); out != nil {
		return *out
	}
	return ""
}

// UserID returns the configured user identifier.
func (t *Tracker) UserID() string {
	return t.userID
}

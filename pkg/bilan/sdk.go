// Package bilan is the client SDK for the Bilan telemetry pipeline. Wrap
// each AI model invocation with TrackTurn, record user feedback with Vote,
// and the SDK takes care of privacy processing, durable batching, and
// delivery to either the local store or a remote ingest endpoint.
package bilan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mocksi/bilan-go/internal/bilanerr"
	"github.com/mocksi/bilan-go/internal/config"
	"github.com/mocksi/bilan-go/internal/event"
	"github.com/mocksi/bilan-go/internal/kvstore"
	"github.com/mocksi/bilan-go/internal/privacy"
	"github.com/mocksi/bilan-go/internal/queue"
	"github.com/mocksi/bilan-go/internal/track"
	"github.com/mocksi/bilan-go/internal/transport"
)

// Re-exported configuration types so callers only import this package.
type (
	// Config is the SDK initialization config.
	Config = config.Init
	// Batching controls queue sizing and flush cadence.
	Batching = config.Batching
	// PrivacyConfig controls capture levels and redaction.
	PrivacyConfig = privacy.Config
	// Content carries raw prompt/response text into a track call.
	Content = track.Content
	// AICall is the wrapped model invocation.
	AICall = track.AICall
	// Event is the unified telemetry record.
	Event = event.Event
)

// Modes and capture levels, re-exported.
const (
	ModeLocal  = config.ModeLocal
	ModeServer = config.ModeServer

	CaptureNone      = privacy.CaptureNone
	CaptureMetadata  = privacy.CaptureMetadata
	CaptureSanitized = privacy.CaptureSanitized
	CaptureFull      = privacy.CaptureFull
)

// SDK is an initialized Bilan client. All methods are safe for concurrent
// use; concurrent turns each own their turn_id and only share the queue.
type SDK struct {
	cfg     config.Init
	store   kvstore.Store
	queue   *queue.Queue
	tracker *track.Tracker
	turns   *track.TurnTracker

	mu         sync.Mutex
	journeyIDs map[string]string

	stop func(ctx context.Context) error
}

// New initializes an SDK instance. Configuration problems surface
// immediately with actionable messages.
func New(cfg Config) (*SDK, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}

	priv, err := privacy.NewController(cfg.Privacy)
	if err != nil {
		return nil, bilanerr.NewInit(err, "fix the privacy configuration")
	}

	store, err := kvstore.NewFileStore(cfg.DataDir)
	if err != nil {
		return nil, bilanerr.NewInit(err, "ensure the data directory is writable or set Init.DataDir")
	}

	var sender transport.Sender
	switch cfg.Mode {
	case config.ModeServer:
		sender = transport.NewHTTP(cfg.Endpoint, cfg.APIKey, nil)
	default:
		sender = transport.NewLocal(store, cfg.UserID)
	}

	q, err := queue.New(queue.Config{
		BatchSize:     cfg.Batching.BatchSize,
		FlushInterval: time.Duration(cfg.Batching.FlushIntervalMS) * time.Millisecond,
		MaxBatches:    cfg.Batching.MaxBatches,
	}, store, sender.Send)
	if err != nil {
		return nil, bilanerr.NewInit(err, "check the batching configuration")
	}
	q.Start(context.Background())

	tracker := track.NewTracker(cfg.UserID, priv, q)
	sdk := &SDK{
		cfg:        cfg,
		store:      store,
		queue:      q,
		tracker:    tracker,
		turns:      track.NewTurnTracker(tracker, time.Duration(cfg.TurnTimeoutMS)*time.Millisecond),
		journeyIDs: make(map[string]string),
		stop:       func(ctx context.Context) error { return q.Destroy(ctx) },
	}

	log.Debug().
		Str("mode", string(cfg.Mode)).
		Str("user_id", cfg.UserID).
		Msg("Bilan SDK initialized")
	return sdk, nil
}

// Track records a generic event. In debug mode tracking failures are
// returned; otherwise they are logged and swallowed.
func (s *SDK) Track(ctx context.Context, eventType event.Type, props map[string]any, content Content) error {
	return s.report(s.tracker.Track(ctx, eventType, props, content))
}

// TrackTurn wraps an AI call with lifecycle events. The AI result and error
// always pass through to the caller.
func (s *SDK) TrackTurn(ctx context.Context, promptText string, call AICall, props map[string]any) (any, error) {
	return s.turns.TrackTurn(ctx, promptText, call, props)
}

// TrackTurnWithRetry is TrackTurn with exponential-backoff retry. Auth and
// context-limit failures are never retried.
func (s *SDK) TrackTurnWithRetry(ctx context.Context, promptText string, call AICall, props map[string]any, maxRetries int) (any, error) {
	return s.turns.TrackTurnWithRetry(ctx, promptText, call, props, maxRetries)
}

// Vote records a ±1 judgment of a turn's response.
func (s *SDK) Vote(ctx context.Context, turnID string, value int, comment string) error {
	if value != 1 && value != -1 {
		return bilanerr.NewVote(fmt.Errorf("value must be 1 or -1, got %d", value), "use 1 for positive, -1 for negative")
	}
	if turnID == "" {
		return bilanerr.NewVote(fmt.Errorf("turnID is required"), "pass the turn_id from the tracked turn")
	}
	props := map[string]any{"turn_id": turnID, "value": value}
	if comment != "" {
		props["comment"] = comment
	}
	return s.report(s.tracker.Track(ctx, event.TypeVoteCast, props, Content{}))
}

// StartConversation emits conversation_started and returns the new
// conversation id for correlating subsequent turns.
func (s *SDK) StartConversation(ctx context.Context) (string, error) {
	conversationID := event.NewConversationID()
	err := s.report(s.tracker.Track(ctx, event.TypeConversationStarted,
		map[string]any{"conversation_id": conversationID}, Content{}))
	return conversationID, err
}

// EndConversation emits conversation_ended for a conversation id.
func (s *SDK) EndConversation(ctx context.Context, conversationID string) error {
	return s.report(s.tracker.Track(ctx, event.TypeConversationEnded,
		map[string]any{"conversation_id": conversationID}, Content{}))
}

// TrackJourneyStep marks progress through a named journey. The journey id is
// stable per journey name for the life of this SDK instance.
func (s *SDK) TrackJourneyStep(ctx context.Context, journeyName, stepName string, props map[string]any) error {
	s.mu.Lock()
	journeyID, ok := s.journeyIDs[journeyName]
	if !ok {
		journeyID = event.NewJourneyID()
		s.journeyIDs[journeyName] = journeyID
	}
	s.mu.Unlock()

	merged := map[string]any{
		"journey_id":   journeyID,
		"journey_name": journeyName,
		"step_name":    stepName,
	}
	for k, v := range props {
		merged[k] = v
	}
	return s.report(s.tracker.Track(ctx, event.TypeJourneyStep, merged, Content{}))
}

// TrackRegeneration records that the user asked for the turn's response to
// be regenerated — a soft negative signal.
func (s *SDK) TrackRegeneration(ctx context.Context, turnID string) error {
	return s.report(s.tracker.Track(ctx, event.TypeRegenerationRequested,
		map[string]any{"turn_id": turnID}, Content{}))
}

// TrackFrustration records a frustration signal (rapid retries, rage
// clicks) correlated to a turn.
func (s *SDK) TrackFrustration(ctx context.Context, turnID, signal string) error {
	props := map[string]any{"turn_id": turnID}
	if signal != "" {
		props["signal"] = signal
	}
	return s.report(s.tracker.Track(ctx, event.TypeFrustrationDetected, props, Content{}))
}

// Flush forces delivery of all pending events.
func (s *SDK) Flush(ctx context.Context) error {
	return s.report(s.queue.Flush(ctx, true))
}

// Shutdown stops the flush scheduler and performs a final forced flush.
func (s *SDK) Shutdown(ctx context.Context) error {
	return s.stop(ctx)
}

// report applies the tracking-failure policy: debug mode re-raises, normal
// mode logs and swallows.
func (s *SDK) report(err error) error {
	if err == nil {
		return nil
	}
	if s.cfg.Debug {
		return err
	}
	log.Debug().Err(err).Msg("Tracking failure swallowed (enable Debug to surface)")
	return nil
}

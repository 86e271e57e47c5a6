package track

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mocksi/bilan-go/internal/classify"
	"github.com/mocksi/bilan-go/internal/event"
)

// AICall is the caller-provided model invocation wrapped by TrackTurn. The
// context is cancelled when the turn timeout fires, so well-behaved calls
// stop doing work once the race is lost.
type AICall func(ctx context.Context) (any, error)

// DefaultTurnTimeout bounds each wrapped AI call unless overridden.
const DefaultTurnTimeout = 30 * time.Second

// errTurnTimeout is the synthesized error when the timeout wins the race.
// Its message deliberately matches the classifier's timeout signals.
var errTurnTimeout = errors.New("AI request timeout")

// TurnTracker wraps AI calls with lifecycle event emission, a timeout race,
// and optional retry with exponential backoff.
type TurnTracker struct {
	tracker *Tracker
	timeout time.Duration

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewTurnTracker wires a turn tracker. A non-positive timeout falls back to
// DefaultTurnTimeout.
func NewTurnTracker(tracker *Tracker, timeout time.Duration) *TurnTracker {
	if timeout <= 0 {
		timeout = DefaultTurnTimeout
	}
	return &TurnTracker{tracker: tracker, timeout: timeout, sleep: sleepCtx}
}

// TrackTurn invokes call bracketed by turn_started and one of
// turn_completed/turn_failed. The AI result and error pass through to the
// caller untouched; tracking failures are logged and never affect the turn.
func (t *TurnTracker) TrackTurn(ctx context.Context, promptText string, call AICall, props map[string]any) (any, error) {
	turnID := event.NewTurnID()
	started := event.NowMillis()

	startProps := mergeProps(props, map[string]any{
		"turn_id":    turnID,
		"started_at": started,
	})
	if _, ok := startProps["retry_count"]; !ok {
		startProps["retry_count"] = 0
	}
	t.emit(ctx, event.TypeTurnStarted, startProps, Content{PromptText: &promptText})

	result, err := t.race(ctx, call)

	if err != nil {
		errorType, canonical := classify.Classify(err)
		failedAt := event.NowMillis()
		failProps := mergeProps(props, map[string]any{
			"turn_id":            turnID,
			"status":             "failed",
			"error_type":         string(errorType),
			"error_message":      t.tracker.ProcessError(canonical),
			"attempted_duration": float64(failedAt-started) / 1000,
			"failed_at":          failedAt,
		})
		if _, ok := failProps["retry_count"]; !ok {
			failProps["retry_count"] = 0
		}
		t.emit(ctx, event.TypeTurnFailed, failProps, Content{PromptText: &promptText})
		return nil, err
	}

	completedAt := event.NowMillis()
	response := stringify(result)
	doneProps := mergeProps(props, map[string]any{
		"turn_id":         turnID,
		"status":          "success",
		"response_time":   float64(completedAt-started) / 1000,
		"response_length": len(response),
		"completed_at":    completedAt,
	})
	if _, ok := doneProps["retry_count"]; !ok {
		doneProps["retry_count"] = 0
	}
	t.emit(ctx, event.TypeTurnCompleted, doneProps, Content{PromptText: &promptText, AIResponse: &response})
	return result, nil
}

// TrackTurnWithRetry runs TrackTurn up to maxRetries+1 times, backing off
// 2^attempt seconds between attempts. Auth and context-limit failures are
// never retried.
func (t *TurnTracker) TrackTurnWithRetry(ctx context.Context, promptText string, call AICall, props map[string]any, maxRetries int) (any, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		attemptProps := mergeProps(props, map[string]any{"retry_count": attempt})
		result, err := t.TrackTurn(ctx, promptText, call, attemptProps)
		if err == nil {
			return result, nil
		}
		lastErr = err

		errorType, _ := classify.Classify(err)
		if !classify.Retryable(errorType) {
			log.Debug().
				Str("error_type", string(errorType)).
				Msg("Turn failure is not retryable; giving up")
			break
		}
		if attempt == maxRetries {
			break
		}

		backoff := time.Duration(1<<uint(attempt)) * time.Second
		if err := t.sleep(ctx, backoff); err != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// race runs call against the turn timeout. The losing call keeps running in
// its goroutine until it notices the cancelled context; the buffered channel
// lets it finish without leaking.
func (t *TurnTracker) race(ctx context.Context, call AICall) (any, error) {
	type outcome struct {
		result any
		err    error
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		result, err := call(callCtx)
		done <- outcome{result, err}
	}()

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.result, out.err
	case <-timer.C:
		cancel()
		return nil, errTurnTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *TurnTracker) emit(ctx context.Context, eventType event.Type, props map[string]any, content Content) {
	if err := t.tracker.Track(ctx, eventType, props, content); err != nil {
		log.Debug().Err(err).Str("event_type", string(eventType)).Msg("Turn event emission failed")
	}
}

func mergeProps(base, extra map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

// stringify renders an AI result for storage: strings pass through, anything
// else is JSON-encoded.
func stringify(result any) string {
	if s, ok := result.(string); ok {
		return s
	}
	data, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	return string(data)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

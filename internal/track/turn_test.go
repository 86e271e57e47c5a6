package track

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mocksi/bilan-go/internal/event"
	"github.com/mocksi/bilan-go/internal/kvstore"
	"github.com/mocksi/bilan-go/internal/privacy"
	"github.com/mocksi/bilan-go/internal/queue"
)

// newTestTracker wires a tracker whose queue never auto-flushes, so emitted
// events stay resident for inspection via Snapshot.
func newTestTracker(t *testing.T) (*Tracker, *queue.Queue) {
	t.Helper()
	priv, err := privacy.NewController(privacy.Config{DefaultLevel: privacy.CaptureFull})
	require.NoError(t, err)
	q, err := queue.New(queue.Config{BatchSize: 100, MaxBatches: 10}, kvstore.NewMemStore(),
		func(_ context.Context, _ []event.Event) error { return nil })
	require.NoError(t, err)
	return NewTracker("user-1", priv, q), q
}

func eventsOfType(events []event.Event, typ event.Type) []event.Event {
	var out []event.Event
	for _, e := range events {
		if e.EventType == typ {
			out = append(out, e)
		}
	}
	return out
}

func TestTrackBuildsEvent(t *testing.T) {
	tracker, q := newTestTracker(t)
	prompt := "hello"
	response := "world"

	err := tracker.Track(context.Background(), event.TypeUserAction,
		map[string]any{"action": "copy"},
		Content{PromptText: &prompt, AIResponse: &response, Context: map[string]any{"page": "chat"}})
	require.NoError(t, err)

	snap := q.Snapshot()
	require.Len(t, snap, 1)
	e := snap[0]
	assert.True(t, strings.HasPrefix(e.EventID, "evt_"))
	assert.Equal(t, "user-1", e.UserID)
	assert.Equal(t, event.TypeUserAction, e.EventType)
	assert.Greater(t, e.Timestamp, int64(0))
	assert.Equal(t, "copy", e.Properties["action"])
	assert.Equal(t, map[string]any{"page": "chat"}, e.Properties["context"])
	require.NotNil(t, e.PromptText)
	assert.Equal(t, "hello", *e.PromptText)
	require.NotNil(t, e.AIResponse)
	assert.Equal(t, "world", *e.AIResponse)
}

func TestTrackRespectsPrivacyLevels(t *testing.T) {
	priv, err := privacy.NewController(privacy.Config{DefaultLevel: privacy.CaptureNone})
	require.NoError(t, err)
	q, err := queue.New(queue.Config{BatchSize: 100, MaxBatches: 10}, kvstore.NewMemStore(),
		func(_ context.Context, _ []event.Event) error { return nil })
	require.NoError(t, err)
	tracker := NewTracker("user-1", priv, q)

	prompt := "secret prompt"
	require.NoError(t, tracker.Track(context.Background(), event.TypeUserAction, nil, Content{PromptText: &prompt}))

	snap := q.Snapshot()
	require.Len(t, snap, 1)
	assert.Nil(t, snap[0].PromptText, "capture level none must suppress content")
}

func TestTrackTurnSuccess(t *testing.T) {
	tracker, q := newTestTracker(t)
	turns := NewTurnTracker(tracker, time.Second)

	result, err := turns.TrackTurn(context.Background(), "say hi",
		func(ctx context.Context) (any, error) { return "hello", nil }, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", result)

	snap := q.Snapshot()
	require.Len(t, snap, 2)

	started := eventsOfType(snap, event.TypeTurnStarted)
	require.Len(t, started, 1)
	turnID, _ := started[0].Properties["turn_id"].(string)
	assert.True(t, strings.HasPrefix(turnID, "turn_"))
	assert.Equal(t, 0, started[0].Properties["retry_count"])
	assert.NotNil(t, started[0].Properties["started_at"])

	completed := eventsOfType(snap, event.TypeTurnCompleted)
	require.Len(t, completed, 1)
	done := completed[0]
	assert.Equal(t, turnID, done.Properties["turn_id"], "both lifecycle events share the turn_id")
	assert.Equal(t, "success", done.Properties["status"])
	assert.Equal(t, 5, done.Properties["response_length"])
	assert.NotNil(t, done.Properties["response_time"])
	require.NotNil(t, done.AIResponse)
	assert.Equal(t, "hello", *done.AIResponse)
}

func TestTrackTurnTimeout(t *testing.T) {
	tracker, q := newTestTracker(t)
	turns := NewTurnTracker(tracker, 100*time.Millisecond)

	sawCancel := make(chan struct{}, 1)
	start := time.Now()
	result, err := turns.TrackTurn(context.Background(), "slow",
		func(ctx context.Context) (any, error) {
			select {
			case <-ctx.Done():
				sawCancel <- struct{}{}
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return "too late", nil
			}
		}, nil)

	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, "AI request timeout", err.Error())
	assert.Less(t, time.Since(start), time.Second, "timeout must not wait for the call")

	select {
	case <-sawCancel:
	case <-time.After(time.Second):
		t.Fatal("losing call never observed context cancellation")
	}

	failed := eventsOfType(q.Snapshot(), event.TypeTurnFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "failed", failed[0].Properties["status"])
	assert.Equal(t, "timeout", failed[0].Properties["error_type"])
	assert.Equal(t, "AI request timed out after 30 seconds", failed[0].Properties["error_message"])
	assert.NotNil(t, failed[0].Properties["attempted_duration"])
	assert.NotNil(t, failed[0].Properties["failed_at"])
}

func TestTrackTurnFailureReraisesOriginalError(t *testing.T) {
	tracker, q := newTestTracker(t)
	turns := NewTurnTracker(tracker, time.Second)

	original := errors.New("HTTP 429 Too Many Requests")
	_, err := turns.TrackTurn(context.Background(), "p",
		func(ctx context.Context) (any, error) { return nil, original }, nil)
	require.ErrorIs(t, err, original)

	failed := eventsOfType(q.Snapshot(), event.TypeTurnFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "rate_limit", failed[0].Properties["error_type"])
	assert.Equal(t, "Rate limit exceeded", failed[0].Properties["error_message"])
}

func TestTrackTurnStringifiesStructuredResults(t *testing.T) {
	tracker, q := newTestTracker(t)
	turns := NewTurnTracker(tracker, time.Second)

	_, err := turns.TrackTurn(context.Background(), "p",
		func(ctx context.Context) (any, error) {
			return map[string]any{"text": "hi"}, nil
		}, nil)
	require.NoError(t, err)

	completed := eventsOfType(q.Snapshot(), event.TypeTurnCompleted)
	require.Len(t, completed, 1)
	require.NotNil(t, completed[0].AIResponse)
	assert.JSONEq(t, `{"text":"hi"}`, *completed[0].AIResponse)
	assert.Equal(t, len(`{"text":"hi"}`), completed[0].Properties["response_length"])
}

func TestTrackTurnWithRetryEventualSuccess(t *testing.T) {
	tracker, q := newTestTracker(t)
	turns := NewTurnTracker(tracker, time.Second)

	var slept []time.Duration
	turns.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	calls := 0
	result, err := turns.TrackTurnWithRetry(context.Background(), "p",
		func(ctx context.Context) (any, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("503 Service Unavailable")
			}
			return "recovered", nil
		}, nil, 3)
	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, 3, calls)

	// Backoff doubles per attempt: 2^0, 2^1 seconds.
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, slept)

	snap := q.Snapshot()
	failed := eventsOfType(snap, event.TypeTurnFailed)
	require.Len(t, failed, 2)
	assert.Equal(t, 0, failed[0].Properties["retry_count"])
	assert.Equal(t, 1, failed[1].Properties["retry_count"])

	completed := eventsOfType(snap, event.TypeTurnCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, 2, completed[0].Properties["retry_count"])
}

func TestTrackTurnWithRetryStopsOnNonRetryable(t *testing.T) {
	tracker, q := newTestTracker(t)
	turns := NewTurnTracker(tracker, time.Second)
	turns.sleep = func(_ context.Context, d time.Duration) error {
		t.Fatal("must not back off after a non-retryable failure")
		return nil
	}

	calls := 0
	_, err := turns.TrackTurnWithRetry(context.Background(), "p",
		func(ctx context.Context) (any, error) {
			calls++
			return nil, errors.New("401 Unauthorized")
		}, nil, 5)
	require.Error(t, err)
	assert.Equal(t, 1, calls, "auth failures get exactly one attempt")

	failed := eventsOfType(q.Snapshot(), event.TypeTurnFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "auth_error", failed[0].Properties["error_type"])
}

func TestTrackTurnWithRetryExhaustsAttempts(t *testing.T) {
	tracker, q := newTestTracker(t)
	turns := NewTurnTracker(tracker, time.Second)
	turns.sleep = func(_ context.Context, _ time.Duration) error { return nil }

	calls := 0
	original := errors.New("network unreachable")
	_, err := turns.TrackTurnWithRetry(context.Background(), "p",
		func(ctx context.Context) (any, error) {
			calls++
			return nil, original
		}, nil, 2)
	require.ErrorIs(t, err, original)
	assert.Equal(t, 3, calls, "maxRetries=2 means three attempts total")

	failed := eventsOfType(q.Snapshot(), event.TypeTurnFailed)
	assert.Len(t, failed, 3)
}

func TestTrackTurnCancelledContext(t *testing.T) {
	tracker, _ := newTestTracker(t)
	turns := NewTurnTracker(tracker, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := turns.TrackTurn(ctx, "p",
		func(ctx context.Context) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}, nil)
	require.ErrorIs(t, err, context.Canceled)
}

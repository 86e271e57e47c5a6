package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mocksi/bilan-go/internal/event"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func storedEvent(id string, typ event.Type, ts int64) event.Event {
	return event.Event{
		EventID:   id,
		UserID:    "user-1",
		EventType: typ,
		Timestamp: ts,
	}
}

func TestOpenRequiresDataDir(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
}

func TestInsertAndQueryEvents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	events := []event.Event{
		storedEvent("evt_1_aaaaaaaaa", event.TypeUserAction, 1000),
		storedEvent("evt_2_bbbbbbbbb", event.TypeTurnStarted, 2000),
		storedEvent("evt_3_ccccccccc", event.TypeTurnCompleted, 3000),
	}
	events[1].Properties = map[string]any{"turn_id": "turn_1_xxxxxxxxx"}
	prompt := "hello"
	events[1].PromptText = &prompt

	inserted, skipped, err := s.InsertEvents(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, 3, inserted)
	assert.Equal(t, 0, skipped)

	got, err := s.GetEvents(ctx, Filters{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	// Newest first.
	assert.Equal(t, "evt_3_ccccccccc", got[0].EventID)
	assert.Equal(t, "evt_1_aaaaaaaaa", got[2].EventID)

	require.NotNil(t, got[1].PromptText)
	assert.Equal(t, "hello", *got[1].PromptText)
	assert.Equal(t, "turn_1_xxxxxxxxx", got[1].Properties["turn_id"])
}

func TestInsertDeduplicatesByEventID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	batch := []event.Event{storedEvent("evt_1_aaaaaaaaa", event.TypeUserAction, 1000)}

	inserted, skipped, err := s.InsertEvents(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
	assert.Equal(t, 0, skipped)

	// Same event again: skipped, not an error, no second row.
	inserted, skipped, err = s.InsertEvents(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)
	assert.Equal(t, 1, skipped)

	count, err := s.CountEvents(ctx, Filters{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	exists, err := s.Exists(ctx, "evt_1_aaaaaaaaa")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.Exists(ctx, "evt_missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestInsertRejectsInvalidBatchWholesale(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	batch := []event.Event{
		storedEvent("evt_1_aaaaaaaaa", event.TypeUserAction, 1000),
		{EventID: "evt_2_bbbbbbbbb", UserID: "user-1", EventType: "not_a_type", Timestamp: 2000},
	}
	_, _, err := s.InsertEvents(ctx, batch)
	require.Error(t, err)

	// The valid event must not have been written either.
	count, err := s.CountEvents(ctx, Filters{})
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestInsertPromotesCorrelationKeys(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := storedEvent("evt_1_aaaaaaaaa", event.TypeTurnCompleted, 1000)
	e.Properties = map[string]any{
		"turn_id":         "turn_1_xxxxxxxxx",
		"conversation_id": "conv_1_yyyyyyyyy",
		"journey_id":      "journey_1_zzzzzzzzz",
	}
	_, _, err := s.InsertEvents(ctx, []event.Event{e})
	require.NoError(t, err)

	got, err := s.GetEvents(ctx, Filters{TurnID: "turn_1_xxxxxxxxx"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].TurnID)
	assert.Equal(t, "turn_1_xxxxxxxxx", *got[0].TurnID)
	require.NotNil(t, got[0].ConversationID)
	assert.Equal(t, "conv_1_yyyyyyyyy", *got[0].ConversationID)
	require.NotNil(t, got[0].JourneyID)
	assert.Equal(t, "journey_1_zzzzzzzzz", *got[0].JourneyID)
}

func TestGetEventsFilters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	batch := []event.Event{
		storedEvent("evt_1_aaaaaaaaa", event.TypeUserAction, 1000),
		storedEvent("evt_2_bbbbbbbbb", event.TypeTurnStarted, 2000),
		storedEvent("evt_3_ccccccccc", event.TypeTurnCompleted, 3000),
	}
	batch[2].UserID = "user-2"
	_, _, err := s.InsertEvents(ctx, batch)
	require.NoError(t, err)

	got, err := s.GetEvents(ctx, Filters{UserID: "user-2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "evt_3_ccccccccc", got[0].EventID)

	got, err = s.GetEvents(ctx, Filters{EventTypes: []event.Type{event.TypeUserAction, event.TypeTurnStarted}})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.GetEvents(ctx, Filters{StartTS: 1500, EndTS: 2500})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "evt_2_bbbbbbbbb", got[0].EventID)

	got, err = s.GetEvents(ctx, Filters{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// Offset without limit still pages.
	got, err = s.GetEvents(ctx, Filters{Offset: 1})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "evt_2_bbbbbbbbb", got[0].EventID)
}

func TestTurnIDFilterBridgesPropertyOnlyRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Column-populated row.
	withColumn := storedEvent("evt_1_aaaaaaaaa", event.TypeTurnStarted, 1000)
	withColumn.Properties = map[string]any{"turn_id": "turn_a"}

	// Legacy rows: turn id only in the properties bag, both casings. Insert
	// via raw SQL to bypass promotion.
	_, _, err := s.InsertEvents(ctx, []event.Event{withColumn})
	require.NoError(t, err)

	t.Setenv("BILAN_ENV", "test")
	_, err = s.ExecRaw(ctx, `
		INSERT INTO events (event_id, user_id, event_type, timestamp, properties)
		VALUES
			('evt_2_bbbbbbbbb', 'user-1', 'turn_completed', 2000, '{"turn_id":"turn_a"}'),
			('evt_3_ccccccccc', 'user-1', 'vote_cast', 3000, '{"turnId":"turn_a","value":1}')`)
	require.NoError(t, err)

	got, err := s.GetEventsByTurnID(ctx, "turn_a")
	require.NoError(t, err)
	require.Len(t, got, 3)
	// Oldest first for lifecycle reading.
	assert.Equal(t, "evt_1_aaaaaaaaa", got[0].EventID)
	assert.Equal(t, "evt_3_ccccccccc", got[2].EventID)

	count, err := s.CountEvents(ctx, Filters{TurnID: "turn_a"})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestGetEventsByTurnIDStableWithinMillisecond(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// A fast turn starts and completes in the same millisecond; insertion
	// order must still come back as lifecycle order.
	started := storedEvent("evt_1_aaaaaaaaa", event.TypeTurnStarted, 5000)
	started.Properties = map[string]any{"turn_id": "turn_fast"}
	completed := storedEvent("evt_2_bbbbbbbbb", event.TypeTurnCompleted, 5000)
	completed.Properties = map[string]any{"turn_id": "turn_fast"}
	vote := storedEvent("evt_3_ccccccccc", event.TypeVoteCast, 5000)
	vote.Properties = map[string]any{"turn_id": "turn_fast", "value": 1}

	_, _, err := s.InsertEvents(ctx, []event.Event{started, completed, vote})
	require.NoError(t, err)

	got, err := s.GetEventsByTurnID(ctx, "turn_fast")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, event.TypeTurnStarted, got[0].EventType)
	assert.Equal(t, event.TypeTurnCompleted, got[1].EventType)
	assert.Equal(t, event.TypeVoteCast, got[2].EventType)
}

func TestGetTurnVoteCorrelation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	started := storedEvent("evt_1_aaaaaaaaa", event.TypeTurnStarted, 1000)
	started.Properties = map[string]any{"turn_id": "turn_a"}
	completed := storedEvent("evt_2_bbbbbbbbb", event.TypeTurnCompleted, 2000)
	completed.Properties = map[string]any{"turn_id": "turn_a"}
	vote := storedEvent("evt_3_ccccccccc", event.TypeVoteCast, 3000)
	vote.Properties = map[string]any{"turn_id": "turn_a", "value": 1, "comment": "great answer"}

	_, _, err := s.InsertEvents(ctx, []event.Event{started, completed, vote})
	require.NoError(t, err)

	c, err := s.GetTurnVoteCorrelation(ctx, "turn_a")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "turn_a", c.TurnID)
	// The most recent lifecycle event wins.
	assert.Equal(t, "evt_2_bbbbbbbbb", c.TurnEventID)
	assert.Equal(t, "turn_completed", c.TurnEventType)
	require.NotNil(t, c.VoteEventID)
	assert.Equal(t, "evt_3_ccccccccc", *c.VoteEventID)
	require.NotNil(t, c.VoteValue)
	assert.Equal(t, 1.0, *c.VoteValue)
	require.NotNil(t, c.VoteComment)
	assert.Equal(t, "great answer", *c.VoteComment)
}

func TestGetTurnVoteCorrelationWithoutVote(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	started := storedEvent("evt_1_aaaaaaaaa", event.TypeTurnStarted, 1000)
	started.Properties = map[string]any{"turn_id": "turn_a"}
	_, _, err := s.InsertEvents(ctx, []event.Event{started})
	require.NoError(t, err)

	c, err := s.GetTurnVoteCorrelation(ctx, "turn_a")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Nil(t, c.VoteEventID)
	assert.Nil(t, c.VoteValue)

	// Unknown turn: no row, no error.
	c, err = s.GetTurnVoteCorrelation(ctx, "turn_missing")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestExecRawGatedByEnvironment(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	t.Setenv("BILAN_ENV", "production")
	_, err := s.ExecRaw(ctx, "DELETE FROM events")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")

	t.Setenv("BILAN_ENV", "development")
	_, err = s.ExecRaw(ctx, "DELETE FROM events")
	require.NoError(t, err)
}

func TestValidateTurnIDMigration(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	t.Setenv("BILAN_ENV", "test")
	_, err := s.ExecRaw(ctx, `
		INSERT INTO events (event_id, user_id, event_type, timestamp, properties, turn_id)
		VALUES
			('evt_1_aaaaaaaaa', 'user-1', 'turn_started', 1000, '{}', 'turn_a'),
			('evt_2_bbbbbbbbb', 'user-1', 'turn_completed', 2000, '{"turn_id":"turn_a"}', NULL),
			('evt_3_ccccccccc', 'user-1', 'user_action', 3000, '{}', NULL)`)
	require.NoError(t, err)

	report, err := s.ValidateTurnIDMigration(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ColumnOnly)
	assert.Equal(t, 1, report.PropertyOnly)

	byType := map[string]TypeStats{}
	for _, ts := range report.ByType {
		byType[ts.EventType] = ts
	}
	assert.Equal(t, 1, byType["turn_started"].WithTurnID)
	assert.Equal(t, 1, byType["turn_completed"].WithTurnID)
	assert.Equal(t, 0, byType["user_action"].WithTurnID)
}

func TestValidateRelationshipCapture(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := event.NowMillis()
	events := make([]event.Event, 0, 4)
	for i := 0; i < 4; i++ {
		e := storedEvent(fmt.Sprintf("evt_%d_recentrow", i), event.TypeUserAction, now-int64(i))
		if i < 2 {
			e.Properties = map[string]any{"turn_id": fmt.Sprintf("turn_%d", i)}
		}
		if i == 0 {
			e.Properties["conversation_id"] = "conv_1"
		}
		events = append(events, e)
	}
	_, _, err := s.InsertEvents(ctx, events)
	require.NoError(t, err)

	report, err := s.ValidateRelationshipCapture(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 24, report.WindowHours)
	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 2, report.WithTurnID)
	assert.Equal(t, 1, report.WithConversation)
	assert.InDelta(t, 0.5, report.TurnIDRate, 1e-9)
	assert.InDelta(t, 0.25, report.ConversationRate, 1e-9)
}

func TestEmptyTableReports(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	migration, err := s.ValidateTurnIDMigration(ctx)
	require.NoError(t, err)
	assert.Empty(t, migration.ByType)
	assert.Equal(t, 0, migration.ColumnOnly)

	relationship, err := s.ValidateRelationshipCapture(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, relationship.Total)
	assert.Equal(t, 0.0, relationship.TurnIDRate)
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mocksi/bilan-go/internal/event"
)

// Filters selects events for GetEvents/CountEvents. Zero values are
// ignored. TurnID matches the top-level column or the properties bag
// (snake_case or camelCase) to bridge legacy records.
type Filters struct {
	UserID     string
	EventTypes []event.Type
	TurnID     string
	StartTS    int64
	EndTS      int64
	Limit      int
	Offset     int
}

const eventColumns = `event_id, user_id, event_type, timestamp, properties,
	prompt_text, ai_response, journey_id, conversation_id, turn_sequence, turn_id`

// turnIDPredicate bridges pre-migration rows where the turn id only lives in
// the properties bag.
const turnIDPredicate = `(turn_id = ? OR json_extract(properties, '$.turn_id') = ? OR json_extract(properties, '$.turnId') = ?)`

func (f Filters) where() (string, []any) {
	clause := " WHERE 1=1"
	args := []any{}

	if f.UserID != "" {
		clause += " AND user_id = ?"
		args = append(args, f.UserID)
	}
	if len(f.EventTypes) == 1 {
		clause += " AND event_type = ?"
		args = append(args, string(f.EventTypes[0]))
	} else if len(f.EventTypes) > 1 {
		clause += " AND event_type IN (?" + repeat(",?", len(f.EventTypes)-1) + ")"
		for _, t := range f.EventTypes {
			args = append(args, string(t))
		}
	}
	if f.TurnID != "" {
		clause += " AND " + turnIDPredicate
		args = append(args, f.TurnID, f.TurnID, f.TurnID)
	}
	if f.StartTS > 0 {
		clause += " AND timestamp >= ?"
		args = append(args, f.StartTS)
	}
	if f.EndTS > 0 {
		clause += " AND timestamp <= ?"
		args = append(args, f.EndTS)
	}
	return clause, args
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}

// GetEvents returns matching events ordered by timestamp DESC.
func (s *Store) GetEvents(ctx context.Context, f Filters) ([]event.Event, error) {
	clause, args := f.where()
	query := "SELECT " + eventColumns + " FROM events" + clause + " ORDER BY timestamp DESC"

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	if f.Offset > 0 {
		// SQLite requires LIMIT when OFFSET is present.
		if f.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, f.Offset)
	}

	return s.queryEvents(ctx, query, args...)
}

// CountEvents returns the number of events matching the filters.
func (s *Store) CountEvents(ctx context.Context, f Filters) (int, error) {
	clause, args := f.where()
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events"+clause, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// GetEventsByTurnID returns every event carrying the turn id (top-level or
// property-level), oldest first so lifecycle order reads naturally. rowid
// breaks timestamp ties: a fast turn can start and complete within the same
// millisecond, and insertion order preserves emission order.
func (s *Store) GetEventsByTurnID(ctx context.Context, turnID string) ([]event.Event, error) {
	query := "SELECT " + eventColumns + " FROM events WHERE " + turnIDPredicate + " ORDER BY timestamp ASC, rowid ASC"
	return s.queryEvents(ctx, query, turnID, turnID, turnID)
}

// TurnVoteCorrelation is one turn lifecycle event joined to its vote.
type TurnVoteCorrelation struct {
	TurnID         string  `json:"turn_id"`
	TurnEventID    string  `json:"turn_event_id"`
	TurnEventType  string  `json:"turn_event_type"`
	TurnTimestamp  int64   `json:"turn_timestamp"`
	JourneyID      *string `json:"journey_id,omitempty"`
	ConversationID *string `json:"conversation_id,omitempty"`
	TurnSequence   *int64  `json:"turn_sequence,omitempty"`

	VoteEventID   *string  `json:"vote_event_id,omitempty"`
	VoteValue     *float64 `json:"vote_value,omitempty"`
	VoteComment   *string  `json:"vote_comment,omitempty"`
	VoteTimestamp *int64   `json:"vote_timestamp,omitempty"`
}

// GetTurnVoteCorrelation left-joins the most recent turn lifecycle event for
// turnID against its vote_cast counterpart. Returns (nil, nil) when the turn
// has no stored lifecycle events.
func (s *Store) GetTurnVoteCorrelation(ctx context.Context, turnID string) (*TurnVoteCorrelation, error) {
	query := `
	SELECT
		t.event_id, t.event_type, t.timestamp, t.journey_id, t.conversation_id, t.turn_sequence,
		v.event_id,
		CAST(json_extract(v.properties, '$.value') AS REAL),
		json_extract(v.properties, '$.comment'),
		v.timestamp
	FROM events t
	LEFT JOIN events v
		ON v.event_type = 'vote_cast'
		AND (v.turn_id = ?1 OR json_extract(v.properties, '$.turn_id') = ?1 OR json_extract(v.properties, '$.turnId') = ?1)
	WHERE t.event_type IN ('turn_started', 'turn_created', 'turn_completed', 'turn_failed')
		AND (t.turn_id = ?1 OR json_extract(t.properties, '$.turn_id') = ?1 OR json_extract(t.properties, '$.turnId') = ?1)
	ORDER BY t.timestamp DESC, v.timestamp DESC
	LIMIT 1`

	row := s.db.QueryRowContext(ctx, query, turnID)

	var c TurnVoteCorrelation
	var journey, conversation sql.NullString
	var turnSeq sql.NullInt64
	var voteID, voteComment sql.NullString
	var voteValue sql.NullFloat64
	var voteTS sql.NullInt64

	err := row.Scan(&c.TurnEventID, &c.TurnEventType, &c.TurnTimestamp,
		&journey, &conversation, &turnSeq,
		&voteID, &voteValue, &voteComment, &voteTS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query turn-vote correlation: %w", err)
	}

	c.TurnID = turnID
	if journey.Valid {
		c.JourneyID = &journey.String
	}
	if conversation.Valid {
		c.ConversationID = &conversation.String
	}
	if turnSeq.Valid {
		c.TurnSequence = &turnSeq.Int64
	}
	if voteID.Valid {
		c.VoteEventID = &voteID.String
	}
	if voteValue.Valid {
		c.VoteValue = &voteValue.Float64
	}
	if voteComment.Valid {
		c.VoteComment = &voteComment.String
	}
	if voteTS.Valid {
		c.VoteTimestamp = &voteTS.Int64
	}
	return &c, nil
}

// queryEvents runs a SELECT over the standard column list and scans rows
// back into events.
func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var e event.Event
		var props string
		var promptText, aiResponse, journeyID, conversationID, turnID sql.NullString
		var turnSeq sql.NullInt64

		err := rows.Scan(&e.EventID, &e.UserID, &e.EventType, &e.Timestamp, &props,
			&promptText, &aiResponse, &journeyID, &conversationID, &turnSeq, &turnID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		if err := json.Unmarshal([]byte(props), &e.Properties); err != nil {
			return nil, fmt.Errorf("event %s: corrupt properties: %w", e.EventID, err)
		}
		if promptText.Valid {
			e.PromptText = &promptText.String
		}
		if aiResponse.Valid {
			e.AIResponse = &aiResponse.String
		}
		if journeyID.Valid {
			e.JourneyID = &journeyID.String
		}
		if conversationID.Valid {
			e.ConversationID = &conversationID.String
		}
		if turnSeq.Valid {
			e.TurnSequence = &turnSeq.Int64
		}
		if turnID.Valid {
			e.TurnID = &turnID.String
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

package store

import (
	"context"
	"fmt"

	"github.com/mocksi/bilan-go/internal/event"
)

// TypeStats aggregates turn-id coverage for one event type.
type TypeStats struct {
	EventType  string `json:"event_type"`
	Total      int    `json:"total"`
	WithTurnID int    `json:"with_turn_id"`
}

// MigrationReport summarizes how completely turn ids have been promoted out
// of the properties bag into the indexed column.
type MigrationReport struct {
	ByType       []TypeStats `json:"by_type"`
	ColumnOnly   int         `json:"column_only"`
	PropertyOnly int         `json:"property_only"`
}

// ValidateTurnIDMigration reports per-event-type totals and turn-id coverage
// across the whole table. Used to confirm that new clients populate the
// top-level column and to size the remaining legacy backlog.
func (s *Store) ValidateTurnIDMigration(ctx context.Context) (*MigrationReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_type,
			COUNT(*),
			SUM(CASE WHEN turn_id IS NOT NULL
				OR json_extract(properties, '$.turn_id') IS NOT NULL
				OR json_extract(properties, '$.turnId') IS NOT NULL
				THEN 1 ELSE 0 END)
		FROM events
		GROUP BY event_type
		ORDER BY event_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to query migration stats: %w", err)
	}
	defer rows.Close()

	report := &MigrationReport{}
	for rows.Next() {
		var ts TypeStats
		if err := rows.Scan(&ts.EventType, &ts.Total, &ts.WithTurnID); err != nil {
			return nil, fmt.Errorf("failed to scan migration stats: %w", err)
		}
		report.ByType = append(report.ByType, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN turn_id IS NOT NULL
				AND json_extract(properties, '$.turn_id') IS NULL
				AND json_extract(properties, '$.turnId') IS NULL
				THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN turn_id IS NULL
				AND (json_extract(properties, '$.turn_id') IS NOT NULL
					OR json_extract(properties, '$.turnId') IS NOT NULL)
				THEN 1 ELSE 0 END), 0)
		FROM events`).Scan(&report.ColumnOnly, &report.PropertyOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to query turn-id placement: %w", err)
	}
	return report, nil
}

// RelationshipReport summarizes correlation-column population within a
// recent time window.
type RelationshipReport struct {
	WindowHours      int     `json:"window_hours"`
	Total            int     `json:"total"`
	WithTurnID       int     `json:"with_turn_id"`
	WithConversation int     `json:"with_conversation_id"`
	WithJourney      int     `json:"with_journey_id"`
	TurnIDRate       float64 `json:"turn_id_rate"`
	ConversationRate float64 `json:"conversation_rate"`
	JourneyRate      float64 `json:"journey_rate"`
}

// ValidateRelationshipCapture measures how often recent events carry the
// correlation keys downstream queries depend on.
func (s *Store) ValidateRelationshipCapture(ctx context.Context, windowHours int) (*RelationshipReport, error) {
	if windowHours <= 0 {
		windowHours = 24
	}
	cutoff := event.NowMillis() - int64(windowHours)*3600*1000

	report := &RelationshipReport{WindowHours: windowHours}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN turn_id IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN conversation_id IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN journey_id IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM events WHERE timestamp >= ?`, cutoff).
		Scan(&report.Total, &report.WithTurnID, &report.WithConversation, &report.WithJourney)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationship capture: %w", err)
	}

	if report.Total > 0 {
		report.TurnIDRate = float64(report.WithTurnID) / float64(report.Total)
		report.ConversationRate = float64(report.WithConversation) / float64(report.Total)
		report.JourneyRate = float64(report.WithJourney) / float64(report.Total)
	}
	return report, nil
}

// Package store is the unified event store behind the ingest API: a single
// SQLite events table with indexed correlation columns and the query surface
// analytics consumers read from.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/mocksi/bilan-go/internal/config"
	"github.com/mocksi/bilan-go/internal/event"
)

// Store wraps the SQLite database holding the unified events table.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open creates (if needed) and opens the event database under dataDir.
func Open(dataDir string) (*Store, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "events.db")

	// Pragmas in the DSN so every pool connection is configured.
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(ON)",
			"cache_size(-64000)",
		},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open event database: %w", err)
	}

	// SQLite works best with a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("dbPath", dbPath).Msg("Event store opened")
	return s, nil
}

// initSchema creates the events table and its indexes. The CHECK constraints
// enforce the closed event type set, positive timestamps, and JSON-valid
// properties at the schema level.
func (s *Store) initSchema() error {
	quoted := make([]string, len(event.AllTypes))
	for i, t := range event.AllTypes {
		quoted[i] = "'" + string(t) + "'"
	}

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS events (
		event_id        TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL,
		event_type      TEXT NOT NULL CHECK (event_type IN (%s)),
		timestamp       INTEGER NOT NULL CHECK (timestamp > 0),
		properties      TEXT NOT NULL DEFAULT '{}' CHECK (json_valid(properties)),
		prompt_text     TEXT,
		ai_response     TEXT,
		journey_id      TEXT,
		conversation_id TEXT,
		turn_sequence   INTEGER,
		turn_id         TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_events_user_ts           ON events(user_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_type_ts           ON events(event_type, timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_ts                ON events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_user              ON events(user_id);
	CREATE INDEX IF NOT EXISTS idx_events_journey_ts        ON events(journey_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_conversation_turn ON events(conversation_id, turn_sequence, timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_turn_ts           ON events(turn_id, timestamp);

	CREATE TABLE IF NOT EXISTS schema_version (
		version    INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	);
	`, strings.Join(quoted, ", "))

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (1, strftime('%s','now'))`)
	return err
}

// InsertEvents inserts a batch in a single transaction, returning how many
// rows were inserted and how many were duplicates. Validation is wholesale:
// any invalid event rejects the entire batch before the transaction starts.
func (s *Store) InsertEvents(ctx context.Context, events []event.Event) (inserted, skipped int, err error) {
	for i := range events {
		if verr := events[i].Validate(); verr != nil {
			return 0, 0, fmt.Errorf("event %d invalid: %w", i, verr)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO events
			(event_id, user_id, event_type, timestamp, properties,
			 prompt_text, ai_response, journey_id, conversation_id, turn_sequence, turn_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range events {
		e := events[i]
		e.PromoteCorrelationKeys()

		props := e.Properties
		if props == nil {
			props = map[string]any{}
		}
		propsJSON, merr := json.Marshal(props)
		if merr != nil {
			return 0, 0, fmt.Errorf("event %d: failed to encode properties: %w", i, merr)
		}

		res, xerr := stmt.ExecContext(ctx,
			e.EventID, e.UserID, string(e.EventType), e.Timestamp, string(propsJSON),
			e.PromptText, e.AIResponse, e.JourneyID, e.ConversationID, e.TurnSequence, e.TurnID)
		if xerr != nil {
			return 0, 0, fmt.Errorf("event %d: insert failed: %w", i, xerr)
		}
		affected, _ := res.RowsAffected()
		if affected > 0 {
			inserted++
		} else {
			skipped++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit batch: %w", err)
	}
	return inserted, skipped, nil
}

// Exists reports whether an event_id is already stored.
func (s *Store) Exists(ctx context.Context, eventID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM events WHERE event_id = ?`, eventID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check event existence: %w", err)
	}
	return true, nil
}

// ExecRaw runs an arbitrary SQL statement. It is disabled everywhere except
// development and test environments.
func (s *Store) ExecRaw(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if !config.RawSQLAllowed() {
		return nil, fmt.Errorf("raw SQL execution is disabled in %s environment", config.Environment())
	}
	return s.db.ExecContext(ctx, query, args...)
}

// Close shuts down the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close event database: %w", err)
	}
	log.Info().Msg("Event store closed")
	return nil
}

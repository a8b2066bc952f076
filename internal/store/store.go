package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"driftwatch/internal/logging"
	"driftwatch/internal/types"
)

// Well-known aggregate keys. Opaque to the store itself.
const (
	KeySessionData     = "sessionData"
	KeyFocusStats      = "focusStats"
	KeyUserPreferences = "userPreferences"
)

// Retention limits for the raw event log
const (
	DefaultEventMaxAge   = 24 * time.Hour
	DefaultEventMaxCount = 50000
)

// Store wraps the SQLite database holding session aggregates, the raw event
// log, and the bounded distraction-score series.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database under the state directory
func Open(statePath string) (*Store, error) {
	dbPath := filepath.Join(statePath, "driftwatch.db")

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		session_id  TEXT NOT NULL,
		sequence_id INTEGER NOT NULL,
		tab_id      TEXT NOT NULL,
		type        TEXT NOT NULL,
		timestamp   TIMESTAMP NOT NULL,
		url         TEXT,
		domain      TEXT,
		payload     TEXT,
		PRIMARY KEY (session_id, sequence_id)
	);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_tab ON events(tab_id);

	CREATE TABLE IF NOT EXISTS score_history (
		timestamp     TIMESTAMP NOT NULL,
		overall_score REAL NOT NULL,
		per_domain    TEXT,
		total_events  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_score_timestamp ON score_history(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get reads a JSON aggregate into v. Returns false when the key is absent.
func (s *Store) Get(key string, v any) (bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return true, nil
}

// Set writes a JSON aggregate under key, replacing any previous value
func (s *Store) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(raw), time.Now())
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// InsertEvents appends a drained batch to the event log in one transaction.
// Re-inserting an already-stored (session_id, sequence_id) is a no-op so a
// retried batch cannot duplicate rows.
func (s *Store) InsertEvents(events []types.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT OR IGNORE INTO events (session_id, sequence_id, tab_id, type, timestamp, url, domain, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		var payload []byte
		if e.Payload != nil {
			payload, err = json.Marshal(e.Payload)
			if err != nil {
				logging.Warn("store", "dropping unmarshalable payload for %s/%d: %v", e.SessionID, e.SequenceID, err)
				payload = nil
			}
		}
		if _, err := stmt.Exec(e.SessionID, e.SequenceID, e.TabID, string(e.Type), e.Timestamp, e.URL, e.Domain, string(payload)); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}

	return tx.Commit()
}

// EventsSince returns events newer than since, oldest first, up to limit
// (0 = no limit)
func (s *Store) EventsSince(since time.Time, limit int) ([]types.Event, error) {
	query := `SELECT session_id, sequence_id, tab_id, type, timestamp, url, domain, payload
	          FROM events WHERE timestamp > ? ORDER BY timestamp ASC, sequence_id ASC`
	args := []any{since}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []types.Event
	for rows.Next() {
		var e types.Event
		var typ string
		var payload sql.NullString
		if err := rows.Scan(&e.SessionID, &e.SequenceID, &e.TabID, &typ, &e.Timestamp, &e.URL, &e.Domain, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Type = types.EventType(typ)
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				// Malformed stored payload: keep the event, lose the extras
				e.Payload = nil
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// PruneEvents enforces the age and count limits on the event log
func (s *Store) PruneEvents(maxAge time.Duration, maxCount int) error {
	cutoff := time.Now().Add(-maxAge)
	if _, err := s.db.Exec(`DELETE FROM events WHERE timestamp < ?`, cutoff); err != nil {
		return fmt.Errorf("failed to prune events by age: %w", err)
	}

	if maxCount > 0 {
		_, err := s.db.Exec(
			`DELETE FROM events WHERE rowid NOT IN
			 (SELECT rowid FROM events ORDER BY timestamp DESC, sequence_id DESC LIMIT ?)`, maxCount)
		if err != nil {
			return fmt.Errorf("failed to prune events by count: %w", err)
		}
	}
	return nil
}

// AppendScore adds one snapshot to the distraction-score series
func (s *Store) AppendScore(entry types.DistractionScoreEntry) error {
	var perDomain []byte
	if entry.PerDomainScores != nil {
		var err error
		perDomain, err = json.Marshal(entry.PerDomainScores)
		if err != nil {
			return fmt.Errorf("failed to marshal per-domain scores: %w", err)
		}
	}
	_, err := s.db.Exec(
		`INSERT INTO score_history (timestamp, overall_score, per_domain, total_events) VALUES (?, ?, ?, ?)`,
		entry.Timestamp, entry.OverallScore, string(perDomain), entry.TotalEvents)
	if err != nil {
		return fmt.Errorf("failed to append score: %w", err)
	}
	return nil
}

// ScoreHistory returns snapshots within [from, to], oldest first
func (s *Store) ScoreHistory(from, to time.Time) ([]types.DistractionScoreEntry, error) {
	rows, err := s.db.Query(
		`SELECT timestamp, overall_score, per_domain, total_events
		 FROM score_history WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp ASC`,
		from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query score history: %w", err)
	}
	defer rows.Close()

	var entries []types.DistractionScoreEntry
	for rows.Next() {
		var e types.DistractionScoreEntry
		var perDomain sql.NullString
		if err := rows.Scan(&e.Timestamp, &e.OverallScore, &perDomain, &e.TotalEvents); err != nil {
			return nil, fmt.Errorf("failed to scan score entry: %w", err)
		}
		if perDomain.Valid && perDomain.String != "" {
			if err := json.Unmarshal([]byte(perDomain.String), &e.PerDomainScores); err != nil {
				e.PerDomainScores = nil
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PruneScores drops snapshots older than the retention window (24h)
func (s *Store) PruneScores(retention time.Duration) error {
	cutoff := time.Now().Add(-retention)
	_, err := s.db.Exec(`DELETE FROM score_history WHERE timestamp < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune score history: %w", err)
	}
	return nil
}

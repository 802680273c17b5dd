// Package storage keeps a history of generated summaries and device
// sessions in SQLite. The sample window itself is never persisted.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vyuha/sensorfeed/internal/summary"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("storage: not found")

// SessionRecord is one connection to the device, from connect to the
// return to idle.
type SessionRecord struct {
	ID            string     `json:"id"`
	Source        string     `json:"source"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	EndReason     string     `json:"end_reason,omitempty"`
	SamplesPushed int64      `json:"samples_pushed"`
	DecodeErrors  int64      `json:"decode_errors"`
	LastError     string     `json:"last_error,omitempty"`
}

// ---------------------------------------------------------------------------
// Storage
// ---------------------------------------------------------------------------

// Storage is a thread-safe wrapper around a SQLite database.
type Storage struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the SQLite database at dbPath, applies the
// PRAGMAs, runs any pending migrations and returns a ready *Storage.
func New(dbPath string) (*Storage, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: open db %q: %w", dbPath, err)
	}

	// Only one writer at a time for SQLite.
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("storage: set pragma %q: %w", p, err)
		}
	}

	s := &Storage{db: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// migrate applies every Migration not yet recorded in schema_migrations.
func (s *Storage) migrate() error {
	const createMigTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER PRIMARY KEY,
		applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		description TEXT
	)`
	if _, err := s.db.Exec(createMigTable); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, m := range Migrations {
		var exists int
		err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration v%d: %w", m.Version, err)
		}
		if exists > 0 {
			continue
		}

		if _, err := s.db.Exec(m.SQL); err != nil {
			return fmt.Errorf("apply migration v%d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := s.db.Exec(
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

// Version returns the highest applied migration.
func (s *Storage) Version(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var v sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("storage: schema version: %w", err)
	}
	return int(v.Int64), nil
}

// ============================ SUMMARIES ====================================

// SaveSummary inserts one summary. Saving the same ID twice is a no-op.
func (s *Storage) SaveSummary(ctx context.Context, sum summary.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const q = `INSERT OR IGNORE INTO summaries
		(id, session_id, text, source, sample_count, window_start, window_end,
		 latency_ms, error, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, q,
		sum.ID, sum.SessionID, sum.Text, string(sum.Origin), sum.SampleCount,
		sum.WindowStart, sum.WindowEnd, sum.LatencyMS, sum.Error, sum.GeneratedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage: save summary %q: %w", sum.ID, err)
	}
	return nil
}

// RecentSummaries returns up to limit summaries, newest first.
func (s *Storage) RecentSummaries(ctx context.Context, limit int) ([]summary.Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	const q = `SELECT id, session_id, text, source, sample_count, window_start,
		window_end, latency_ms, error, generated_at
		FROM summaries ORDER BY generated_at DESC, rowid DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: recent summaries: %w", err)
	}
	defer rows.Close()

	var out []summary.Summary
	for rows.Next() {
		var sum summary.Summary
		var origin string
		if err := rows.Scan(&sum.ID, &sum.SessionID, &sum.Text, &origin, &sum.SampleCount,
			&sum.WindowStart, &sum.WindowEnd, &sum.LatencyMS, &sum.Error, &sum.GeneratedAt); err != nil {
			return nil, fmt.Errorf("storage: scan summary: %w", err)
		}
		sum.Origin = summary.Origin(origin)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// ============================= SESSIONS ====================================

// StartSession records a new connection.
func (s *Storage) StartSession(ctx context.Context, id, source string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, source, started_at) VALUES (?, ?, ?)`,
		id, source, startedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage: start session %q: %w", id, err)
	}
	return nil
}

// EndSession closes a session record with its final counters.
func (s *Storage) EndSession(ctx context.Context, rec SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ended := time.Now().UTC()
	if rec.EndedAt != nil {
		ended = rec.EndedAt.UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, end_reason = ?, samples_pushed = ?,
			decode_errors = ?, last_error = ? WHERE id = ?`,
		ended, rec.EndReason, rec.SamplesPushed, rec.DecodeErrors, rec.LastError, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("storage: end session %q: %w", rec.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage: end session %q: %w", rec.ID, ErrNotFound)
	}
	return nil
}

// RecentSessions returns up to limit sessions, newest first.
func (s *Storage) RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, started_at, ended_at, end_reason, samples_pushed,
			decode_errors, last_error
		FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: recent sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var ended sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.Source, &rec.StartedAt, &ended, &rec.EndReason,
			&rec.SamplesPushed, &rec.DecodeErrors, &rec.LastError); err != nil {
			return nil, fmt.Errorf("storage: scan session: %w", err)
		}
		if ended.Valid {
			t := ended.Time
			rec.EndedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

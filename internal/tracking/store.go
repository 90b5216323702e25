// Package tracking persists tool-call audit records (spec §3) to a
// SQLite database, grounded on the teacher's
// internal/memory/backend/sqlitevec.Backend (schema-init-then-prepared-
// statement style, pure-Go modernc.org/sqlite driver).
package tracking

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// Store records and queries tool-call tracking rows for the lifetime of
// a workflow-C session. Recorder adapts it to workflow.TrackingRecorder.
type Store struct {
	db *sql.DB
}

// Config is the plugin.json-decoded configuration for this component.
type Config struct {
	Path string // Path to the SQLite database file; ":memory:" for ephemeral.
}

// New opens (and, if needed, creates) the tracking database.
func New(cfg Config) (*Store, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("tracking: open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tool_call_tracking (
			tool_call_id TEXT PRIMARY KEY,
			session_id   TEXT NOT NULL,
			tool_name    TEXT NOT NULL,
			status       TEXT NOT NULL,
			started_at   DATETIME NOT NULL,
			finished_at  DATETIME,
			result       TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("tracking: create table: %w", err)
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_tool_call_tracking_session ON tool_call_tracking(session_id)`)
	if err != nil {
		return fmt.Errorf("tracking: create index: %w", err)
	}
	return nil
}

// Start records a tool call as begun.
func (s *Store) Start(ctx context.Context, rec models.ToolCallTrackingRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO tool_call_tracking (tool_call_id, session_id, tool_name, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.ToolCallID, rec.SessionID, rec.ToolName, models.ToolCallRunning, rec.StartedAt)
	if err != nil {
		return fmt.Errorf("tracking: start: %w", err)
	}
	return nil
}

// Finish updates a tool call's terminal status and result.
func (s *Store) Finish(ctx context.Context, toolCallID string, status models.ToolCallStatus, result string, finishedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tool_call_tracking SET status = ?, result = ?, finished_at = ? WHERE tool_call_id = ?
	`, status, result, finishedAt, toolCallID)
	if err != nil {
		return fmt.Errorf("tracking: finish: %w", err)
	}
	return nil
}

// ClearSession deletes every tracking row for a finished session, so the
// table doesn't grow unbounded across the process lifetime.
func (s *Store) ClearSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tool_call_tracking WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("tracking: clear session: %w", err)
	}
	return nil
}

// ForSession returns every tracking row for a session, most recent first.
func (s *Store) ForSession(ctx context.Context, sessionID string) ([]models.ToolCallTrackingRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tool_call_id, session_id, tool_name, status, started_at, finished_at, result
		FROM tool_call_tracking WHERE session_id = ? ORDER BY started_at DESC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("tracking: query session: %w", err)
	}
	defer rows.Close()

	var out []models.ToolCallTrackingRecord
	for rows.Next() {
		var rec models.ToolCallTrackingRecord
		var finishedAt sql.NullTime
		var result sql.NullString
		if err := rows.Scan(&rec.ToolCallID, &rec.SessionID, &rec.ToolName, &rec.Status, &rec.StartedAt, &finishedAt, &result); err != nil {
			return nil, fmt.Errorf("tracking: scan row: %w", err)
		}
		if finishedAt.Valid {
			rec.FinishedAt = finishedAt.Time
		}
		if result.Valid {
			rec.Result = result.String
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// SessionFilter narrows ListSessions.
type SessionFilter struct {
	ProjectID  string
	TaskID     string
	ActiveOnly bool
}

const sessionColumns = `key, project_id, task_id, agent_id, started_at, last_activity_at, ended_at,
	aborted_last_run, abort_acked_at, abort_reason`

// Session CRUD operations

// CreateSession creates a new agent session.
func (db *DB) CreateSession(ctx context.Context, s *models.AgentSession) error {
	if s.StartedAt.IsZero() {
		s.StartedAt = db.now()
	}
	_, err := db.Exec(ctx, `
		INSERT INTO agent_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.Key, s.ProjectID, s.TaskID, s.AgentID, formatTime(s.StartedAt),
		formatNullableTime(s.LastActivityAt), formatNullableTime(s.EndedAt),
		boolToInt(s.AbortedLastRun), formatNullableTime(s.AbortAckedAt), s.AbortReason)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by key. It returns nil, nil when absent.
func (db *DB) GetSession(ctx context.Context, key string) (*models.AgentSession, error) {
	row := db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM agent_sessions WHERE key = ?`, key)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// SessionEnd describes how a session ended.
type SessionEnd struct {
	At      time.Time
	Aborted bool
	Reason  string
}

// TouchSession stamps last_activity_at on a running session. It returns
// ErrNotFound when the session does not exist and ErrConflict when it has
// already ended.
func (db *DB) TouchSession(ctx context.Context, key string, at time.Time) error {
	res, err := db.Exec(ctx, `
		UPDATE agent_sessions SET last_activity_at = ?
		WHERE key = ? AND ended_at IS NULL
	`, formatTime(at), key)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return db.sessionChanged(ctx, res, key, "has ended")
}

// EndSession ends a running session. Only the first end lands: a session
// that has already ended is left alone and ErrConflict is returned.
func (db *DB) EndSession(ctx context.Context, key string, end SessionEnd) error {
	res, err := db.Exec(ctx, `
		UPDATE agent_sessions SET ended_at = ?,
			aborted_last_run = CASE WHEN ? THEN 1 ELSE aborted_last_run END,
			abort_reason = CASE WHEN ? THEN ? ELSE abort_reason END
		WHERE key = ? AND ended_at IS NULL
	`, formatTime(end.At), boolToInt(end.Aborted), boolToInt(end.Aborted), end.Reason, key)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return db.sessionChanged(ctx, res, key, "has already ended")
}

// AckSessionAbort stamps abort_acked_at on an aborted session. It returns
// ErrConflict when the session was not aborted or is already acknowledged.
func (db *DB) AckSessionAbort(ctx context.Context, key string, at time.Time) error {
	res, err := db.Exec(ctx, `
		UPDATE agent_sessions SET abort_acked_at = ?
		WHERE key = ? AND aborted_last_run = 1 AND abort_acked_at IS NULL
	`, formatTime(at), key)
	if err != nil {
		return fmt.Errorf("acknowledge session abort: %w", err)
	}
	return db.sessionChanged(ctx, res, key, "is not awaiting acknowledgement")
}

// sessionChanged turns a conditional update that matched no row into
// ErrNotFound or ErrConflict.
func (db *DB) sessionChanged(ctx context.Context, res sql.Result, key, conflict string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	existing, err := db.GetSession(ctx, key)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("session %s: %w", key, ErrNotFound)
	}
	return fmt.Errorf("session %s %s: %w", key, conflict, ErrConflict)
}

// DeleteSession deletes a session.
func (db *DB) DeleteSession(ctx context.Context, key string) error {
	_, err := db.Exec(ctx, `DELETE FROM agent_sessions WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ListSessions lists sessions, newest first.
func (db *DB) ListSessions(ctx context.Context, f SessionFilter) ([]models.AgentSession, error) {
	var (
		where []string
		args  []any
	)
	if f.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.TaskID != "" {
		where = append(where, "task_id = ?")
		args = append(args, f.TaskID)
	}
	if f.ActiveOnly {
		where = append(where, "ended_at IS NULL")
	}
	query := `SELECT ` + sessionColumns + ` FROM agent_sessions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, key"

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.AgentSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// ActiveSessionForTask returns the task's running session, or nil, nil.
func (db *DB) ActiveSessionForTask(ctx context.Context, taskID string) (*models.AgentSession, error) {
	row := db.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM agent_sessions
		WHERE task_id = ? AND ended_at IS NULL
		ORDER BY started_at DESC LIMIT 1
	`, taskID)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active session: %w", err)
	}
	return s, nil
}

// LatestSessionForTask returns the most recent session of the task, ended or
// not, or nil, nil.
func (db *DB) LatestSessionForTask(ctx context.Context, taskID string) (*models.AgentSession, error) {
	row := db.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM agent_sessions
		WHERE task_id = ?
		ORDER BY started_at DESC LIMIT 1
	`, taskID)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest session: %w", err)
	}
	return s, nil
}

// PurgeEndedSessions deletes sessions that ended before the cutoff.
// Returns the number of sessions deleted.
func (db *DB) PurgeEndedSessions(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := formatTime(db.now().Add(-olderThan))

	result, err := db.Exec(ctx, `
		DELETE FROM agent_sessions WHERE ended_at IS NOT NULL AND ended_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge ended sessions: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	return count, nil
}

func scanSession(s scanner) (*models.AgentSession, error) {
	var a models.AgentSession
	var startedAt string
	var lastActivity, endedAt, ackedAt sql.NullString
	var aborted int
	err := s.Scan(&a.Key, &a.ProjectID, &a.TaskID, &a.AgentID, &startedAt, &lastActivity, &endedAt,
		&aborted, &ackedAt, &a.AbortReason)
	if err != nil {
		return nil, err
	}
	a.StartedAt, _ = parseTime(startedAt)
	a.LastActivityAt = parseNullableTime(lastActivity)
	a.EndedAt = parseNullableTime(endedAt)
	a.AbortedLastRun = aborted != 0
	a.AbortAckedAt = parseNullableTime(ackedAt)
	return &a, nil
}

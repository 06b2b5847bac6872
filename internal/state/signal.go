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

// SignalFilter narrows ListSignals. Zero values match everything.
type SignalFilter struct {
	TaskID          string
	ProjectID       string
	Kind            models.SignalKind
	BlockingOnly    bool
	UnrespondedOnly bool
	Limit           int
}

const signalColumns = `id, task_id, project_id, session_key, agent_id, kind, severity, message,
	blocking, responded_at, response, responded_by, created_at`

// severityOrder sorts critical, high, normal.
const severityOrder = `CASE severity WHEN 'critical' THEN 0 WHEN 'high' THEN 1 ELSE 2 END`

// CreateSignal inserts a signal.
func (db *DB) CreateSignal(ctx context.Context, s *models.Signal) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = db.now()
	}
	_, err := db.Exec(ctx, `
		INSERT INTO signals (`+signalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.TaskID, s.ProjectID, s.SessionKey, s.AgentID, string(s.Kind), string(s.Severity),
		s.Message, boolToInt(s.Blocking), formatNullableTime(s.RespondedAt), s.Response,
		s.RespondedBy, formatTime(s.CreatedAt))
	if err != nil {
		return fmt.Errorf("create signal: %w", err)
	}
	return nil
}

// GetSignal retrieves a signal by ID. It returns nil, nil when absent.
func (db *DB) GetSignal(ctx context.Context, id string) (*models.Signal, error) {
	row := db.QueryRow(ctx, `SELECT `+signalColumns+` FROM signals WHERE id = ?`, id)
	s, err := scanSignal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get signal: %w", err)
	}
	return s, nil
}

// ListSignals returns signals ordered critical, high, normal, then newest
// first.
func (db *DB) ListSignals(ctx context.Context, f SignalFilter) ([]models.Signal, error) {
	var (
		where []string
		args  []any
	)
	if f.TaskID != "" {
		where = append(where, "task_id = ?")
		args = append(args, f.TaskID)
	}
	if f.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.BlockingOnly {
		where = append(where, "blocking = 1")
	}
	if f.UnrespondedOnly {
		where = append(where, "responded_at IS NULL")
	}

	query := `SELECT ` + signalColumns + ` FROM signals`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + severityOrder + ", created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	defer rows.Close()

	var signals []models.Signal
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		signals = append(signals, *s)
	}
	return signals, rows.Err()
}

// RespondSignal closes a signal. It fails with ErrNotFound when the signal
// does not exist and ErrConflict when it was already answered.
func (db *DB) RespondSignal(ctx context.Context, id, response, respondedBy string, at time.Time) (*models.Signal, error) {
	var out *models.Signal
	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		current, err := scanSignal(tx.QueryRowContext(ctx, `SELECT `+signalColumns+` FROM signals WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("signal %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("read signal: %w", err)
		}
		if current.RespondedAt != nil {
			return fmt.Errorf("signal %s already answered: %w", id, ErrConflict)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE signals SET responded_at = ?, response = ?, responded_by = ?
			WHERE id = ? AND responded_at IS NULL
		`, formatTime(at), response, respondedBy, id)
		if err != nil {
			return fmt.Errorf("write signal: %w", err)
		}
		current.RespondedAt = &at
		current.Response = response
		current.RespondedBy = respondedBy
		out = current
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("respond signal: %w", err)
	}
	return out, nil
}

func scanSignal(s scanner) (*models.Signal, error) {
	var sig models.Signal
	var kind, severity, createdAt string
	var blocking int
	var respondedAt sql.NullString
	err := s.Scan(&sig.ID, &sig.TaskID, &sig.ProjectID, &sig.SessionKey, &sig.AgentID, &kind, &severity,
		&sig.Message, &blocking, &respondedAt, &sig.Response, &sig.RespondedBy, &createdAt)
	if err != nil {
		return nil, err
	}
	sig.Kind = models.SignalKind(kind)
	sig.Severity = models.Severity(severity)
	sig.Blocking = blocking != 0
	sig.RespondedAt = parseNullableTime(respondedAt)
	sig.CreatedAt, _ = parseTime(createdAt)
	return &sig, nil
}

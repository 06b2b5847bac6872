package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ShayCichocki/foreman/pkg/models"
)

const workLoopColumns = `project_id, status, current_phase, current_cycle, active_agents, max_agents,
	error_message, last_cycle_at, updated_at`

// GetWorkLoopState returns a project's work loop row, or nil, nil when the
// project has none yet.
func (db *DB) GetWorkLoopState(ctx context.Context, projectID string) (*models.WorkLoopState, error) {
	row := db.QueryRow(ctx, `SELECT `+workLoopColumns+` FROM work_loop_state WHERE project_id = ?`, projectID)
	s, err := scanWorkLoop(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get work loop state: %w", err)
	}
	return s, nil
}

// UpsertWorkLoopState creates the row on first use, with cycle and active
// counters at zero and the configured default max_agents, then merges the
// patch. The merged result must keep active_agents <= max_agents.
func (db *DB) UpsertWorkLoopState(ctx context.Context, projectID string, patch models.WorkLoopPatch) (*models.WorkLoopState, error) {
	if err := patch.Validate(); err != nil {
		return nil, fmt.Errorf("upsert work loop %s: %w: %v", projectID, ErrInvalid, err)
	}

	var out *models.WorkLoopState
	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		current, err := scanWorkLoop(tx.QueryRowContext(ctx,
			`SELECT `+workLoopColumns+` FROM work_loop_state WHERE project_id = ?`, projectID))
		if errors.Is(err, sql.ErrNoRows) {
			current = models.NewWorkLoopState(projectID, db.defaultMaxAgents)
		} else if err != nil {
			return fmt.Errorf("read work loop state: %w", err)
		}

		if err := patch.Apply(current); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		current.UpdatedAt = db.now()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO work_loop_state (`+workLoopColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(project_id) DO UPDATE SET
				status = excluded.status,
				current_phase = excluded.current_phase,
				current_cycle = excluded.current_cycle,
				active_agents = excluded.active_agents,
				max_agents = excluded.max_agents,
				error_message = excluded.error_message,
				last_cycle_at = excluded.last_cycle_at,
				updated_at = excluded.updated_at
		`, current.ProjectID, string(current.Status), current.CurrentPhase, current.CurrentCycle,
			current.ActiveAgents, current.MaxAgents, current.ErrorMessage,
			formatNullableTime(current.LastCycleAt), formatTime(current.UpdatedAt))
		if err != nil {
			return fmt.Errorf("write work loop state: %w", err)
		}
		out = current
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("upsert work loop state: %w", err)
	}
	return out, nil
}

// ListWorkLoopStates returns every project's work loop row.
func (db *DB) ListWorkLoopStates(ctx context.Context) ([]models.WorkLoopState, error) {
	rows, err := db.Query(ctx, `SELECT `+workLoopColumns+` FROM work_loop_state ORDER BY project_id`)
	if err != nil {
		return nil, fmt.Errorf("list work loop states: %w", err)
	}
	defer rows.Close()

	var states []models.WorkLoopState
	for rows.Next() {
		s, err := scanWorkLoop(rows)
		if err != nil {
			return nil, fmt.Errorf("scan work loop state: %w", err)
		}
		states = append(states, *s)
	}
	return states, rows.Err()
}

func scanWorkLoop(s scanner) (*models.WorkLoopState, error) {
	var w models.WorkLoopState
	var status, updatedAt string
	var lastCycleAt sql.NullString
	err := s.Scan(&w.ProjectID, &status, &w.CurrentPhase, &w.CurrentCycle, &w.ActiveAgents,
		&w.MaxAgents, &w.ErrorMessage, &lastCycleAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	w.Status = models.WorkLoopStatus(status)
	w.LastCycleAt = parseNullableTime(lastCycleAt)
	w.UpdatedAt, _ = parseTime(updatedAt)
	return &w, nil
}

package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// TaskFilter narrows ListTasks. Zero values match everything.
type TaskFilter struct {
	ProjectID      string
	Statuses       []models.TaskStatus
	DispatchStatus models.DispatchStatus
	IDs            []string
	Limit          int
}

const taskColumns = `id, project_id, title, description, status, priority, role, agent_model,
	assignee, dispatch_status, resolution, escalated_at, escalation_reason, ready_at,
	completed_at, triage_acked_at, version, created_at, updated_at`

// CreateTask inserts a new task. Version starts at 1 and timestamps default
// to now.
func (db *DB) CreateTask(ctx context.Context, t *models.Task) error {
	now := db.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	if t.Version == 0 {
		t.Version = 1
	}
	if t.DispatchStatus == "" {
		t.DispatchStatus = models.DispatchIdle
	}
	t.Priority = t.Priority.OrDefault()

	_, err := db.Exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, taskArgs(t)...)
	if isUniqueViolation(err) {
		return fmt.Errorf("create task %s: %w", t.ID, ErrExists)
	}
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// isUniqueViolation matches the constraint message both SQLite drivers
// report for a duplicate primary key.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetTask retrieves a task by ID. It returns nil, nil when the task does not
// exist.
func (db *DB) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// UpdateTask applies a partial update inside a transaction and returns the
// stored result. It fails with ErrNotFound when the task is absent and with
// ErrConflict when patch.ExpectedVersion is set and does not match.
func (db *DB) UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error) {
	if err := patch.Validate(); err != nil {
		return nil, fmt.Errorf("update task %s: %w: %v", id, ErrInvalid, err)
	}

	var updated *models.Task
	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		current, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("read task: %w", err)
		}
		if patch.ExpectedVersion != 0 && patch.ExpectedVersion != current.Version {
			return fmt.Errorf("task %s at version %d, expected %d: %w", id, current.Version, patch.ExpectedVersion, ErrConflict)
		}

		next := current.Clone()
		patch.Apply(next)
		next.Version = current.Version + 1
		next.UpdatedAt = db.now()

		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET title = ?, description = ?, status = ?, priority = ?, role = ?,
				agent_model = ?, assignee = ?, dispatch_status = ?, resolution = ?,
				escalated_at = ?, escalation_reason = ?, ready_at = ?, completed_at = ?,
				triage_acked_at = ?, version = ?, updated_at = ?
			WHERE id = ? AND version = ?
		`, next.Title, next.Description, string(next.Status), string(next.Priority.OrDefault()), next.Role,
			next.AgentModel, next.Assignee, string(next.DispatchStatus), string(next.Resolution),
			formatNullableTime(next.EscalatedAt), next.EscalationReason, formatNullableTime(next.ReadyAt),
			formatNullableTime(next.CompletedAt), formatNullableTime(next.TriageAckedAt),
			next.Version, formatTime(next.UpdatedAt), id, current.Version)
		if err != nil {
			return fmt.Errorf("write task: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("task %s: %w", id, ErrConflict)
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	return updated, nil
}

// DeleteTask removes a task and, through cascades, its edges and comments.
func (db *DB) DeleteTask(ctx context.Context, id string) error {
	res, err := db.Exec(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete task %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListTasks returns tasks matching the filter ordered by creation time.
func (db *DB) ListTasks(ctx context.Context, f TaskFilter) ([]*models.Task, error) {
	var (
		where []string
		args  []any
	)
	if f.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, s := range f.Statuses {
			args = append(args, string(s))
		}
	}
	if f.DispatchStatus != "" {
		where = append(where, "dispatch_status = ?")
		args = append(args, string(f.DispatchStatus))
	}
	if len(f.IDs) > 0 {
		where = append(where, "id IN ("+placeholders(len(f.IDs))+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ListProjects returns every project that has tasks or work loop state.
func (db *DB) ListProjects(ctx context.Context) ([]string, error) {
	rows, err := db.Query(ctx, `
		SELECT project_id FROM tasks
		UNION
		SELECT project_id FROM work_loop_state
		ORDER BY project_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*models.Task, error) {
	var t models.Task
	var status, priority, dispatch, resolution string
	var escalatedAt, readyAt, completedAt, triagedAt sql.NullString
	var createdAt, updatedAt string
	err := s.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &status, &priority, &t.Role,
		&t.AgentModel, &t.Assignee, &dispatch, &resolution, &escalatedAt, &t.EscalationReason,
		&readyAt, &completedAt, &triagedAt, &t.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t.Status = models.TaskStatus(status)
	t.Priority = models.Priority(priority)
	t.DispatchStatus = models.DispatchStatus(dispatch)
	t.Resolution = models.Resolution(resolution)
	t.EscalatedAt = parseNullableTime(escalatedAt)
	t.ReadyAt = parseNullableTime(readyAt)
	t.CompletedAt = parseNullableTime(completedAt)
	t.TriageAckedAt = parseNullableTime(triagedAt)
	t.CreatedAt, _ = parseTime(createdAt)
	t.UpdatedAt, _ = parseTime(updatedAt)
	return &t, nil
}

func taskArgs(t *models.Task) []any {
	return []any{
		t.ID, t.ProjectID, t.Title, t.Description, string(t.Status), string(t.Priority), t.Role,
		t.AgentModel, t.Assignee, string(t.DispatchStatus), string(t.Resolution),
		formatNullableTime(t.EscalatedAt), t.EscalationReason, formatNullableTime(t.ReadyAt),
		formatNullableTime(t.CompletedAt), formatNullableTime(t.TriageAckedAt), t.Version,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

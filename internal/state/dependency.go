package state

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// ListDependencyEdges returns a project's edges in the order they were added.
func (db *DB) ListDependencyEdges(ctx context.Context, projectID string) ([]models.DependencyEdge, error) {
	rows, err := db.Query(ctx, `
		SELECT project_id, task_id, depends_on_id, created_at
		FROM task_dependencies WHERE project_id = ?
		ORDER BY created_at, rowid
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list dependency edges: %w", err)
	}
	defer rows.Close()

	var edges []models.DependencyEdge
	for rows.Next() {
		var e models.DependencyEdge
		var createdAt string
		if err := rows.Scan(&e.ProjectID, &e.TaskID, &e.DependsOnID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan dependency edge: %w", err)
		}
		e.CreatedAt, _ = parseTime(createdAt)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// AddDependencyEdge stores an edge. Storing an existing edge is a no-op.
// Cycle checks are the caller's job; the table silently drops self loops.
func (db *DB) AddDependencyEdge(ctx context.Context, e models.DependencyEdge) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = db.now()
	}
	_, err := db.Exec(ctx, `
		INSERT OR IGNORE INTO task_dependencies (project_id, task_id, depends_on_id, created_at)
		VALUES (?, ?, ?, ?)
	`, e.ProjectID, e.TaskID, e.DependsOnID, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("add dependency edge: %w", err)
	}
	return nil
}

// RemoveDependencyEdge deletes an edge, returning ErrNotFound when it does
// not exist.
func (db *DB) RemoveDependencyEdge(ctx context.Context, projectID, taskID, dependsOnID string) error {
	res, err := db.Exec(ctx, `
		DELETE FROM task_dependencies
		WHERE project_id = ? AND task_id = ? AND depends_on_id = ?
	`, projectID, taskID, dependsOnID)
	if err != nil {
		return fmt.Errorf("remove dependency edge: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("edge %s -> %s: %w", taskID, dependsOnID, ErrNotFound)
	}
	return nil
}

package state

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// EventFilter narrows ListEvents.
type EventFilter struct {
	TaskID    string
	ProjectID string
	Kind      string
	Limit     int
}

// CreateComment appends a comment.
func (db *DB) CreateComment(ctx context.Context, c *models.Comment) error {
	return db.AppendAudit(ctx, c, nil)
}

// AppendAudit writes a comment and an event in one transaction. Either may
// be nil.
func (db *DB) AppendAudit(ctx context.Context, c *models.Comment, e *models.Event) error {
	now := db.now()
	return db.Transaction(ctx, func(tx *sql.Tx) error {
		if c != nil {
			if c.CreatedAt.IsZero() {
				c.CreatedAt = now
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO comments (id, task_id, author, author_type, content, type, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, c.ID, c.TaskID, c.Author, string(c.AuthorType), c.Content, string(c.Type), formatTime(c.CreatedAt))
			if err != nil {
				return fmt.Errorf("create comment: %w", err)
			}
		}
		if e != nil {
			if e.CreatedAt.IsZero() {
				e.CreatedAt = now
			}
			var payload sql.NullString
			if len(e.Payload) > 0 {
				payload = sql.NullString{String: string(e.Payload), Valid: true}
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO events (id, task_id, project_id, actor, kind, payload, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, e.ID, e.TaskID, e.ProjectID, e.Actor, e.Kind, payload, formatTime(e.CreatedAt))
			if err != nil {
				return fmt.Errorf("create event: %w", err)
			}
		}
		return nil
	})
}

// ListComments returns a task's comments in the order they were written.
func (db *DB) ListComments(ctx context.Context, taskID string) ([]models.Comment, error) {
	rows, err := db.Query(ctx, `
		SELECT id, task_id, author, author_type, content, type, created_at
		FROM comments WHERE task_id = ?
		ORDER BY created_at, id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var comments []models.Comment
	for rows.Next() {
		var c models.Comment
		var authorType, typ, createdAt string
		if err := rows.Scan(&c.ID, &c.TaskID, &c.Author, &authorType, &c.Content, &typ, &createdAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		c.AuthorType = models.AuthorType(authorType)
		c.Type = models.CommentType(typ)
		c.CreatedAt, _ = parseTime(createdAt)
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// ListEvents returns audit events matching the filter, oldest first.
func (db *DB) ListEvents(ctx context.Context, f EventFilter) ([]models.Event, error) {
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
		args = append(args, f.Kind)
	}
	query := `SELECT id, task_id, project_id, actor, kind, payload, created_at FROM events`
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
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var e models.Event
		var payload sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.TaskID, &e.ProjectID, &e.Actor, &e.Kind, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if payload.Valid {
			e.Payload = []byte(payload.String)
		}
		e.CreatedAt, _ = parseTime(createdAt)
		events = append(events, e)
	}
	return events, rows.Err()
}

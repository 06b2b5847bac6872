package models

import (
	"encoding/json"
	"time"
)

// AuthorType identifies who wrote a comment.
type AuthorType string

const (
	AuthorHuman  AuthorType = "human"
	AuthorAgent  AuthorType = "agent"
	AuthorSystem AuthorType = "system"
)

// Valid returns true if the author type is a known value.
func (a AuthorType) Valid() bool {
	switch a {
	case AuthorHuman, AuthorAgent, AuthorSystem:
		return true
	default:
		return false
	}
}

// CommentType classifies an audit comment.
type CommentType string

const (
	CommentNote       CommentType = "comment"
	CommentCompletion CommentType = "completion"
	CommentTriage     CommentType = "triage"
	CommentDispatch   CommentType = "dispatch"
	CommentEscalation CommentType = "escalation"
)

// Comment is an append-only note attached to a task.
type Comment struct {
	ID         string      `json:"id"`
	TaskID     string      `json:"task_id"`
	Author     string      `json:"author"`
	AuthorType AuthorType  `json:"author_type"`
	Content    string      `json:"content"`
	Type       CommentType `json:"type"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Event kinds written to the audit log.
const (
	EventTaskCreated    = "task.created"
	EventTaskReady      = "task.ready"
	EventTaskDispatched = "task.dispatched"
	EventTaskCompleted  = "task.completed"
	EventTaskApproved   = "task.approved"
	EventTaskEscalated  = "task.escalated"
	EventTaskKilled     = "task.killed"
	EventTaskReassigned = "task.reassigned"
	EventTaskSplit      = "task.split"
	EventRunAborted     = "run.aborted"
	EventRunRecovered   = "run.recovered"
	EventDependencyAdd  = "dependency.added"
	EventDependencyRm   = "dependency.removed"
)

// Event is an append-only structured audit record.
type Event struct {
	ID        string          `json:"id"`
	TaskID    string          `json:"task_id,omitempty"`
	ProjectID string          `json:"project_id,omitempty"`
	Actor     string          `json:"actor"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// DependencyEdge records that TaskID must wait for DependsOnID.
type DependencyEdge struct {
	ProjectID   string    `json:"project_id"`
	TaskID      string    `json:"task_id"`
	DependsOnID string    `json:"depends_on_id"`
	CreatedAt   time.Time `json:"created_at"`
}

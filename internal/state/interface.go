package state

import (
	"context"
	"io"
	"time"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// TaskStore handles task persistence.
type TaskStore interface {
	CreateTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error)
	ListTasks(ctx context.Context, f TaskFilter) ([]*models.Task, error)
	DeleteTask(ctx context.Context, id string) error
	ListProjects(ctx context.Context) ([]string, error)
}

// DependencyStore handles dependency edge persistence. Cycle checks are not
// its concern; callers keep an in-memory graph for that.
type DependencyStore interface {
	ListDependencyEdges(ctx context.Context, projectID string) ([]models.DependencyEdge, error)
	AddDependencyEdge(ctx context.Context, e models.DependencyEdge) error
	RemoveDependencyEdge(ctx context.Context, projectID, taskID, dependsOnID string) error
}

// AuditStore handles the append-only comment and event log.
type AuditStore interface {
	CreateComment(ctx context.Context, c *models.Comment) error
	AppendAudit(ctx context.Context, c *models.Comment, e *models.Event) error
	ListComments(ctx context.Context, taskID string) ([]models.Comment, error)
	ListEvents(ctx context.Context, f EventFilter) ([]models.Event, error)
}

// SignalStore handles agent signal persistence.
type SignalStore interface {
	CreateSignal(ctx context.Context, s *models.Signal) error
	GetSignal(ctx context.Context, id string) (*models.Signal, error)
	ListSignals(ctx context.Context, f SignalFilter) ([]models.Signal, error)
	RespondSignal(ctx context.Context, id, response, respondedBy string, at time.Time) (*models.Signal, error)
}

// WorkLoopStore handles per-project work loop state.
type WorkLoopStore interface {
	GetWorkLoopState(ctx context.Context, projectID string) (*models.WorkLoopState, error)
	UpsertWorkLoopState(ctx context.Context, projectID string, patch models.WorkLoopPatch) (*models.WorkLoopState, error)
	ListWorkLoopStates(ctx context.Context) ([]models.WorkLoopState, error)
}

// SessionStore handles agent session persistence.
type SessionStore interface {
	CreateSession(ctx context.Context, s *models.AgentSession) error
	GetSession(ctx context.Context, key string) (*models.AgentSession, error)
	TouchSession(ctx context.Context, key string, at time.Time) error
	EndSession(ctx context.Context, key string, end SessionEnd) error
	AckSessionAbort(ctx context.Context, key string, at time.Time) error
	DeleteSession(ctx context.Context, key string) error
	ListSessions(ctx context.Context, f SessionFilter) ([]models.AgentSession, error)
	ActiveSessionForTask(ctx context.Context, taskID string) (*models.AgentSession, error)
	LatestSessionForTask(ctx context.Context, taskID string) (*models.AgentSession, error)
}

// Migrator handles database schema migrations.
// Separating this allows clients to depend only on migration functionality.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store is everything the orchestrator needs from persistence.
type Store interface {
	TaskStore
	DependencyStore
	AuditStore
	SignalStore
	WorkLoopStore
	SessionStore
}

// StateStore is a Store that owns its connection and schema.
type StateStore interface {
	io.Closer
	Migrator
	Store
}

// Compile-time verification that DB implements all interfaces.
var (
	_ StateStore      = (*DB)(nil)
	_ Migrator        = (*DB)(nil)
	_ TaskStore       = (*DB)(nil)
	_ DependencyStore = (*DB)(nil)
	_ AuditStore      = (*DB)(nil)
	_ SignalStore     = (*DB)(nil)
	_ WorkLoopStore   = (*DB)(nil)
	_ SessionStore    = (*DB)(nil)
)

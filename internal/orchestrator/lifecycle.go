package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ShayCichocki/foreman/internal/state"
	"github.com/ShayCichocki/foreman/pkg/cerr"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// TaskInput describes a task to create.
type TaskInput struct {
	ID          string
	ProjectID   string
	Title       string
	Description string
	// Status must be backlog (the default) or ready.
	Status     models.TaskStatus
	Priority   models.Priority
	Role       string
	AgentModel string
	Actor      string
}

// CreateTask creates a task in backlog or ready.
func (s *Service) CreateTask(ctx context.Context, in TaskInput) (*models.Task, error) {
	if strings.TrimSpace(in.ProjectID) == "" {
		return nil, cerr.Validation("project id is required")
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, cerr.Validation("title is required")
	}
	if in.Status == "" {
		in.Status = models.TaskStatusBacklog
	}
	if in.Status != models.TaskStatusBacklog && in.Status != models.TaskStatusReady {
		return nil, cerr.Validation("a new task must be backlog or ready, got %q", in.Status)
	}
	if !in.Priority.Valid() {
		return nil, cerr.Validation("unknown priority %q", in.Priority)
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}

	now := s.now()
	t := &models.Task{
		ID:             in.ID,
		ProjectID:      in.ProjectID,
		Title:          in.Title,
		Description:    in.Description,
		Status:         in.Status,
		Priority:       in.Priority.OrDefault(),
		Role:           in.Role,
		AgentModel:     in.AgentModel,
		DispatchStatus: models.DispatchIdle,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if t.Status == models.TaskStatusReady {
		t.ReadyAt = &now
	}
	if err := s.exec(ctx, "task "+t.ID, func(ctx context.Context) error {
		return s.store.CreateTask(ctx, t)
	}); err != nil {
		return nil, err
	}

	actor, _ := actorOrSystem(in.Actor)
	s.recordEvent(ctx, t, actor, models.EventTaskCreated, map[string]any{"status": t.Status, "title": t.Title})
	return t, nil
}

// GetTask returns a task, failing with NotFound when it does not exist.
func (s *Service) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return s.task(ctx, id)
}

// ListTasks returns the tasks matching f.
func (s *Service) ListTasks(ctx context.Context, f state.TaskFilter) ([]*models.Task, error) {
	for _, st := range f.Statuses {
		if !st.Valid() {
			return nil, cerr.Validation("unknown status %q", st)
		}
	}
	if f.DispatchStatus != "" && !f.DispatchStatus.Valid() {
		return nil, cerr.Validation("unknown dispatch status %q", f.DispatchStatus)
	}
	return s.listTasks(ctx, f)
}

func (s *Service) listTasks(ctx context.Context, f state.TaskFilter) ([]*models.Task, error) {
	return call(ctx, s, "tasks", func(ctx context.Context) ([]*models.Task, error) {
		return s.store.ListTasks(ctx, f)
	})
}

// ListComments returns a task's comments in the order they were written.
func (s *Service) ListComments(ctx context.Context, taskID string) ([]models.Comment, error) {
	if _, err := s.task(ctx, taskID); err != nil {
		return nil, err
	}
	return call(ctx, s, "comments of task "+taskID, func(ctx context.Context) ([]models.Comment, error) {
		return s.store.ListComments(ctx, taskID)
	})
}

// ListEvents returns audit events matching f.
func (s *Service) ListEvents(ctx context.Context, f state.EventFilter) ([]models.Event, error) {
	return call(ctx, s, "events", func(ctx context.Context) ([]models.Event, error) {
		return s.store.ListEvents(ctx, f)
	})
}

// MarkReady moves a backlog task to ready. A task that is already ready is
// returned unchanged.
func (s *Service) MarkReady(ctx context.Context, taskID, actor string) (*models.Task, error) {
	t, err := s.task(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status == models.TaskStatusReady {
		return t, nil
	}
	if err := transitionError(t, models.TaskStatusReady); err != nil {
		return nil, err
	}
	updated, err := s.updateTask(ctx, t.ID, models.TaskPatch{
		Status:          models.Ptr(models.TaskStatusReady),
		ReadyAt:         models.SetTime(s.now()),
		ExpectedVersion: t.Version,
	})
	if err != nil {
		return nil, err
	}
	actor, _ = actorOrSystem(actor)
	s.recordEvent(ctx, updated, actor, models.EventTaskReady, nil)
	return updated, nil
}

// DispatchInput starts an agent run on a ready task.
type DispatchInput struct {
	TaskID  string
	AgentID string
	Actor   string
}

// DispatchResult is the outcome of a successful dispatch.
type DispatchResult struct {
	Task    *models.Task         `json:"task"`
	Session *models.AgentSession `json:"session"`
}

// Dispatch moves a ready task to in_progress and opens its agent session.
//
// A task with incomplete dependencies is rejected with FailedPrecondition
// before anything is written. The coordinator must admit the run; its
// CapacityError is returned as is. Once a slot is held, any later failure
// removes the session, restores the task and releases the slot.
func (s *Service) Dispatch(ctx context.Context, in DispatchInput) (*DispatchResult, error) {
	t, err := s.task(ctx, in.TaskID)
	if err != nil {
		return nil, err
	}
	if err := transitionError(t, models.TaskStatusInProgress); err != nil {
		return nil, err
	}
	incomplete, err := s.deps.incomplete(ctx, t)
	if err != nil {
		return nil, err
	}
	if len(incomplete) > 0 {
		return nil, cerr.Preconditionf("task %s has incomplete dependencies: %s", t.ID, strings.Join(incomplete, ", "))
	}

	slot, err := s.loop.Admit(ctx, t.ProjectID, t.ID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	session := &models.AgentSession{
		Key:       uuid.NewString(),
		ProjectID: t.ProjectID,
		TaskID:    t.ID,
		AgentID:   in.AgentID,
		StartedAt: now,
	}
	if session.AgentID == "" {
		session.AgentID = "agent-" + session.Key[:8]
	}
	actor, _ := actorOrSystem(in.Actor)

	var updated *models.Task
	sg := newSaga("dispatch", s.logger)
	sg.add("open session",
		func(ctx context.Context) error {
			return s.exec(ctx, "session", func(ctx context.Context) error {
				return s.store.CreateSession(ctx, session)
			})
		},
		func(ctx context.Context) error {
			return s.exec(ctx, "session "+session.Key, func(ctx context.Context) error {
				return s.store.DeleteSession(ctx, session.Key)
			})
		})
	sg.add("mark in progress",
		func(ctx context.Context) error {
			updated, err = s.updateTask(ctx, t.ID, models.TaskPatch{
				Status:          models.Ptr(models.TaskStatusInProgress),
				DispatchStatus:  models.Ptr(models.DispatchDispatched),
				Assignee:        &session.AgentID,
				ExpectedVersion: t.Version,
			})
			return err
		},
		func(ctx context.Context) error {
			return s.restoreTask(ctx, t, updated)
		})
	sg.add("audit",
		func(ctx context.Context) error {
			c := s.newComment(t.ID, SystemActor, models.AuthorSystem, models.CommentDispatch,
				fmt.Sprintf("Dispatched to %s.", session.AgentID))
			e := s.newEvent(t, actor, models.EventTaskDispatched, map[string]string{
				"sessionKey": session.Key,
				"agentId":    session.AgentID,
			})
			return s.appendAudit(ctx, c, e)
		}, nil)

	if err := sg.run(ctx); err != nil {
		slot.Release(ctx)
		return nil, err
	}
	s.logger.Info("task dispatched", "task_id", t.ID, "project_id", t.ProjectID, "agent_id", session.AgentID)
	return &DispatchResult{Task: updated, Session: session}, nil
}

// CompleteInput records the outcome of an agent run.
type CompleteInput struct {
	TaskID  string
	Summary string
	PRURL   string
	Notes   string
	Agent   string
}

// Complete records a completion. With a PR reference the task moves to
// in_review, otherwise to done. The status change, the completion comment
// and the audit event either all land or the task is left as it was.
func (s *Service) Complete(ctx context.Context, in CompleteInput) (*models.Task, error) {
	if strings.TrimSpace(in.TaskID) == "" {
		return nil, cerr.Validation("task id is required")
	}
	if strings.TrimSpace(in.Summary) == "" {
		return nil, cerr.Validation("summary is required")
	}
	t, err := s.task(ctx, in.TaskID)
	if err != nil {
		return nil, err
	}

	next := models.TaskStatusDone
	if in.PRURL != "" {
		next = models.TaskStatusInReview
	}
	if err := transitionError(t, next); err != nil {
		return nil, err
	}

	patch := models.TaskPatch{
		Status:          &next,
		DispatchStatus:  models.Ptr(models.DispatchCompleted),
		CompletedAt:     models.SetTime(s.now()),
		ExpectedVersion: t.Version,
	}
	if next == models.TaskStatusDone {
		patch.Resolution = models.Ptr(models.ResolutionCompleted)
	}

	author, authorType := in.Agent, models.AuthorAgent
	if author == "" {
		author = t.Assignee
	}
	if author == "" {
		author, authorType = SystemActor, models.AuthorSystem
	}

	var updated *models.Task
	sg := newSaga("complete", s.logger)
	sg.add("update status",
		func(ctx context.Context) error {
			updated, err = s.updateTask(ctx, t.ID, patch)
			return err
		},
		func(ctx context.Context) error {
			return s.restoreTask(ctx, t, updated)
		})
	sg.add("audit",
		func(ctx context.Context) error {
			c := s.newComment(t.ID, author, authorType, models.CommentCompletion, completionText(in))
			e := s.newEvent(t, author, models.EventTaskCompleted, map[string]any{
				"summary":   in.Summary,
				"prUrl":     nullable(in.PRURL),
				"notes":     nullable(in.Notes),
				"newStatus": next,
			})
			return s.appendAudit(ctx, c, e)
		}, nil)
	if err := sg.run(ctx); err != nil {
		return nil, err
	}

	s.endRun(ctx, updated, "", false)
	s.logger.Info("task completed", "task_id", t.ID, "status", next)
	return updated, nil
}

func completionText(in CompleteInput) string {
	var b strings.Builder
	b.WriteString(in.Summary)
	if in.PRURL != "" {
		b.WriteString("\n\nPR: ")
		b.WriteString(in.PRURL)
	}
	if in.Notes != "" {
		b.WriteString("\n\nNotes: ")
		b.WriteString(in.Notes)
	}
	return b.String()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Approve moves a task in review to done.
func (s *Service) Approve(ctx context.Context, taskID, actor string) (*models.Task, error) {
	t, err := s.task(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status != models.TaskStatusInReview {
		return nil, cerr.Preconditionf("task %s is %s, only tasks in review can be approved", t.ID, t.Status)
	}
	patch := models.TaskPatch{
		Status:          models.Ptr(models.TaskStatusDone),
		Resolution:      models.Ptr(models.ResolutionCompleted),
		ExpectedVersion: t.Version,
	}
	if t.CompletedAt == nil {
		patch.CompletedAt = models.SetTime(s.now())
	}
	actor, authorType := actorOrSystem(actor)
	return s.transitionWithAudit(ctx, "approve", t, patch,
		s.newComment(t.ID, actor, authorType, models.CommentNote, "Approved."),
		s.newEvent(t, actor, models.EventTaskApproved, nil))
}

// transitionWithAudit writes patch then the audit records, restoring the
// task when the audit write fails.
func (s *Service) transitionWithAudit(ctx context.Context, name string, t *models.Task, patch models.TaskPatch, c *models.Comment, e *models.Event) (*models.Task, error) {
	var (
		updated *models.Task
		err     error
	)
	sg := newSaga(name, s.logger)
	sg.add("update task",
		func(ctx context.Context) error {
			updated, err = s.updateTask(ctx, t.ID, patch)
			return err
		},
		func(ctx context.Context) error {
			return s.restoreTask(ctx, t, updated)
		})
	sg.add("audit",
		func(ctx context.Context) error {
			return s.appendAudit(ctx, c, e)
		}, nil)
	if err := sg.run(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ShayCichocki/foreman/pkg/cerr"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// Kill forces a task back to backlog and records why. Calling it again on a
// killed task changes nothing but appends another comment.
func (s *Service) Kill(ctx context.Context, taskID, actor, reason string) (*models.Task, error) {
	t, err := s.task(ctx, taskID)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "no reason given"
	}

	now := s.now()
	patch := models.TaskPatch{
		Status:          models.Ptr(models.TaskStatusBacklog),
		DispatchStatus:  models.Ptr(models.DispatchIdle),
		Resolution:      models.Ptr(models.ResolutionNone),
		ReadyAt:         models.ClearTime(),
		CompletedAt:     models.ClearTime(),
		TriageAckedAt:   models.SetTime(now),
		ExpectedVersion: t.Version,
	}
	actor, authorType := actorOrSystem(actor)
	updated, err := s.transitionWithAudit(ctx, "kill", t, patch,
		s.newComment(t.ID, actor, authorType, models.CommentTriage,
			"Task moved to backlog (killed). Reason: "+reason),
		s.newEvent(t, actor, models.EventTaskKilled, map[string]string{
			"reason":         reason,
			"previousStatus": string(t.Status),
		}))
	if err != nil {
		return nil, err
	}

	s.endRun(ctx, t, "killed: "+reason, true)
	s.logger.Info("task killed", "task_id", t.ID, "project_id", t.ProjectID, "actor", actor)
	return updated, nil
}

// ReassignInput changes who picks a task up next. Nil fields keep their
// current value.
type ReassignInput struct {
	TaskID     string
	Actor      string
	Role       *string
	AgentModel *string
}

// Reassign forces a task to ready, optionally with a new role or agent
// model, so the next cycle can dispatch it again.
func (s *Service) Reassign(ctx context.Context, in ReassignInput) (*models.Task, error) {
	t, err := s.task(ctx, in.TaskID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	patch := models.TaskPatch{
		Status:          models.Ptr(models.TaskStatusReady),
		DispatchStatus:  models.Ptr(models.DispatchIdle),
		Resolution:      models.Ptr(models.ResolutionNone),
		Assignee:        models.Ptr(""),
		ReadyAt:         models.SetTime(now),
		CompletedAt:     models.ClearTime(),
		TriageAckedAt:   models.SetTime(now),
		ExpectedVersion: t.Version,
	}
	var changed []string
	if in.Role != nil && *in.Role != t.Role {
		patch.Role = in.Role
		changed = append(changed, fmt.Sprintf("role (%q to %q)", t.Role, *in.Role))
	}
	if in.AgentModel != nil && *in.AgentModel != t.AgentModel {
		patch.AgentModel = in.AgentModel
		changed = append(changed, fmt.Sprintf("agent_model (%q to %q)", t.AgentModel, *in.AgentModel))
	}

	content := "Task reassigned and moved to ready."
	if len(changed) > 0 {
		content += " Changed: " + strings.Join(changed, ", ") + "."
	} else {
		content += " No fields changed."
	}

	actor, authorType := actorOrSystem(in.Actor)
	updated, err := s.transitionWithAudit(ctx, "reassign", t, patch,
		s.newComment(t.ID, actor, authorType, models.CommentTriage, content),
		s.newEvent(t, actor, models.EventTaskReassigned, map[string]any{
			"role":           patch.Role,
			"agentModel":     patch.AgentModel,
			"previousStatus": t.Status,
		}))
	if err != nil {
		return nil, err
	}

	s.endRun(ctx, t, "reassigned", true)
	s.logger.Info("task reassigned", "task_id", t.ID, "project_id", t.ProjectID, "actor", actor)
	return updated, nil
}

// SubtaskInput describes one task created by Split. Empty fields inherit
// from the parent.
type SubtaskInput struct {
	Title       string          `json:"title" yaml:"title"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Priority    models.Priority `json:"priority,omitempty" yaml:"priority,omitempty"`
	Role        string          `json:"role,omitempty" yaml:"role,omitempty"`
	AgentModel  string          `json:"agent_model,omitempty" yaml:"agent_model,omitempty"`
}

// SplitResult is the outcome of a split.
type SplitResult struct {
	Parent   *models.Task   `json:"parent"`
	Subtasks []*models.Task `json:"subtasks"`
}

// Split replaces a task with subtasks. The subtasks are created ready in
// the parent's project; the parent becomes done with resolution discarded.
//
// Either every step lands or none does: if a subtask cannot be created,
// the ones already created are deleted and the parent is never touched.
// If the parent update or the audit write fails, the parent is restored
// and the subtasks are deleted.
func (s *Service) Split(ctx context.Context, taskID, actor string, subtasks []SubtaskInput) (*SplitResult, error) {
	if len(subtasks) == 0 {
		return nil, cerr.Validation("at least one subtask is required")
	}
	for i, st := range subtasks {
		if strings.TrimSpace(st.Title) == "" {
			return nil, cerr.Validation("subtask %d has no title", i+1)
		}
		if !st.Priority.Valid() {
			return nil, cerr.Validation("subtask %d has unknown priority %q", i+1, st.Priority)
		}
	}

	parent, err := s.task(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if parent.Status == models.TaskStatusDone && parent.Resolution == models.ResolutionDiscarded {
		return nil, cerr.Preconditionf("task %s was already split or discarded", parent.ID)
	}

	now := s.now()
	actor, authorType := actorOrSystem(actor)
	result := &SplitResult{}
	sg := newSaga("split", s.logger)

	titles := make([]string, len(subtasks))
	for i, in := range subtasks {
		titles[i] = in.Title
		child := &models.Task{
			ID:             uuid.NewString(),
			ProjectID:      parent.ProjectID,
			Title:          in.Title,
			Description:    in.Description,
			Status:         models.TaskStatusReady,
			Priority:       in.Priority,
			Role:           in.Role,
			AgentModel:     in.AgentModel,
			DispatchStatus: models.DispatchIdle,
			ReadyAt:        &now,
			Version:        1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if child.Priority == "" {
			child.Priority = parent.Priority
		}
		child.Priority = child.Priority.OrDefault()
		if child.Role == "" {
			child.Role = parent.Role
		}
		if child.AgentModel == "" {
			child.AgentModel = parent.AgentModel
		}

		sg.add("create subtask "+in.Title,
			func(ctx context.Context) error {
				if err := s.exec(ctx, "subtask "+child.ID, func(ctx context.Context) error {
					return s.store.CreateTask(ctx, child)
				}); err != nil {
					return err
				}
				result.Subtasks = append(result.Subtasks, child)
				return nil
			},
			func(ctx context.Context) error {
				return s.exec(ctx, "subtask "+child.ID, func(ctx context.Context) error {
					return s.store.DeleteTask(ctx, child.ID)
				})
			})
	}

	sg.add("discard parent",
		func(ctx context.Context) error {
			patch := models.TaskPatch{
				Status:          models.Ptr(models.TaskStatusDone),
				Resolution:      models.Ptr(models.ResolutionDiscarded),
				DispatchStatus:  models.Ptr(models.DispatchIdle),
				CompletedAt:     models.SetTime(now),
				TriageAckedAt:   models.SetTime(now),
				ExpectedVersion: parent.Version,
			}
			if parent.CompletedAt != nil {
				patch.CompletedAt = nil
			}
			result.Parent, err = s.updateTask(ctx, parent.ID, patch)
			return err
		},
		func(ctx context.Context) error {
			return s.restoreTask(ctx, parent, result.Parent)
		})

	sg.add("audit",
		func(ctx context.Context) error {
			ids := make([]string, len(result.Subtasks))
			for i, c := range result.Subtasks {
				ids[i] = c.ID
			}
			c := s.newComment(parent.ID, actor, authorType, models.CommentTriage,
				fmt.Sprintf("Task split into %d subtasks: %s", len(titles), strings.Join(titles, ", ")))
			e := s.newEvent(parent, actor, models.EventTaskSplit, map[string]any{
				"subtaskIds": ids,
				"titles":     titles,
			})
			return s.appendAudit(ctx, c, e)
		}, nil)

	if err := sg.run(ctx); err != nil {
		return nil, err
	}

	s.endRun(ctx, parent, "split", true)
	for _, c := range result.Subtasks {
		s.recordEvent(ctx, c, actor, models.EventTaskCreated, map[string]string{"splitFrom": parent.ID})
	}
	s.logger.Info("task split", "task_id", parent.ID, "project_id", parent.ProjectID, "subtasks", len(result.Subtasks))
	return result, nil
}

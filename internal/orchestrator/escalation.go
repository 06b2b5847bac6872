package orchestrator

import (
	"context"
	"strings"

	"github.com/ShayCichocki/foreman/pkg/cerr"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// Escalate flags a task for triage. The escalation stays unread until a
// triage action or Acknowledge stamps triage_acked_at.
func (s *Service) Escalate(ctx context.Context, taskID, actor, reason string) (*models.Task, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, cerr.Validation("escalation reason is required")
	}
	t, err := s.task(ctx, taskID)
	if err != nil {
		return nil, err
	}

	actor, authorType := actorOrSystem(actor)
	c := s.newComment(t.ID, actor, authorType, models.CommentEscalation, "Escalated: "+reason)
	e := s.newEvent(t, actor, models.EventTaskEscalated, map[string]string{"reason": reason})

	var updated *models.Task
	sg := newSaga("escalate", s.logger)
	sg.add("flag task",
		func(ctx context.Context) error {
			updated, err = s.updateTask(ctx, t.ID, models.TaskPatch{
				EscalatedAt:      models.SetTime(s.now()),
				EscalationReason: &reason,
				ExpectedVersion:  t.Version,
			})
			return err
		},
		func(ctx context.Context) error {
			_, err := s.updateTask(ctx, t.ID, models.TaskPatch{
				EscalatedAt:      models.RestoreTime(t.EscalatedAt),
				EscalationReason: &t.EscalationReason,
				ExpectedVersion:  updated.Version,
			})
			return err
		})
	sg.add("audit", func(ctx context.Context) error { return s.appendAudit(ctx, c, e) }, nil)
	if err := sg.run(ctx); err != nil {
		return nil, err
	}
	s.logger.Warn("task escalated", "task_id", t.ID, "project_id", t.ProjectID, "reason", reason)
	return updated, nil
}

// Acknowledge marks a task's escalation as read without any other change.
func (s *Service) Acknowledge(ctx context.Context, taskID string) (*models.Task, error) {
	t, err := s.task(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !t.HasUnreadEscalation() {
		return t, nil
	}
	return s.updateTask(ctx, t.ID, models.TaskPatch{
		TriageAckedAt:   models.SetTime(s.now()),
		ExpectedVersion: t.Version,
	})
}

package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/oklog/ulid/v2"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// SystemActor is recorded when a caller does not name itself.
const SystemActor = "system"

func actorOrSystem(actor string) (string, models.AuthorType) {
	if actor == "" {
		return SystemActor, models.AuthorSystem
	}
	return actor, models.AuthorHuman
}

func (s *Service) newComment(taskID, author string, authorType models.AuthorType, typ models.CommentType, content string) *models.Comment {
	return &models.Comment{
		ID:         ulid.Make().String(),
		TaskID:     taskID,
		Author:     author,
		AuthorType: authorType,
		Content:    content,
		Type:       typ,
		CreatedAt:  s.now(),
	}
}

func (s *Service) newEvent(t *models.Task, actor, kind string, payload any) *models.Event {
	e := &models.Event{
		ID:        ulid.Make().String(),
		TaskID:    t.ID,
		ProjectID: t.ProjectID,
		Actor:     actor,
		Kind:      kind,
		CreatedAt: s.now(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			s.logger.Warn("dropping unencodable event payload", "kind", kind, "error", err)
		} else {
			e.Payload = raw
		}
	}
	return e
}

// appendAudit writes a comment and an event atomically. Either may be nil.
func (s *Service) appendAudit(ctx context.Context, c *models.Comment, e *models.Event) error {
	return s.exec(ctx, "audit record", func(ctx context.Context) error {
		return s.store.AppendAudit(ctx, c, e)
	})
}

// recordEvent writes an event whose loss does not invalidate the operation
// that produced it. Failures are logged.
func (s *Service) recordEvent(ctx context.Context, t *models.Task, actor, kind string, payload any) {
	if err := s.appendAudit(ctx, nil, s.newEvent(t, actor, kind, payload)); err != nil {
		s.logger.Warn("failed to record event", "kind", kind, "task_id", t.ID, "error", err)
	}
}

package orchestrator

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/ShayCichocki/foreman/internal/state"
	"github.com/ShayCichocki/foreman/pkg/cerr"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// SignalInput is a signal raised by an agent. Blocking is derived from
// Kind and cannot be supplied.
type SignalInput struct {
	TaskID     string
	ProjectID  string
	SessionKey string
	AgentID    string
	Kind       models.SignalKind
	Severity   models.Severity
	Message    string
}

// CreateSignal validates and stores a signal. When TaskID is set the task
// must exist and supplies the project.
func (s *Service) CreateSignal(ctx context.Context, in SignalInput) (*models.Signal, error) {
	if !in.Kind.Valid() {
		return nil, cerr.Validation("unknown signal kind %q", in.Kind)
	}
	if in.Severity == "" {
		in.Severity = models.SeverityNormal
	}
	if !in.Severity.Valid() {
		return nil, cerr.Validation("unknown severity %q", in.Severity)
	}
	if strings.TrimSpace(in.Message) == "" {
		return nil, cerr.Validation("message is required")
	}

	if in.TaskID != "" {
		t, err := s.task(ctx, in.TaskID)
		if err != nil {
			return nil, err
		}
		if in.ProjectID != "" && in.ProjectID != t.ProjectID {
			return nil, cerr.Validation("task %s belongs to project %s, not %s", t.ID, t.ProjectID, in.ProjectID)
		}
		in.ProjectID = t.ProjectID
	}
	if in.ProjectID == "" {
		return nil, cerr.Validation("project id or task id is required")
	}

	sig := &models.Signal{
		ID:         uuid.NewString(),
		TaskID:     in.TaskID,
		ProjectID:  in.ProjectID,
		SessionKey: in.SessionKey,
		AgentID:    in.AgentID,
		Kind:       in.Kind,
		Severity:   in.Severity,
		Message:    in.Message,
		Blocking:   in.Kind.Blocking(),
		CreatedAt:  s.now(),
	}
	if err := s.exec(ctx, "signal", func(ctx context.Context) error {
		return s.store.CreateSignal(ctx, sig)
	}); err != nil {
		return nil, err
	}
	s.logger.Info("signal raised", "signal_id", sig.ID, "kind", sig.Kind, "severity", sig.Severity, "task_id", sig.TaskID)
	return sig, nil
}

// ListSignals returns signals matching f, critical first, then high, then
// normal, newest first within a severity.
func (s *Service) ListSignals(ctx context.Context, f state.SignalFilter) ([]models.Signal, error) {
	if f.Kind != "" && !f.Kind.Valid() {
		return nil, cerr.Validation("unknown signal kind %q", f.Kind)
	}
	signals, err := call(ctx, s, "signals", func(ctx context.Context) ([]models.Signal, error) {
		return s.store.ListSignals(ctx, f)
	})
	if err != nil {
		return nil, err
	}
	models.SortSignals(signals)
	return signals, nil
}

// RespondSignal closes a signal. A signal can be answered once; a second
// response fails with a conflict.
func (s *Service) RespondSignal(ctx context.Context, id, response, responder string) (*models.Signal, error) {
	if id == "" {
		return nil, cerr.Validation("signal id is required")
	}
	if strings.TrimSpace(response) == "" {
		return nil, cerr.Validation("response is required")
	}
	responder, _ = actorOrSystem(responder)
	return call(ctx, s, "signal "+id, func(ctx context.Context) (*models.Signal, error) {
		return s.store.RespondSignal(ctx, id, response, responder, s.now())
	})
}

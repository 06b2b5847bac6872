package orchestrator

import (
	"context"
	"time"

	"github.com/ShayCichocki/foreman/internal/state"
	"github.com/ShayCichocki/foreman/pkg/cerr"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// Run is an agent session together with its derived activity status.
type Run struct {
	models.AgentSession
	Status models.ActivityStatus `json:"status"`
	Stuck  bool                  `json:"stuck"`
}

func (s *Service) session(ctx context.Context, key string) (*models.AgentSession, error) {
	if key == "" {
		return nil, cerr.Validation("session key is required")
	}
	sess, err := call(ctx, s, "session "+key, func(ctx context.Context) (*models.AgentSession, error) {
		return s.store.GetSession(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, cerr.NotFoundf("session %s not found", key)
	}
	return sess, nil
}

// endSession ends a running session. It reports false when another caller
// ended it first.
func (s *Service) endSession(ctx context.Context, key string, end state.SessionEnd) (bool, error) {
	err := s.exec(ctx, "session "+key, func(ctx context.Context) error {
		return s.store.EndSession(ctx, key, end)
	})
	if cerr.IsCode(err, cerr.Aborted) {
		return false, nil
	}
	return err == nil, err
}

// Heartbeat records agent activity on a running session. The write only
// lands while the session is running, so a heartbeat racing the end of the
// run cannot reopen it.
func (s *Service) Heartbeat(ctx context.Context, key string) (*Run, error) {
	sess, err := s.session(ctx, key)
	if err != nil {
		return nil, err
	}
	if !sess.Active() {
		return nil, cerr.Preconditionf("session %s has ended", key)
	}
	now := s.now()
	err = s.exec(ctx, "session "+key, func(ctx context.Context) error {
		return s.store.TouchSession(ctx, key, now)
	})
	if cerr.IsCode(err, cerr.Aborted) {
		return nil, cerr.Preconditionf("session %s has ended", key)
	}
	if err != nil {
		return nil, err
	}
	sess.LastActivityAt = &now
	return s.run(sess), nil
}

// Abort ends a running session as aborted. The task keeps its status and
// goes back to dispatch idle; its slot is released exactly once. Aborting
// an ended session returns it unchanged.
func (s *Service) Abort(ctx context.Context, key, reason, actor string) (*Run, error) {
	sess, err := s.session(ctx, key)
	if err != nil {
		return nil, err
	}
	if !sess.Active() {
		return s.run(sess), nil
	}

	if reason == "" {
		reason = "aborted"
	}
	now := s.now()
	ended, err := s.endSession(ctx, key, state.SessionEnd{At: now, Aborted: true, Reason: reason})
	if err != nil {
		return nil, err
	}
	if !ended {
		// Whoever ended the run first also released its slot.
		latest, err := s.session(ctx, key)
		if err != nil {
			return nil, err
		}
		return s.run(latest), nil
	}
	defer s.loop.Release(ctx, sess.ProjectID, sess.TaskID)
	sess.EndedAt = &now
	sess.AbortedLastRun = true
	sess.AbortReason = reason

	t, err := call(ctx, s, "task "+sess.TaskID, func(ctx context.Context) (*models.Task, error) {
		return s.store.GetTask(ctx, sess.TaskID)
	})
	if err != nil {
		return nil, err
	}
	if t != nil {
		if t.DispatchStatus == models.DispatchDispatched {
			if _, err := s.updateTask(ctx, t.ID, models.TaskPatch{
				DispatchStatus:  models.Ptr(models.DispatchIdle),
				ExpectedVersion: t.Version,
			}); err != nil {
				return nil, err
			}
		}
		actor, _ = actorOrSystem(actor)
		s.recordEvent(ctx, t, actor, models.EventRunAborted, map[string]string{"sessionKey": key, "reason": reason})
	}
	s.logger.Warn("agent run aborted", "session_key", key, "task_id", sess.TaskID, "reason", reason)
	return s.run(sess), nil
}

// AckAbort acknowledges an aborted run so it stops counting as stuck.
func (s *Service) AckAbort(ctx context.Context, key string) (*Run, error) {
	sess, err := s.session(ctx, key)
	if err != nil {
		return nil, err
	}
	if !sess.AbortedLastRun {
		return nil, cerr.Preconditionf("session %s was not aborted", key)
	}
	if sess.AbortAckedAt != nil {
		return s.run(sess), nil
	}
	now := s.now()
	err = s.exec(ctx, "session "+key, func(ctx context.Context) error {
		return s.store.AckSessionAbort(ctx, key, now)
	})
	if cerr.IsCode(err, cerr.Aborted) {
		// Acknowledged concurrently.
		latest, err := s.session(ctx, key)
		if err != nil {
			return nil, err
		}
		return s.run(latest), nil
	}
	if err != nil {
		return nil, err
	}
	sess.AbortAckedAt = &now
	return s.run(sess), nil
}

// ListRuns returns sessions matching f, newest first, with derived status.
func (s *Service) ListRuns(ctx context.Context, f state.SessionFilter) ([]Run, error) {
	sessions, err := call(ctx, s, "sessions", func(ctx context.Context) ([]models.AgentSession, error) {
		return s.store.ListSessions(ctx, f)
	})
	if err != nil {
		return nil, err
	}
	runs := make([]Run, len(sessions))
	for i := range sessions {
		runs[i] = *s.run(&sessions[i])
	}
	return runs, nil
}

// PruneRuns deletes sessions that ended more than olderThan ago. It needs a
// store that supports purging.
func (s *Service) PruneRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	purger, ok := s.store.(interface {
		PurgeEndedSessions(ctx context.Context, olderThan time.Duration) (int64, error)
	})
	if !ok {
		return 0, cerr.Preconditionf("store does not support pruning runs")
	}
	if olderThan < 0 {
		return 0, cerr.Validation("retention must not be negative")
	}
	return call(ctx, s, "sessions", func(ctx context.Context) (int64, error) {
		return purger.PurgeEndedSessions(ctx, olderThan)
	})
}

func (s *Service) run(sess *models.AgentSession) *Run {
	now := s.now()
	return &Run{
		AgentSession: *sess,
		Status:       sess.Status(now),
		Stuck:        sess.Active() && sess.Stuck(now),
	}
}

// endRun closes the task's active session, if any, and releases its slot.
// Failures are logged: the transition that called it has already landed.
func (s *Service) endRun(ctx context.Context, t *models.Task, reason string, aborted bool) {
	ctx = context.WithoutCancel(ctx)
	defer s.loop.Release(ctx, t.ProjectID, t.ID)

	sess, err := call(ctx, s, "session of task "+t.ID, func(ctx context.Context) (*models.AgentSession, error) {
		return s.store.ActiveSessionForTask(ctx, t.ID)
	})
	if err != nil {
		s.logger.Warn("failed to look up session", "task_id", t.ID, "error", err)
		return
	}
	if sess == nil {
		return
	}
	end := state.SessionEnd{At: s.now()}
	if aborted {
		end.Aborted = true
		end.Reason = reason
	}
	ended, err := s.endSession(ctx, sess.Key, end)
	if err != nil {
		s.logger.Warn("failed to end session", "session_key", sess.Key, "task_id", t.ID, "error", err)
		return
	}
	if !ended {
		s.logger.Debug("session already ended", "session_key", sess.Key, "task_id", t.ID)
	}
}

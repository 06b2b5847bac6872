package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// OrphanReport lists runs left inconsistent by an interrupted process.
type OrphanReport struct {
	// LostRuns are tasks marked dispatched that have no running session.
	LostRuns []*models.Task `json:"lost_runs"`
	// StaleSessions are running sessions whose task is no longer dispatched.
	StaleSessions []models.AgentSession `json:"stale_sessions"`
}

// Empty reports whether there is nothing to recover.
func (r *OrphanReport) Empty() bool {
	return r == nil || (len(r.LostRuns) == 0 && len(r.StaleSessions) == 0)
}

// RecoveryManager detects and repairs orphaned agent runs on startup.
type RecoveryManager struct {
	db     recoveryStore
	now    func() time.Time
	logger *slog.Logger
}

type recoveryStore interface {
	TaskStore
	SessionStore
}

// NewRecoveryManager creates a new RecoveryManager over the given store.
func NewRecoveryManager(db recoveryStore, logger *slog.Logger) *RecoveryManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecoveryManager{db: db, now: time.Now, logger: logger}
}

// SetClock replaces time.Now.
func (rm *RecoveryManager) SetClock(now func() time.Time) {
	if now != nil {
		rm.now = now
	}
}

// CheckForOrphans inspects a project (or every project when projectID is
// empty) without changing anything. It returns nil when nothing is orphaned.
func (rm *RecoveryManager) CheckForOrphans(ctx context.Context, projectID string) (*OrphanReport, error) {
	dispatched, err := rm.db.ListTasks(ctx, TaskFilter{
		ProjectID:      projectID,
		DispatchStatus: models.DispatchDispatched,
	})
	if err != nil {
		return nil, fmt.Errorf("list dispatched tasks: %w", err)
	}
	sessions, err := rm.db.ListSessions(ctx, SessionFilter{ProjectID: projectID, ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	byTask := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		byTask[s.TaskID] = true
	}
	isDispatched := make(map[string]bool, len(dispatched))

	report := &OrphanReport{}
	for _, t := range dispatched {
		isDispatched[t.ID] = true
		if !byTask[t.ID] {
			report.LostRuns = append(report.LostRuns, t)
		}
	}
	for _, s := range sessions {
		if !isDispatched[s.TaskID] {
			report.StaleSessions = append(report.StaleSessions, s)
		}
	}

	if report.Empty() {
		return nil, nil
	}
	return report, nil
}

// Recover repairs what CheckForOrphans finds. Lost runs go back to ready
// with dispatch status idle so they can be dispatched again; stale sessions
// are ended and flagged as aborted. The report of what was repaired is
// returned, nil when nothing needed repair.
func (rm *RecoveryManager) Recover(ctx context.Context, projectID string) (*OrphanReport, error) {
	report, err := rm.CheckForOrphans(ctx, projectID)
	if err != nil || report == nil {
		return nil, err
	}

	now := rm.now()
	for _, t := range report.LostRuns {
		patch := models.TaskPatch{
			DispatchStatus:  models.Ptr(models.DispatchIdle),
			ExpectedVersion: t.Version,
		}
		if t.Status == models.TaskStatusInProgress {
			patch.Status = models.Ptr(models.TaskStatusReady)
			patch.ReadyAt = models.SetTime(now)
		}
		if _, err := rm.db.UpdateTask(ctx, t.ID, patch); err != nil {
			return nil, fmt.Errorf("reset lost run %s: %w", t.ID, err)
		}
		rm.logger.Info("reset lost run", "task_id", t.ID, "project_id", t.ProjectID)
	}

	for i := range report.StaleSessions {
		s := &report.StaleSessions[i]
		reason := s.AbortReason
		if reason == "" {
			reason = "orphaned by restart"
		}
		err := rm.db.EndSession(ctx, s.Key, SessionEnd{At: now, Aborted: true, Reason: reason})
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("end stale session %s: %w", s.Key, err)
		}
		s.EndedAt = &now
		s.AbortedLastRun = true
		s.AbortReason = reason
		rm.logger.Info("ended stale session", "session_key", s.Key, "task_id", s.TaskID)
	}

	return report, nil
}

package orchestrator

import (
	"context"

	"github.com/ShayCichocki/foreman/internal/state"
	"github.com/ShayCichocki/foreman/pkg/cerr"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// CheckOrphans reports runs left inconsistent by an interrupted process
// without repairing them. projectID may be empty for every project.
func (s *Service) CheckOrphans(ctx context.Context, projectID string) (*state.OrphanReport, error) {
	rm := state.NewRecoveryManager(s.store, s.logger)
	rm.SetClock(s.now)
	report, err := rm.CheckForOrphans(ctx, projectID)
	if err != nil {
		return nil, cerr.WrapStoreError("orphaned runs", err)
	}
	return report, nil
}

// Recover repairs orphaned runs: dispatched tasks without a live session go
// back to ready, sessions whose task is no longer dispatched are ended as
// aborted. Counters of affected projects are rebuilt from the store.
func (s *Service) Recover(ctx context.Context, projectID string) (*state.OrphanReport, error) {
	rm := state.NewRecoveryManager(s.store, s.logger)
	rm.SetClock(s.now)
	report, err := rm.Recover(ctx, projectID)
	if err != nil {
		return nil, cerr.WrapStoreError("orphaned runs", err)
	}
	if report == nil {
		return nil, nil
	}

	touched := make(map[string]bool)
	for _, t := range report.LostRuns {
		touched[t.ProjectID] = true
		s.recordEvent(ctx, t, SystemActor, models.EventRunRecovered, map[string]string{"previousStatus": string(t.Status)})
	}
	for _, sess := range report.StaleSessions {
		touched[sess.ProjectID] = true
	}
	for p := range touched {
		s.loop.forget(p)
		if _, err := s.loop.Active(ctx, p); err != nil {
			s.logger.Warn("failed to rebuild agent counter", "project_id", p, "error", err)
			continue
		}
		s.loop.mirror(ctx, p)
	}
	return report, nil
}

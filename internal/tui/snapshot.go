// Package tui provides the live terminal dashboard behind "foreman watch".
package tui

import (
	"context"
	"time"

	"github.com/ShayCichocki/foreman/internal/orchestrator"
	"github.com/ShayCichocki/foreman/internal/state"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// Snapshot is everything the dashboard shows, read in one refresh.
type Snapshot struct {
	Project   string
	Gate      *orchestrator.GateStatus
	Loops     []models.WorkLoopState
	Runs      []orchestrator.Run
	Attention []models.Signal
	Ready     []*models.Task
	TakenAt   time.Time
}

// Source loads snapshots.
type Source interface {
	Load(ctx context.Context) (*Snapshot, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (*Snapshot, error)

// Load calls f.
func (f SourceFunc) Load(ctx context.Context) (*Snapshot, error) {
	return f(ctx)
}

// ServiceSource reads snapshots straight from a service. An empty project
// covers every project.
type ServiceSource struct {
	Svc     *orchestrator.Service
	Project string
	// ReadyLimit caps the ready queue. Zero means 20.
	ReadyLimit int
}

// Load implements Source.
func (s *ServiceSource) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Project: s.Project, TakenAt: time.Now()}

	var err error
	if snap.Gate, err = s.Svc.Gate(ctx, s.Project); err != nil {
		return nil, err
	}
	if snap.Attention, err = s.Svc.Attention(ctx, s.Project); err != nil {
		return nil, err
	}
	if snap.Runs, err = s.Svc.ListRuns(ctx, state.SessionFilter{ProjectID: s.Project, ActiveOnly: true}); err != nil {
		return nil, err
	}

	if s.Project != "" {
		st, err := s.Svc.WorkLoop().State(ctx, s.Project)
		if err != nil {
			return nil, err
		}
		snap.Loops = []models.WorkLoopState{*st}
	} else if snap.Loops, err = s.Svc.WorkLoop().ListStates(ctx); err != nil {
		return nil, err
	}

	limit := s.ReadyLimit
	if limit <= 0 {
		limit = 20
	}
	if s.Project != "" {
		if snap.Ready, err = s.Svc.NextReady(ctx, s.Project, limit); err != nil {
			return nil, err
		}
	} else {
		for _, loop := range snap.Loops {
			ready, err := s.Svc.NextReady(ctx, loop.ProjectID, limit)
			if err != nil {
				return nil, err
			}
			snap.Ready = append(snap.Ready, ready...)
		}
		if len(snap.Ready) > limit {
			snap.Ready = snap.Ready[:limit]
		}
	}
	return snap, nil
}

package orchestrator

import (
	"context"
	"sort"
	"time"

	"github.com/ShayCichocki/foreman/internal/state"
	"github.com/ShayCichocki/foreman/pkg/cerr"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// NextReady returns up to limit dispatch-eligible tasks of a project: ready
// tasks whose dependencies are all done. Oldest ready_at comes first, then
// higher priority, then creation order. limit <= 0 returns every eligible
// task.
func (s *Service) NextReady(ctx context.Context, projectID string, limit int) ([]*models.Task, error) {
	if projectID == "" {
		return nil, cerr.Validation("project id is required")
	}
	tasks, err := s.listTasks(ctx, state.TaskFilter{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	g, err := s.deps.graphFor(ctx, projectID)
	if err != nil {
		return nil, err
	}

	status := make(map[string]models.TaskStatus, len(tasks))
	for _, t := range tasks {
		status[t.ID] = t.Status
	}
	done := func(id string) bool {
		st, ok := status[id]
		return !ok || st == models.TaskStatusDone
	}

	var eligible []*models.Task
	for _, t := range tasks {
		if t.Status != models.TaskStatusReady {
			continue
		}
		if len(g.Incomplete(t.ID, done)) > 0 {
			continue
		}
		eligible = append(eligible, t)
	}
	sortReady(eligible)

	if limit > 0 && len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return eligible, nil
}

func sortReady(tasks []*models.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if ra, rb := readySince(a), readySince(b); !ra.Equal(rb) {
			return ra.Before(rb)
		}
		if pa, pb := a.Priority.Rank(), b.Priority.Rank(); pa != pb {
			return pa < pb
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// readySince falls back to created_at for rows written without ready_at.
func readySince(t *models.Task) time.Time {
	if t.ReadyAt != nil {
		return *t.ReadyAt
	}
	return t.CreatedAt
}

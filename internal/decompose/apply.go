package decompose

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/foreman/internal/orchestrator"
	"github.com/ShayCichocki/foreman/pkg/cerr"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// Result reports what Apply wrote.
type Result struct {
	Tasks []*models.Task `json:"tasks"`
	// Edges counts dependency edges that were new.
	Edges int `json:"edges"`
	// IDs maps plan keys to the IDs of the created tasks.
	IDs map[string]string `json:"ids"`
}

// Apply validates the plan and creates its tasks, dependencies first, then
// its edges. On failure the returned result holds what was already written.
func Apply(ctx context.Context, svc *orchestrator.Service, p *Plan, actor string) (*Result, error) {
	if v := Validate(p); !v.Valid {
		return nil, cerr.Validation("invalid plan: %v", v.Errors)
	}

	res := &Result{IDs: make(map[string]string, len(p.Tasks))}
	ordered := order(p.Tasks)
	for _, pt := range ordered {
		status := models.TaskStatusBacklog
		if pt.Ready {
			status = models.TaskStatusReady
		}
		task, err := svc.CreateTask(ctx, orchestrator.TaskInput{
			ID:          pt.ID,
			ProjectID:   p.Project,
			Title:       pt.Title,
			Description: pt.Description,
			Status:      status,
			Priority:    pt.Priority,
			Role:        pt.Role,
			AgentModel:  pt.AgentModel,
			Actor:       actor,
		})
		if err != nil {
			return res, fmt.Errorf("create %q: %w", pt.Key(), err)
		}
		res.Tasks = append(res.Tasks, task)
		res.IDs[pt.Key()] = task.ID
	}

	for _, pt := range ordered {
		for _, dep := range pt.DependsOn {
			added, err := svc.Dependencies().Add(ctx, res.IDs[pt.Key()], res.IDs[dep], actor)
			if err != nil {
				return res, fmt.Errorf("link %q -> %q: %w", pt.Key(), dep, err)
			}
			if added {
				res.Edges++
			}
		}
	}
	return res, nil
}

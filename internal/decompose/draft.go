package decompose

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/foreman/pkg/cerr"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// draftedTask is the JSON structure the model returns for a single task.
type draftedTask struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    string   `json:"priority"`
	Role        string   `json:"role"`
	DependsOn   []string `json:"depends_on"`
}

// Completer sends one prompt to a language model and returns its text reply.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Drafter turns a prose request into a plan.
type Drafter struct {
	model Completer
}

// NewDrafter creates a Drafter backed by model.
func NewDrafter(model Completer) *Drafter {
	return &Drafter{model: model}
}

// Draft asks the model to break request into tasks for project. The plan is
// validated but nothing is written; review it and pass it to Apply.
func (d *Drafter) Draft(ctx context.Context, project, request string) (*Plan, ValidationResult, error) {
	project = strings.TrimSpace(project)
	request = strings.TrimSpace(request)
	if project == "" || request == "" {
		return nil, ValidationResult{}, cerr.Validation("project and request are required")
	}

	response, err := d.model.Complete(ctx, draftSystemPrompt, fmt.Sprintf(draftPrompt, project, request))
	if err != nil {
		return nil, ValidationResult{}, cerr.NewError(cerr.Unavailable, "drafting plan failed", err)
	}

	tasks, err := ParseResponse(response)
	if err != nil {
		return nil, ValidationResult{}, err
	}
	plan := &Plan{Project: project, Tasks: tasks}
	return plan, Validate(plan), nil
}

// ParseResponse extracts the JSON task array from a model reply. Text
// around the array is ignored. Dependencies keep referring to titles.
func ParseResponse(response string) ([]PlanTask, error) {
	jsonStart := strings.Index(response, "[")
	jsonEnd := strings.LastIndex(response, "]")
	if jsonStart == -1 || jsonEnd == -1 || jsonEnd <= jsonStart {
		preview := response
		if len(preview) > 500 {
			preview = preview[:500] + "... (truncated)"
		}
		return nil, fmt.Errorf("no valid JSON array found in response (got %d chars): %q", len(response), preview)
	}

	var drafted []draftedTask
	if err := json.Unmarshal([]byte(response[jsonStart:jsonEnd+1]), &drafted); err != nil {
		return nil, fmt.Errorf("unmarshal JSON: %w", err)
	}
	if len(drafted) == 0 {
		return nil, fmt.Errorf("empty task list returned")
	}

	tasks := make([]PlanTask, len(drafted))
	for i, dt := range drafted {
		priority := models.Priority(strings.ToLower(strings.TrimSpace(dt.Priority)))
		if !priority.Valid() {
			priority = models.PriorityMedium
		}
		deps := make([]string, 0, len(dt.DependsOn))
		for _, dep := range dt.DependsOn {
			if dep = strings.TrimSpace(dep); dep != "" {
				deps = append(deps, dep)
			}
		}
		tasks[i] = PlanTask{
			Title:       strings.TrimSpace(dt.Title),
			Description: strings.TrimSpace(dt.Description),
			Priority:    priority,
			Role:        strings.TrimSpace(dt.Role),
			DependsOn:   deps,
		}
	}
	return tasks, nil
}

// Marshal renders a plan in the file format Parse reads.
func Marshal(p *Plan) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("encode plan: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode plan: %w", err)
	}
	return buf.Bytes(), nil
}

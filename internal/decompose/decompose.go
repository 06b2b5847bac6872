// Package decompose turns a project plan file into tasks and dependency edges.
package decompose

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// Plan is a project broken down into tasks.
//
//	project: billing
//	tasks:
//	  - id: schema
//	    title: Add invoice schema
//	    ready: true
//	  - title: Invoice API
//	    depends_on: [schema]
type Plan struct {
	Project string     `yaml:"project" json:"project"`
	Tasks   []PlanTask `yaml:"tasks" json:"tasks"`
}

// PlanTask is a single task in a plan. Dependencies name other tasks by ID,
// or by title for tasks without one.
type PlanTask struct {
	ID          string          `yaml:"id,omitempty" json:"id,omitempty"`
	Title       string          `yaml:"title" json:"title"`
	Description string          `yaml:"description,omitempty" json:"description,omitempty"`
	Priority    models.Priority `yaml:"priority,omitempty" json:"priority,omitempty"`
	Role        string          `yaml:"role,omitempty" json:"role,omitempty"`
	AgentModel  string          `yaml:"agent_model,omitempty" json:"agent_model,omitempty"`
	Ready       bool            `yaml:"ready,omitempty" json:"ready,omitempty"`
	DependsOn   []string        `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
}

// Key is the name other tasks in the plan use to refer to this one.
func (t PlanTask) Key() string {
	if t.ID != "" {
		return t.ID
	}
	return t.Title
}

// Parse decodes a YAML (or JSON) plan. It does not validate references; use
// Validate for that.
func Parse(data []byte) (*Plan, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("empty plan")
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p Plan
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}

	p.Project = strings.TrimSpace(p.Project)
	for i := range p.Tasks {
		t := &p.Tasks[i]
		t.ID = strings.TrimSpace(t.ID)
		t.Title = strings.TrimSpace(t.Title)
		for j, dep := range t.DependsOn {
			t.DependsOn[j] = strings.TrimSpace(dep)
		}
	}
	return &p, nil
}

// ValidateNoCycles checks that there are no circular dependencies among the
// plan's tasks. Dependencies on unknown keys are ignored here.
func ValidateNoCycles(tasks []PlanTask) error {
	byKey := make(map[string]*PlanTask, len(tasks))
	for i := range tasks {
		byKey[tasks[i].Key()] = &tasks[i]
	}

	state := make(map[string]int) // 0=unvisited, 1=visiting, 2=visited

	var visit func(key string, path []string) error
	visit = func(key string, path []string) error {
		if state[key] == 2 {
			return nil
		}
		if state[key] == 1 {
			cycleStart := 0
			for i, p := range path {
				if p == key {
					cycleStart = i
					break
				}
			}
			cycle := append(append([]string{}, path[cycleStart:]...), key)
			return fmt.Errorf("circular dependency detected: %s", strings.Join(cycle, " -> "))
		}

		state[key] = 1
		if task := byKey[key]; task != nil {
			for _, dep := range task.DependsOn {
				if err := visit(dep, append(path, key)); err != nil {
					return err
				}
			}
		}
		state[key] = 2
		return nil
	}

	for _, task := range tasks {
		if state[task.Key()] == 0 {
			if err := visit(task.Key(), nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// order returns the plan's tasks with every dependency ahead of its
// dependents, keeping file order otherwise. The plan must be acyclic.
func order(tasks []PlanTask) []PlanTask {
	byKey := make(map[string]PlanTask, len(tasks))
	for _, t := range tasks {
		byKey[t.Key()] = t
	}

	seen := make(map[string]bool, len(tasks))
	out := make([]PlanTask, 0, len(tasks))
	var visit func(t PlanTask)
	visit = func(t PlanTask) {
		if seen[t.Key()] {
			return
		}
		seen[t.Key()] = true
		for _, dep := range t.DependsOn {
			if d, ok := byKey[dep]; ok {
				visit(d)
			}
		}
		out = append(out, t)
	}
	for _, t := range tasks {
		visit(t)
	}
	return out
}

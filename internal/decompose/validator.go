package decompose

import (
	"fmt"
)

// ValidationResult contains the results of validating a plan.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Validate checks a plan before anything is written: every task needs a
// title, keys are unique, priorities are known, and dependencies resolve to
// tasks in the same plan without forming a cycle.
func Validate(p *Plan) ValidationResult {
	result := ValidationResult{
		Valid:    true,
		Errors:   []string{},
		Warnings: []string{},
	}

	if p.Project == "" {
		result.addError("project is required")
	}
	if len(p.Tasks) == 0 {
		result.addError("plan has no tasks")
		return result
	}

	keys := make(map[string]int, len(p.Tasks))
	for i, t := range p.Tasks {
		if t.Title == "" {
			result.addError("task %d: title is required", i+1)
			continue
		}
		if !t.Priority.Valid() {
			result.addError("task %q: unknown priority %q", t.Key(), t.Priority)
		}
		if prev, dup := keys[t.Key()]; dup {
			result.addError("task %d: duplicate key %q (also task %d)", i+1, t.Key(), prev)
			continue
		}
		keys[t.Key()] = i + 1
	}

	for _, t := range p.Tasks {
		if t.Title == "" {
			continue
		}
		deps := make(map[string]bool, len(t.DependsOn))
		for _, dep := range t.DependsOn {
			switch {
			case dep == t.Key():
				result.addError("task %q depends on itself", t.Key())
			case keys[dep] == 0:
				result.addError("unknown dependency %q for task %q", dep, t.Key())
			case deps[dep]:
				result.Warnings = append(result.Warnings, fmt.Sprintf("task %q lists dependency %q twice", t.Key(), dep))
			}
			deps[dep] = true
		}
		if t.Ready && len(t.DependsOn) > 0 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("task %q is ready but has dependencies; it will not be dispatched until they are done", t.Key()))
		}
	}

	if result.Valid {
		if err := ValidateNoCycles(p.Tasks); err != nil {
			result.addError("%v", err)
		}
	}
	return result
}

func (r *ValidationResult) addError(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

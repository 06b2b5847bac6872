package decompose

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ShayCichocki/foreman/internal/orchestrator"
	"github.com/ShayCichocki/foreman/internal/state"
	"github.com/ShayCichocki/foreman/pkg/cerr"
	"github.com/ShayCichocki/foreman/pkg/models"
)

const samplePlan = `
project: billing
tasks:
  - title: Invoice API
    priority: high
    depends_on: [schema]
  - id: schema
    title: Add invoice schema
    ready: true
  - title: Invoice emails
    role: backend
    agent_model: sonnet
    depends_on: [schema, Invoice API]
`

func TestParse_Valid(t *testing.T) {
	p, err := Parse([]byte(samplePlan))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if p.Project != "billing" {
		t.Errorf("Project = %q, want %q", p.Project, "billing")
	}
	if len(p.Tasks) != 3 {
		t.Fatalf("Expected 3 tasks, got %d", len(p.Tasks))
	}
	if p.Tasks[0].Priority != models.PriorityHigh {
		t.Errorf("Task 0 priority = %q, want high", p.Tasks[0].Priority)
	}
	if !p.Tasks[1].Ready {
		t.Error("Task 1 should be ready")
	}
	if got := p.Tasks[2].DependsOn; len(got) != 2 || got[1] != "Invoice API" {
		t.Errorf("Task 2 depends_on = %v", got)
	}
}

func TestParse_JSON(t *testing.T) {
	p, err := Parse([]byte(`{"project": "p1", "tasks": [{"title": "a"}, {"title": "b", "depends_on": ["a"]}]}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(p.Tasks) != 2 || p.Tasks[1].DependsOn[0] != "a" {
		t.Errorf("unexpected plan: %+v", p)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", "  \n"},
		{"not a map", "- a\n- b\n"},
		{"unknown field", "project: p1\ntasks:\n  - title: a\n    owner: me\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.input)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestKey(t *testing.T) {
	if got := (PlanTask{ID: "x", Title: "y"}).Key(); got != "x" {
		t.Errorf("Key() = %q, want x", got)
	}
	if got := (PlanTask{Title: "y"}).Key(); got != "y" {
		t.Errorf("Key() = %q, want y", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		plan      Plan
		wantValid bool
		wantErr   string
		wantWarn  string
	}{
		{
			name:      "valid",
			plan:      Plan{Project: "p", Tasks: []PlanTask{{Title: "a"}, {Title: "b", DependsOn: []string{"a"}}}},
			wantValid: true,
		},
		{
			name:    "missing project",
			plan:    Plan{Tasks: []PlanTask{{Title: "a"}}},
			wantErr: "project is required",
		},
		{
			name:    "no tasks",
			plan:    Plan{Project: "p"},
			wantErr: "no tasks",
		},
		{
			name:    "missing title",
			plan:    Plan{Project: "p", Tasks: []PlanTask{{ID: "a"}}},
			wantErr: "title is required",
		},
		{
			name:    "duplicate key",
			plan:    Plan{Project: "p", Tasks: []PlanTask{{Title: "a"}, {Title: "a"}}},
			wantErr: "duplicate key",
		},
		{
			name:    "bad priority",
			plan:    Plan{Project: "p", Tasks: []PlanTask{{Title: "a", Priority: "asap"}}},
			wantErr: "unknown priority",
		},
		{
			name:    "unknown dependency",
			plan:    Plan{Project: "p", Tasks: []PlanTask{{Title: "a", DependsOn: []string{"ghost"}}}},
			wantErr: `unknown dependency "ghost"`,
		},
		{
			name:    "self dependency",
			plan:    Plan{Project: "p", Tasks: []PlanTask{{Title: "a", DependsOn: []string{"a"}}}},
			wantErr: "depends on itself",
		},
		{
			name: "cycle",
			plan: Plan{Project: "p", Tasks: []PlanTask{
				{Title: "a", DependsOn: []string{"b"}},
				{Title: "b", DependsOn: []string{"a"}},
			}},
			wantErr: "circular dependency",
		},
		{
			name:      "ready with dependencies warns",
			plan:      Plan{Project: "p", Tasks: []PlanTask{{Title: "a"}, {Title: "b", Ready: true, DependsOn: []string{"a"}}}},
			wantValid: true,
			wantWarn:  "is ready but has dependencies",
		},
		{
			name:      "repeated dependency warns",
			plan:      Plan{Project: "p", Tasks: []PlanTask{{Title: "a"}, {Title: "b", DependsOn: []string{"a", "a"}}}},
			wantValid: true,
			wantWarn:  "twice",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(&tt.plan)
			if res.Valid != tt.wantValid {
				t.Fatalf("Valid = %v, want %v (errors %v)", res.Valid, tt.wantValid, res.Errors)
			}
			if tt.wantErr != "" && !strings.Contains(strings.Join(res.Errors, "; "), tt.wantErr) {
				t.Errorf("errors %v should mention %q", res.Errors, tt.wantErr)
			}
			if tt.wantWarn != "" && !strings.Contains(strings.Join(res.Warnings, "; "), tt.wantWarn) {
				t.Errorf("warnings %v should mention %q", res.Warnings, tt.wantWarn)
			}
		})
	}
}

func TestValidateNoCycles(t *testing.T) {
	tests := []struct {
		name    string
		tasks   []PlanTask
		wantErr bool
	}{
		{"empty", nil, false},
		{"single", []PlanTask{{Title: "a"}}, false},
		{"chain", []PlanTask{{Title: "a"}, {Title: "b", DependsOn: []string{"a"}}, {Title: "c", DependsOn: []string{"b"}}}, false},
		{"diamond", []PlanTask{
			{Title: "a"},
			{Title: "b", DependsOn: []string{"a"}},
			{Title: "c", DependsOn: []string{"a"}},
			{Title: "d", DependsOn: []string{"b", "c"}},
		}, false},
		{"missing dependency ignored", []PlanTask{{Title: "a", DependsOn: []string{"ghost"}}}, false},
		{"self", []PlanTask{{Title: "a", DependsOn: []string{"a"}}}, true},
		{"indirect", []PlanTask{
			{Title: "a", DependsOn: []string{"c"}},
			{Title: "b", DependsOn: []string{"a"}},
			{Title: "c", DependsOn: []string{"b"}},
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNoCycles(tt.tasks)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateNoCycles() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateNoCycles_ReportsPath(t *testing.T) {
	err := ValidateNoCycles([]PlanTask{
		{Title: "a", DependsOn: []string{"b"}},
		{Title: "b", DependsOn: []string{"a"}},
	})
	if err == nil || !strings.Contains(err.Error(), "a -> b -> a") {
		t.Errorf("error = %v, want the cycle path", err)
	}
}

func TestOrder(t *testing.T) {
	p, err := Parse([]byte(samplePlan))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	var keys []string
	for _, pt := range order(p.Tasks) {
		keys = append(keys, pt.Key())
	}
	want := "schema,Invoice API,Invoice emails"
	if got := strings.Join(keys, ","); got != want {
		t.Errorf("order = %s, want %s", got, want)
	}
}

func newService(t *testing.T) *orchestrator.Service {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "foreman.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return orchestrator.New(db, orchestrator.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func TestApply(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	p, err := Parse([]byte(samplePlan))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	res, err := Apply(ctx, svc, p, "alice")
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(res.Tasks) != 3 {
		t.Fatalf("created %d tasks, want 3", len(res.Tasks))
	}
	if res.Edges != 3 {
		t.Errorf("Edges = %d, want 3", res.Edges)
	}
	if res.IDs["schema"] != "schema" {
		t.Errorf("explicit id not kept: %q", res.IDs["schema"])
	}

	schema, err := svc.GetTask(ctx, "schema")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if schema.Status != models.TaskStatusReady || schema.ProjectID != "billing" {
		t.Errorf("schema = %s/%s, want ready in billing", schema.Status, schema.ProjectID)
	}

	emails := res.IDs["Invoice emails"]
	deps, err := svc.Dependencies().List(ctx, emails)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(deps) != 2 {
		t.Errorf("emails depends on %v, want 2 tasks", deps)
	}
	task, err := svc.GetTask(ctx, emails)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != models.TaskStatusBacklog || task.Role != "backend" || task.AgentModel != "sonnet" {
		t.Errorf("emails task = %+v", task)
	}
}

func TestApply_InvalidPlan(t *testing.T) {
	svc := newService(t)
	_, err := Apply(context.Background(), svc, &Plan{Project: "p"}, "alice")
	if cerr.CodeOf(err) != cerr.InvalidArgument {
		t.Errorf("code = %v, want invalid_argument (err %v)", cerr.CodeOf(err), err)
	}
}

func TestApply_ExistingID(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	if _, err := svc.CreateTask(ctx, orchestrator.TaskInput{ID: "b", ProjectID: "p", Title: "taken"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	p := &Plan{Project: "p", Tasks: []PlanTask{{ID: "a", Title: "first"}, {ID: "b", Title: "second"}}}
	res, err := Apply(ctx, svc, p, "alice")
	if cerr.CodeOf(err) != cerr.AlreadyExists {
		t.Fatalf("code = %v, want already_exists (err %v)", cerr.CodeOf(err), err)
	}
	if len(res.Tasks) != 1 || res.Tasks[0].ID != "a" {
		t.Errorf("partial result = %v, want task a", res.Tasks)
	}
}

package orchestrator

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/ShayCichocki/foreman/pkg/cerr"
	"github.com/ShayCichocki/foreman/pkg/models"
)

func TestSortReady(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		v := base.Add(d)
		return &v
	}
	tasks := []*models.Task{
		{ID: "late", ReadyAt: at(time.Hour), Priority: models.PriorityUrgent, CreatedAt: base},
		{ID: "low", ReadyAt: at(0), Priority: models.PriorityLow, CreatedAt: base},
		{ID: "high", ReadyAt: at(0), Priority: models.PriorityHigh, CreatedAt: base.Add(time.Second)},
		{ID: "b-med", ReadyAt: at(0), CreatedAt: base},
		{ID: "a-med", ReadyAt: at(0), Priority: models.PriorityMedium, CreatedAt: base},
		{ID: "newer-med", ReadyAt: at(0), CreatedAt: base.Add(time.Minute)},
		{ID: "no-ready-at", CreatedAt: base.Add(-time.Hour)},
	}
	sortReady(tasks)

	want := []string{"no-ready-at", "high", "a-med", "b-med", "newer-med", "low", "late"}
	if got := ids(tasks); !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestNextReady(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.seed(t, "r1", "p1", models.TaskStatusReady)
	env.clock.Advance(time.Second)
	env.seed(t, "r2", "p1", models.TaskStatusReady)
	env.clock.Advance(time.Second)
	env.seed(t, "r3", "p1", models.TaskStatusReady)
	env.seed(t, "b1", "p1", models.TaskStatusBacklog)
	env.seed(t, "d1", "p1", models.TaskStatusDone)
	env.seed(t, "x1", "p2", models.TaskStatusReady)

	deps := env.svc.Dependencies()
	for _, e := range [][2]string{{"r1", "b1"}, {"r2", "d1"}} {
		if _, err := deps.Add(ctx, e[0], e[1], ""); err != nil {
			t.Fatalf("Add(%s, %s): %v", e[0], e[1], err)
		}
	}

	tests := []struct {
		name  string
		limit int
		want  []string
	}{
		{"all", 0, []string{"r2", "r3"}},
		{"limited", 1, []string{"r2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := env.svc.NextReady(ctx, "p1", tt.limit)
			if err != nil {
				t.Fatalf("NextReady: %v", err)
			}
			if !reflect.DeepEqual(ids(got), tt.want) {
				t.Errorf("NextReady = %v, want %v", ids(got), tt.want)
			}
		})
	}

	if _, err := env.svc.NextReady(ctx, "", 0); !cerr.IsCode(err, cerr.InvalidArgument) {
		t.Errorf("NextReady(\"\") error = %v, want InvalidArgument", err)
	}
}

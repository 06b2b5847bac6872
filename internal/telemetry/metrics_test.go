package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.Admitted(ctx, "p1")
	m.Rejected(ctx, "p1")
	m.Released(ctx, "p1")
	m.CycleFinished(ctx, "p1", time.Second, nil)
}

func TestDisabledProvider(t *testing.T) {
	p, err := Init(false)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if p.Enabled() {
		t.Error("disabled provider reports enabled")
	}
	p.Metrics.Admitted(context.Background(), "p1")
	points, err := p.Snapshot(context.Background())
	if err != nil || points != nil {
		t.Errorf("Snapshot = %v, %v; want nil", points, err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestSnapshot(t *testing.T) {
	p, err := Init(true)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	ctx := context.Background()
	p.Metrics.Admitted(ctx, "p1")
	p.Metrics.Admitted(ctx, "p1")
	p.Metrics.Released(ctx, "p1")
	p.Metrics.Rejected(ctx, "p2")
	p.Metrics.CycleFinished(ctx, "p1", 2*time.Second, errors.New("boom"))

	points, err := p.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	got := make(map[string]Point)
	for _, pt := range points {
		got[pt.Name+"/"+pt.ProjectID] = pt
	}

	checks := map[string]float64{
		"foreman.workloop.admissions/p1":          2,
		"foreman.workloop.active_agents/p1":       1,
		"foreman.workloop.capacity_rejections/p2": 1,
		"foreman.driver.cycle_errors/p1":          1,
		"foreman.driver.cycle.duration/p1":        2,
	}
	for key, want := range checks {
		pt, ok := got[key]
		if !ok {
			t.Errorf("missing point %s in %+v", key, points)
			continue
		}
		if pt.Value != want {
			t.Errorf("%s = %v, want %v", key, pt.Value, want)
		}
	}
	if got["foreman.driver.cycle.duration/p1"].Count != 1 {
		t.Errorf("histogram count = %d, want 1", got["foreman.driver.cycle.duration/p1"].Count)
	}
}

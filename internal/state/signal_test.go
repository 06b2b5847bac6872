package state

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ShayCichocki/foreman/pkg/models"
)

func TestListSignals_SeverityThenNewest(t *testing.T) {
	clock := newTestClock()
	db := setupTestDB(t, WithClock(clock.Now))
	ctx := context.Background()

	for i, sev := range []models.Severity{models.SeverityNormal, models.SeverityCritical, models.SeverityHigh, models.SeverityNormal} {
		clock.Advance(time.Second)
		sig := &models.Signal{
			ID:        fmt.Sprintf("s%d", i),
			ProjectID: "p1",
			Kind:      models.SignalBlocker,
			Severity:  sev,
			Message:   "m",
			Blocking:  true,
		}
		if err := db.CreateSignal(ctx, sig); err != nil {
			t.Fatalf("CreateSignal: %v", err)
		}
	}

	signals, err := db.ListSignals(ctx, SignalFilter{ProjectID: "p1"})
	if err != nil {
		t.Fatalf("ListSignals: %v", err)
	}
	var got []string
	for _, s := range signals {
		got = append(got, s.ID)
	}
	if want := "[s1 s2 s3 s0]"; fmt.Sprint(got) != want {
		t.Errorf("order = %v, want %s", got, want)
	}
}

func TestListSignals_Filters(t *testing.T) {
	clock := newTestClock()
	db := setupTestDB(t, WithClock(clock.Now))
	ctx := context.Background()

	create := func(id, task string, kind models.SignalKind) {
		t.Helper()
		clock.Advance(time.Second)
		sig := &models.Signal{
			ID: id, TaskID: task, ProjectID: "p1", Kind: kind,
			Severity: models.SeverityNormal, Message: id, Blocking: kind.Blocking(),
		}
		if err := db.CreateSignal(ctx, sig); err != nil {
			t.Fatalf("CreateSignal: %v", err)
		}
	}
	create("q1", "t1", models.SignalQuestion)
	create("f1", "t1", models.SignalFYI)
	create("b1", "t2", models.SignalBlocker)
	if _, err := db.RespondSignal(ctx, "b1", "done", "alice", clock.Now()); err != nil {
		t.Fatalf("RespondSignal: %v", err)
	}

	tests := []struct {
		name   string
		filter SignalFilter
		want   string
	}{
		{"task", SignalFilter{TaskID: "t1"}, "[f1 q1]"},
		{"kind", SignalFilter{Kind: models.SignalQuestion}, "[q1]"},
		{"blocking", SignalFilter{BlockingOnly: true}, "[b1 q1]"},
		{"unresponded", SignalFilter{UnrespondedOnly: true}, "[f1 q1]"},
		{"blocking unresponded", SignalFilter{BlockingOnly: true, UnrespondedOnly: true}, "[q1]"},
		{"limit", SignalFilter{Limit: 1}, "[b1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signals, err := db.ListSignals(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListSignals: %v", err)
			}
			var got []string
			for _, s := range signals {
				got = append(got, s.ID)
			}
			if fmt.Sprint(got) != tt.want {
				t.Errorf("ListSignals = %v, want %s", got, tt.want)
			}
		})
	}
}

func TestRespondSignal(t *testing.T) {
	clock := newTestClock()
	db := setupTestDB(t, WithClock(clock.Now))
	ctx := context.Background()

	sig := &models.Signal{ID: "s1", Kind: models.SignalQuestion, Severity: models.SeverityHigh, Message: "which db?", Blocking: true}
	if err := db.CreateSignal(ctx, sig); err != nil {
		t.Fatalf("CreateSignal: %v", err)
	}

	out, err := db.RespondSignal(ctx, "s1", "sqlite", "bob", clock.Now())
	if err != nil {
		t.Fatalf("RespondSignal: %v", err)
	}
	if out.Pending() || out.Response != "sqlite" || out.RespondedBy != "bob" {
		t.Errorf("responded signal = %+v", out)
	}

	stored, _ := db.GetSignal(ctx, "s1")
	if stored.RespondedAt == nil || !stored.RespondedAt.Equal(clock.Now()) {
		t.Errorf("stored RespondedAt = %v", stored.RespondedAt)
	}

	if _, err := db.RespondSignal(ctx, "s1", "again", "bob", clock.Now()); !errors.Is(err, ErrConflict) {
		t.Errorf("second RespondSignal error = %v, want ErrConflict", err)
	}
	if _, err := db.RespondSignal(ctx, "missing", "x", "bob", clock.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("RespondSignal(missing) error = %v, want ErrNotFound", err)
	}
}

package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ShayCichocki/foreman/pkg/models"
)

func TestWorkLoopState_LazyUpsert(t *testing.T) {
	db := setupTestDB(t, WithDefaultMaxAgents(4))
	ctx := context.Background()

	got, err := db.GetWorkLoopState(ctx, "p1")
	if err != nil {
		t.Fatalf("GetWorkLoopState: %v", err)
	}
	if got != nil {
		t.Fatalf("state before first upsert = %+v, want nil", got)
	}

	running := models.WorkLoopRunning
	st, err := db.UpsertWorkLoopState(ctx, "p1", models.WorkLoopPatch{Status: &running})
	if err != nil {
		t.Fatalf("UpsertWorkLoopState: %v", err)
	}
	if st.Status != running || st.CurrentCycle != 0 || st.ActiveAgents != 0 || st.MaxAgents != 4 {
		t.Errorf("created state = %+v", st)
	}

	st, err = db.UpsertWorkLoopState(ctx, "p1", models.WorkLoopPatch{
		CurrentCycle: models.Ptr(int64(7)),
		ActiveAgents: models.Ptr(2),
	})
	if err != nil {
		t.Fatalf("UpsertWorkLoopState merge: %v", err)
	}
	if st.Status != running || st.CurrentCycle != 7 || st.ActiveAgents != 2 {
		t.Errorf("merged state = %+v", st)
	}

	states, err := db.ListWorkLoopStates(ctx)
	if err != nil || len(states) != 1 {
		t.Fatalf("ListWorkLoopStates = %v, %v", states, err)
	}
}

func TestWorkLoopState_RejectsInvariantViolations(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		patch models.WorkLoopPatch
	}{
		{"empty", models.WorkLoopPatch{}},
		{"active above max", models.WorkLoopPatch{ActiveAgents: models.Ptr(4)}},
		{"zero max", models.WorkLoopPatch{MaxAgents: models.Ptr(0)}},
		{"negative active", models.WorkLoopPatch{ActiveAgents: models.Ptr(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := db.UpsertWorkLoopState(ctx, "p1", tt.patch); !errors.Is(err, ErrInvalid) {
				t.Errorf("UpsertWorkLoopState error = %v, want ErrInvalid", err)
			}
		})
	}
	if st, _ := db.GetWorkLoopState(ctx, "p1"); st != nil {
		t.Errorf("rejected upserts created a row: %+v", st)
	}
}

func TestSessions(t *testing.T) {
	clock := newTestClock()
	db := setupTestDB(t, WithClock(clock.Now))
	ctx := context.Background()
	mustCreateTask(t, db, newTask("t1", "p1", models.TaskStatusInProgress))

	first := &models.AgentSession{Key: "k1", ProjectID: "p1", TaskID: "t1", AgentID: "a1"}
	if err := db.CreateSession(ctx, first); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	active, err := db.ActiveSessionForTask(ctx, "t1")
	if err != nil || active == nil || active.Key != "k1" {
		t.Fatalf("ActiveSessionForTask = %+v, %v", active, err)
	}
	if active.Reported() {
		t.Error("new session reported activity")
	}

	clock.Advance(time.Minute)
	beat := clock.Now()
	if err := db.TouchSession(ctx, "k1", beat); err != nil {
		t.Fatalf("TouchSession: %v", err)
	}
	got, _ := db.GetSession(ctx, "k1")
	if got.LastActivityAt == nil || !got.LastActivityAt.Equal(beat) {
		t.Errorf("LastActivityAt = %v, want %v", got.LastActivityAt, beat)
	}

	clock.Advance(time.Minute)
	ended := clock.Now()
	if err := db.EndSession(ctx, "k1", SessionEnd{At: ended}); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if active, _ := db.ActiveSessionForTask(ctx, "t1"); active != nil {
		t.Errorf("ended session still active: %+v", active)
	}
	if latest, _ := db.LatestSessionForTask(ctx, "t1"); latest == nil || latest.Key != "k1" {
		t.Errorf("LatestSessionForTask = %+v", latest)
	}

	tests := []struct {
		name string
		fn   func() error
		want error
	}{
		{"touch missing", func() error { return db.TouchSession(ctx, "missing", ended) }, ErrNotFound},
		{"end missing", func() error { return db.EndSession(ctx, "missing", SessionEnd{At: ended}) }, ErrNotFound},
		{"ack missing", func() error { return db.AckSessionAbort(ctx, "missing", ended) }, ErrNotFound},
		{"touch ended", func() error { return db.TouchSession(ctx, "k1", ended.Add(time.Hour)) }, ErrConflict},
		{"end twice", func() error { return db.EndSession(ctx, "k1", SessionEnd{At: ended.Add(time.Hour), Aborted: true, Reason: "late"}) }, ErrConflict},
		{"ack not aborted", func() error { return db.AckSessionAbort(ctx, "k1", ended) }, ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}

	got, _ = db.GetSession(ctx, "k1")
	if got.EndedAt == nil || !got.EndedAt.Equal(ended) || got.AbortedLastRun || got.AbortReason != "" {
		t.Errorf("rejected writes changed the session: %+v", got)
	}
	if !got.LastActivityAt.Equal(beat) {
		t.Errorf("LastActivityAt = %v after a rejected touch, want %v", got.LastActivityAt, beat)
	}

	if s, err := db.GetSession(ctx, "missing"); s != nil || err != nil {
		t.Errorf("GetSession(missing) = %+v, %v", s, err)
	}
}

func TestListSessions_And_Purge(t *testing.T) {
	clock := newTestClock()
	db := setupTestDB(t, WithClock(clock.Now))
	ctx := context.Background()

	old := clock.Now()
	sessions := []*models.AgentSession{
		{Key: "old", ProjectID: "p1", TaskID: "t1", EndedAt: &old},
		{Key: "live", ProjectID: "p1", TaskID: "t2"},
		{Key: "other", ProjectID: "p2", TaskID: "t3"},
	}
	for _, s := range sessions {
		clock.Advance(time.Second)
		s.StartedAt = clock.Now()
		if err := db.CreateSession(ctx, s); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}

	list, err := db.ListSessions(ctx, SessionFilter{ProjectID: "p1"})
	if err != nil || len(list) != 2 || list[0].Key != "live" {
		t.Fatalf("ListSessions(p1) = %+v, %v", list, err)
	}
	list, _ = db.ListSessions(ctx, SessionFilter{ActiveOnly: true})
	if len(list) != 2 {
		t.Errorf("active sessions = %d, want 2", len(list))
	}

	clock.Advance(48 * time.Hour)
	n, err := db.PurgeEndedSessions(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PurgeEndedSessions: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d sessions, want 1", n)
	}
	if s, _ := db.GetSession(ctx, "live"); s == nil {
		t.Error("running session was purged")
	}
}

func TestAppendAudit(t *testing.T) {
	clock := newTestClock()
	db := setupTestDB(t, WithClock(clock.Now))
	ctx := context.Background()
	mustCreateTask(t, db, newTask("t1", "p1", models.TaskStatusReady))

	for _, id := range []string{"c1", "c2"} {
		clock.Advance(time.Second)
		c := &models.Comment{ID: id, TaskID: "t1", Author: "alice", AuthorType: models.AuthorHuman, Content: id, Type: models.CommentTriage}
		e := &models.Event{ID: "e-" + id, TaskID: "t1", ProjectID: "p1", Actor: "alice", Kind: models.EventTaskKilled, Payload: []byte(`{"n":1}`)}
		if err := db.AppendAudit(ctx, c, e); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}

	comments, err := db.ListComments(ctx, "t1")
	if err != nil || len(comments) != 2 || comments[0].ID != "c1" || comments[1].ID != "c2" {
		t.Fatalf("ListComments = %+v, %v", comments, err)
	}
	events, err := db.ListEvents(ctx, EventFilter{TaskID: "t1", Kind: models.EventTaskKilled})
	if err != nil || len(events) != 2 || string(events[0].Payload) != `{"n":1}` {
		t.Fatalf("ListEvents = %+v, %v", events, err)
	}

	// A comment on a missing task fails the whole write, event included.
	bad := &models.Comment{ID: "c3", TaskID: "missing", Author: "a", AuthorType: models.AuthorHuman, Content: "x", Type: models.CommentNote}
	if err := db.AppendAudit(ctx, bad, &models.Event{ID: "e3", Actor: "a", Kind: models.EventTaskKilled}); err == nil {
		t.Fatal("expected AppendAudit to fail")
	}
	if events, _ := db.ListEvents(ctx, EventFilter{}); len(events) != 2 {
		t.Errorf("event from failed audit write persisted: %d events", len(events))
	}
}

func TestRecoveryManager(t *testing.T) {
	clock := newTestClock()
	db := setupTestDB(t, WithClock(clock.Now))
	ctx := context.Background()

	lost := newTask("lost", "p1", models.TaskStatusInProgress)
	lost.DispatchStatus = models.DispatchDispatched
	mustCreateTask(t, db, lost)

	healthy := newTask("healthy", "p1", models.TaskStatusInProgress)
	healthy.DispatchStatus = models.DispatchDispatched
	mustCreateTask(t, db, healthy)
	mustCreateTask(t, db, newTask("finished", "p1", models.TaskStatusDone))

	for _, s := range []*models.AgentSession{
		{Key: "k-healthy", ProjectID: "p1", TaskID: "healthy"},
		{Key: "k-stale", ProjectID: "p1", TaskID: "finished"},
	} {
		if err := db.CreateSession(ctx, s); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}

	rm := NewRecoveryManager(db, nil)
	report, err := rm.CheckForOrphans(ctx, "p1")
	if err != nil {
		t.Fatalf("CheckForOrphans: %v", err)
	}
	if len(report.LostRuns) != 1 || report.LostRuns[0].ID != "lost" {
		t.Errorf("LostRuns = %+v", report.LostRuns)
	}
	if len(report.StaleSessions) != 1 || report.StaleSessions[0].Key != "k-stale" {
		t.Errorf("StaleSessions = %+v", report.StaleSessions)
	}

	if _, err := rm.Recover(ctx, "p1"); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	task, _ := db.GetTask(ctx, "lost")
	if task.Status != models.TaskStatusReady || task.DispatchStatus != models.DispatchIdle || task.ReadyAt == nil {
		t.Errorf("lost task after recovery = status %q dispatch %q ready_at %v", task.Status, task.DispatchStatus, task.ReadyAt)
	}
	stale, _ := db.GetSession(ctx, "k-stale")
	if stale.Active() || !stale.AbortedLastRun {
		t.Errorf("stale session after recovery = %+v", stale)
	}

	report, err = rm.CheckForOrphans(ctx, "p1")
	if err != nil || report != nil {
		t.Errorf("second check = %+v, %v; want nil", report, err)
	}
}

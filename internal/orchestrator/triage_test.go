package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/foreman/internal/state"
	"github.com/ShayCichocki/foreman/pkg/cerr"
	"github.com/ShayCichocki/foreman/pkg/models"
)

func TestSplit(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	parent := &models.Task{ID: "t1", ProjectID: "P", Title: "big", Status: models.TaskStatusReady, Priority: models.PriorityHigh, Role: "backend"}
	if err := env.db.CreateTask(ctx, parent); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	res, err := env.svc.Split(ctx, "t1", "alice", []SubtaskInput{
		{Title: "A"},
		{Title: "B", Role: "frontend"},
	})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	if len(res.Subtasks) != 2 {
		t.Fatalf("subtasks = %d, want 2", len(res.Subtasks))
	}
	for _, c := range res.Subtasks {
		got := env.get(t, c.ID)
		if got.ProjectID != "P" || got.Status != models.TaskStatusReady || got.Priority != models.PriorityHigh || got.ReadyAt == nil {
			t.Errorf("subtask %s = %+v", got.Title, got)
		}
	}
	if res.Subtasks[0].Role != "backend" || res.Subtasks[1].Role != "frontend" {
		t.Errorf("roles = %q, %q", res.Subtasks[0].Role, res.Subtasks[1].Role)
	}

	p := env.get(t, "t1")
	if p.Status != models.TaskStatusDone || p.Resolution != models.ResolutionDiscarded || p.CompletedAt == nil || p.TriageAckedAt == nil {
		t.Errorf("parent = %+v", p)
	}
	comments := env.comments(t, "t1")
	if len(comments) != 1 || comments[0].Type != models.CommentTriage ||
		!strings.Contains(comments[0].Content, "A") || !strings.Contains(comments[0].Content, "B") {
		t.Errorf("comments = %+v", comments)
	}
	events, _ := env.db.ListEvents(ctx, state.EventFilter{TaskID: "t1", Kind: models.EventTaskSplit})
	if len(events) != 1 {
		t.Errorf("split events = %d, want 1", len(events))
	}

	if _, err := env.svc.Split(ctx, "t1", "alice", []SubtaskInput{{Title: "C"}}); !cerr.IsCode(err, cerr.FailedPrecondition) {
		t.Errorf("second split error = %v, want FailedPrecondition", err)
	}
}

func TestSplit_Validation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seed(t, "t1", "p1", models.TaskStatusReady)

	tests := []struct {
		name     string
		id       string
		subtasks []SubtaskInput
		want     cerr.Code
	}{
		{"no subtasks", "t1", nil, cerr.InvalidArgument},
		{"blank title", "t1", []SubtaskInput{{Title: "a"}, {Title: " "}}, cerr.InvalidArgument},
		{"bad priority", "t1", []SubtaskInput{{Title: "a", Priority: "asap"}}, cerr.InvalidArgument},
		{"unknown task", "nope", []SubtaskInput{{Title: "a"}}, cerr.NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Split(ctx, tt.id, "alice", tt.subtasks)
			if got := cerr.CodeOf(err); got != tt.want {
				t.Errorf("code = %v, want %v (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestSplit_SubtaskFailureLeavesNothing(t *testing.T) {
	env, fs := newFaultyEnv(t)
	ctx := context.Background()
	before := env.seed(t, "t1", "p1", models.TaskStatusReady)
	fs.set(func(f *faultyStore) {
		f.createErr = errors.New("disk full")
		f.createFailAt = 2
	})

	_, err := env.svc.Split(ctx, "t1", "alice", []SubtaskInput{{Title: "A"}, {Title: "B"}, {Title: "C"}})
	if !cerr.IsCode(err, cerr.Unavailable) {
		t.Fatalf("Split error = %v, want Unavailable", err)
	}

	tasks, _ := env.db.ListTasks(ctx, state.TaskFilter{ProjectID: "p1"})
	if got := ids(tasks); len(got) != 1 || got[0] != "t1" {
		t.Errorf("project tasks = %v, want [t1]", got)
	}
	p := env.get(t, "t1")
	if p.Status != models.TaskStatusReady || p.Version != before.Version {
		t.Errorf("parent touched: %+v", p)
	}
	if c := env.comments(t, "t1"); len(c) != 0 {
		t.Errorf("comments = %+v", c)
	}
}

func TestSplit_AuditFailureRestoresParent(t *testing.T) {
	env, fs := newFaultyEnv(t)
	ctx := context.Background()
	env.seed(t, "t1", "p1", models.TaskStatusReady)
	fs.set(func(f *faultyStore) { f.auditErr = errors.New("disk full") })

	if _, err := env.svc.Split(ctx, "t1", "alice", []SubtaskInput{{Title: "A"}, {Title: "B"}}); err == nil {
		t.Fatal("Split succeeded with a failing audit log")
	}

	p := env.get(t, "t1")
	if p.Status != models.TaskStatusReady || p.Resolution != models.ResolutionNone || p.CompletedAt != nil || p.TriageAckedAt != nil {
		t.Errorf("parent not restored: %+v", p)
	}
	tasks, _ := env.db.ListTasks(ctx, state.TaskFilter{ProjectID: "p1"})
	if len(tasks) != 1 {
		t.Errorf("subtasks survived: %v", ids(tasks))
	}
}

func TestKillThenReassign(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.start(t, "p1", 1)
	env.seed(t, "t1", "p1", models.TaskStatusReady)
	res, err := env.svc.Dispatch(ctx, DispatchInput{TaskID: "t1"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	dispatchComments := len(env.comments(t, "t1"))

	env.clock.Advance(time.Minute)
	killed, err := env.svc.Kill(ctx, "t1", "alice", "wrong approach")
	if err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if killed.Status != models.TaskStatusBacklog || killed.DispatchStatus != models.DispatchIdle || killed.ReadyAt != nil {
		t.Errorf("killed task = %+v", killed)
	}
	sess, _ := env.db.GetSession(ctx, res.Session.Key)
	if sess.Active() || !sess.AbortedLastRun || !strings.Contains(sess.AbortReason, "wrong approach") {
		t.Errorf("session after kill = %+v", sess)
	}
	if n, _ := env.svc.WorkLoop().Active(ctx, "p1"); n != 0 {
		t.Errorf("active = %d after kill", n)
	}

	env.clock.Advance(time.Minute)
	t2 := env.clock.Now()
	role := "reviewer"
	task, err := env.svc.Reassign(ctx, ReassignInput{TaskID: "t1", Actor: "bob", Role: &role})
	if err != nil {
		t.Fatalf("Reassign: %v", err)
	}
	if task.Status != models.TaskStatusReady || task.Role != "reviewer" || task.Assignee != "" ||
		task.TriageAckedAt == nil || !task.TriageAckedAt.Equal(t2) {
		t.Errorf("reassigned task = %+v", task)
	}

	comments := env.comments(t, "t1")[dispatchComments:]
	if len(comments) != 2 {
		t.Fatalf("triage comments = %d, want 2", len(comments))
	}
	if comments[0].Content != "Task moved to backlog (killed). Reason: wrong approach" {
		t.Errorf("kill comment = %q", comments[0].Content)
	}
	if !strings.HasPrefix(comments[1].Content, "Task reassigned and moved to ready.") || !strings.Contains(comments[1].Content, `role ("" to "reviewer")`) {
		t.Errorf("reassign comment = %q", comments[1].Content)
	}
}

func TestKill_Twice(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seed(t, "t1", "p1", models.TaskStatusInReview)

	for i := 0; i < 2; i++ {
		task, err := env.svc.Kill(ctx, "t1", "", "")
		if err != nil {
			t.Fatalf("Kill #%d: %v", i+1, err)
		}
		if task.Status != models.TaskStatusBacklog {
			t.Errorf("status = %s", task.Status)
		}
	}
	comments := env.comments(t, "t1")
	if len(comments) != 2 {
		t.Fatalf("comments = %d, want 2", len(comments))
	}
	if comments[0].Author != SystemActor || !strings.HasSuffix(comments[0].Content, "no reason given") {
		t.Errorf("comment = %+v", comments[0])
	}
}

func TestReassign_NoChanges(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seed(t, "t1", "p1", models.TaskStatusDone)

	task, err := env.svc.Reassign(ctx, ReassignInput{TaskID: "t1", Actor: "bob"})
	if err != nil {
		t.Fatalf("Reassign: %v", err)
	}
	if task.Status != models.TaskStatusReady || task.CompletedAt != nil {
		t.Errorf("task = %+v", task)
	}
	comments := env.comments(t, "t1")
	if len(comments) != 1 || !strings.HasSuffix(comments[0].Content, "No fields changed.") {
		t.Errorf("comments = %+v", comments)
	}
}

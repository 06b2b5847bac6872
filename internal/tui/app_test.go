package tui

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/foreman/internal/orchestrator"
	"github.com/ShayCichocki/foreman/internal/state"
	"github.com/ShayCichocki/foreman/pkg/models"
)

func testSnapshot() *Snapshot {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &Snapshot{
		Project: "billing",
		Gate: &orchestrator.GateStatus{
			NeedsAttention: true,
			Details:        orchestrator.GateDetails{ReadyTasks: 2, PendingSignals: 1},
		},
		Loops: []models.WorkLoopState{
			{ProjectID: "billing", Status: models.WorkLoopRunning, ActiveAgents: 1, MaxAgents: 3, CurrentPhase: "build"},
		},
		Runs: []orchestrator.Run{
			{AgentSession: models.AgentSession{Key: "run-1", TaskID: "t1", AgentID: "agent-a", StartedAt: now.Add(-5 * time.Minute)}, Status: models.ActivityRunning},
			{AgentSession: models.AgentSession{Key: "run-2", TaskID: "t2", AgentID: "agent-b", StartedAt: now.Add(-2 * time.Hour)}, Status: models.ActivityIdle, Stuck: true},
		},
		Attention: []models.Signal{
			{ID: "s1", TaskID: "t1", Kind: models.SignalQuestion, Severity: models.SeverityHigh, Message: "Which currency?", Blocking: true, CreatedAt: now.Add(-time.Minute)},
		},
		Ready: []*models.Task{
			{ID: "t3", ProjectID: "billing", Title: "Invoice emails", Priority: models.PriorityHigh},
		},
		TakenAt: now,
	}
}

func newTestApp(source Source) *App {
	a := NewApp(context.Background(), source, time.Second)
	a.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	a.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return a
}

func key(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestApp_LoadingView(t *testing.T) {
	a := newTestApp(nil)
	view := a.View()
	if !strings.Contains(view, "Loading") {
		t.Errorf("view before first snapshot should say loading:\n%s", view)
	}
	if !strings.Contains(view, "waiting for data") {
		t.Errorf("header should wait for data:\n%s", view)
	}
}

func TestApp_Refresh(t *testing.T) {
	calls := 0
	a := newTestApp(SourceFunc(func(ctx context.Context) (*Snapshot, error) {
		calls++
		return testSnapshot(), nil
	}))

	msg := a.refresh()()
	if _, ok := msg.(snapshotMsg); !ok {
		t.Fatalf("refresh returned %T, want snapshotMsg", msg)
	}
	_, cmd := a.Update(msg)
	if cmd == nil {
		t.Error("a snapshot should schedule the next refresh")
	}
	if calls != 1 {
		t.Errorf("source called %d times, want 1", calls)
	}
	if a.loading {
		t.Error("still loading after snapshot")
	}

	view := a.View()
	for _, want := range []string{"NEEDS ATTENTION", "billing", "running", "1/3 agents", "build", "Runs 2", "Signals 1", "Ready 1"} {
		if !strings.Contains(view, want) {
			t.Errorf("overview missing %q:\n%s", want, view)
		}
	}
}

func TestApp_Tabs(t *testing.T) {
	a := newTestApp(nil)
	a.Update(snapshotMsg{snap: testSnapshot()})

	tests := []struct {
		key  string
		tab  int
		want []string
	}{
		{"2", TabRuns, []string{"run-1", "agent-a", "stuck", "5m ago"}},
		{"3", TabSignals, []string{"Which currency?", "question", "task t1"}},
		{"4", TabReady, []string{"Invoice emails", "high"}},
		{"tab", TabOverview, []string{"Pending signals", "Work loops"}},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			a.Update(key(tt.key))
			if a.tabs.Active() != tt.tab {
				t.Fatalf("active tab = %d, want %d", a.tabs.Active(), tt.tab)
			}
			view := a.View()
			for _, want := range tt.want {
				if !strings.Contains(view, want) {
					t.Errorf("view missing %q:\n%s", want, view)
				}
			}
		})
	}
}

func TestApp_Scroll(t *testing.T) {
	a := newTestApp(nil)
	a.Update(snapshotMsg{snap: testSnapshot()})

	a.Update(key("up"))
	if a.offset != 0 {
		t.Errorf("offset = %d after scrolling up at the top", a.offset)
	}
	a.Update(key("down"))
	a.Update(key("j"))
	if a.offset != 2 {
		t.Errorf("offset = %d, want 2", a.offset)
	}
	a.Update(key("2"))
	if a.offset != 0 {
		t.Errorf("switching tabs should reset offset, got %d", a.offset)
	}
}

func TestApp_ErrorKeepsLastSnapshot(t *testing.T) {
	a := newTestApp(nil)
	a.Update(snapshotMsg{snap: testSnapshot()})
	a.Update(snapshotMsg{err: errors.New("storage unavailable")})

	if a.snap == nil {
		t.Fatal("error dropped the last snapshot")
	}
	view := a.View()
	if !strings.Contains(view, "storage unavailable") {
		t.Errorf("footer should show the error:\n%s", view)
	}
	if !strings.Contains(view, "NEEDS ATTENTION") {
		t.Errorf("view should keep the last gate:\n%s", view)
	}
}

func TestApp_TickWhileLoading(t *testing.T) {
	a := newTestApp(nil)
	if _, cmd := a.Update(tickMsg(time.Now())); cmd != nil {
		t.Error("tick during a refresh should not start another")
	}
	a.Update(snapshotMsg{snap: testSnapshot()})
	if _, cmd := a.Update(tickMsg(time.Now())); cmd == nil || !a.loading {
		t.Error("tick after a refresh should start the next one")
	}
}

func TestApp_Quit(t *testing.T) {
	a := newTestApp(nil)
	_, cmd := a.Update(key("q"))
	if cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
	if a.View() != "" {
		t.Error("view after quit should be empty")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly-10", 10, "exactly-10"},
		{"much-too-long", 5, "much…"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestClip(t *testing.T) {
	lines := []string{"a", "b", "c", "d"}
	if got := clip(lines, 1, 2); got != "b\nc" {
		t.Errorf("clip = %q", got)
	}
	if got := clip(lines, 10, 2); got != "" {
		t.Errorf("clip past the end = %q", got)
	}
	if got := clip(lines, 0, 0); got != "a\nb\nc\nd" {
		t.Errorf("clip without height = %q", got)
	}
}

func TestServiceSource(t *testing.T) {
	db, err := state.Open(filepath.Join(t.TempDir(), "foreman.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	svc := orchestrator.New(db, orchestrator.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	ctx := context.Background()

	for _, title := range []string{"a", "b"} {
		if _, err := svc.CreateTask(ctx, orchestrator.TaskInput{ProjectID: "p1", Title: title, Status: models.TaskStatusReady}); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}
	if _, err := svc.WorkLoop().Start(ctx, "p1"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, project := range []string{"p1", ""} {
		src := &ServiceSource{Svc: svc, Project: project}
		snap, err := src.Load(ctx)
		if err != nil {
			t.Fatalf("Load(%q): %v", project, err)
		}
		if !snap.Gate.NeedsAttention || snap.Gate.Details.ReadyTasks != 2 {
			t.Errorf("Load(%q) gate = %+v", project, snap.Gate)
		}
		if len(snap.Loops) != 1 || snap.Loops[0].Status != models.WorkLoopRunning {
			t.Errorf("Load(%q) loops = %+v", project, snap.Loops)
		}
		if len(snap.Ready) != 2 {
			t.Errorf("Load(%q) ready = %d tasks, want 2", project, len(snap.Ready))
		}
	}
}

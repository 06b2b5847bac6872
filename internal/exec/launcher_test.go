package exec

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"

	"github.com/ShayCichocki/foreman/pkg/models"
)

type fakeRunner struct {
	workDir string
	env     []string
	name    string
	args    []string
	err     error
	calls   int
}

func (f *fakeRunner) Start(workDir string, env []string, name string, args ...string) (int, error) {
	f.calls++
	f.workDir, f.env, f.name, f.args = workDir, env, name, args
	if f.err != nil {
		return 0, f.err
	}
	return 4242, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRun() (*models.Task, *models.AgentSession) {
	task := &models.Task{ID: "t1", ProjectID: "p1", Title: "add login", Role: "backend"}
	sess := &models.AgentSession{Key: "s1", ProjectID: "p1", TaskID: "t1", AgentID: "agent-1"}
	return task, sess
}

func TestLaunch(t *testing.T) {
	runner := &fakeRunner{}
	l := NewLauncher("claude -p \"$FOREMAN_TASK_TITLE\"",
		WithRunner(runner),
		WithWorkDir("/src/app"),
		WithAPIURL("http://127.0.0.1:7420"),
		WithLogger(testLogger()),
	)
	task, sess := testRun()
	if err := l.Launch(context.Background(), task, sess); err != nil {
		t.Fatalf("Launch: %v", err)
	}

	if runner.workDir != "/src/app" {
		t.Errorf("workDir = %q", runner.workDir)
	}
	if runner.name != "sh" || !slices.Equal(runner.args, []string{"-c", "claude -p \"$FOREMAN_TASK_TITLE\""}) {
		t.Errorf("command = %s %v", runner.name, runner.args)
	}
	for _, want := range []string{
		"FOREMAN_TASK_ID=t1",
		"FOREMAN_PROJECT_ID=p1",
		"FOREMAN_SESSION_KEY=s1",
		"FOREMAN_AGENT_ID=agent-1",
		"FOREMAN_TASK_TITLE=add login",
		"FOREMAN_ROLE=backend",
		"FOREMAN_API_URL=http://127.0.0.1:7420",
	} {
		if !slices.Contains(runner.env, want) {
			t.Errorf("env missing %s: %v", want, runner.env)
		}
	}
}

func TestLaunchErrors(t *testing.T) {
	task, sess := testRun()
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name      string
		command   string
		runnerErr error
		ctx       context.Context
		wantCalls int
	}{
		{"no command", "  ", nil, context.Background(), 0},
		{"canceled", "true", nil, canceled, 0},
		{"start fails", "true", errors.New("no such file"), context.Background(), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{err: tt.runnerErr}
			l := NewLauncher(tt.command, WithRunner(runner), WithLogger(testLogger()))
			if err := l.Launch(tt.ctx, task, sess); err == nil {
				t.Fatal("Launch succeeded, want error")
			}
			if runner.calls != tt.wantCalls {
				t.Errorf("runner called %d times, want %d", runner.calls, tt.wantCalls)
			}
		})
	}
}

func TestEnvWithoutAPIURL(t *testing.T) {
	task, sess := testRun()
	for _, kv := range Env(task, sess, "") {
		if len(kv) >= len(EnvAPIURL) && kv[:len(EnvAPIURL)] == EnvAPIURL {
			t.Errorf("unexpected %s", kv)
		}
	}
}

func TestExecRunnerStart(t *testing.T) {
	r := NewRunner(testLogger())
	pid, err := r.Start(t.TempDir(), []string{"FOREMAN_TASK_ID=t1"}, "sh", "-c", "exit 0")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if pid <= 0 {
		t.Errorf("pid = %d", pid)
	}

	if _, err := r.Start("", nil, "/nonexistent/foreman-agent"); err == nil {
		t.Error("Start of missing binary succeeded")
	}
}

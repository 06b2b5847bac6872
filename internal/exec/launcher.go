package exec

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// Environment variables handed to every launched agent.
const (
	EnvTaskID     = "FOREMAN_TASK_ID"
	EnvProjectID  = "FOREMAN_PROJECT_ID"
	EnvSessionKey = "FOREMAN_SESSION_KEY"
	EnvAgentID    = "FOREMAN_AGENT_ID"
	EnvTaskTitle  = "FOREMAN_TASK_TITLE"
	EnvRole       = "FOREMAN_ROLE"
	EnvAgentModel = "FOREMAN_AGENT_MODEL"
	EnvAPIURL     = "FOREMAN_API_URL"
)

// Launcher runs a shell command for each dispatched run. The command finds
// out what to work on from the FOREMAN_* environment and reports back
// through the API.
type Launcher struct {
	runner  CommandRunner
	command string
	workDir string
	apiURL  string
	logger  *slog.Logger
}

// LauncherOption configures a Launcher.
type LauncherOption func(*Launcher)

// WithRunner replaces the process runner. Used by tests.
func WithRunner(r CommandRunner) LauncherOption {
	return func(l *Launcher) { l.runner = r }
}

// WithWorkDir sets the directory agents start in.
func WithWorkDir(dir string) LauncherOption {
	return func(l *Launcher) { l.workDir = dir }
}

// WithAPIURL sets the address agents use to report back.
func WithAPIURL(url string) LauncherOption {
	return func(l *Launcher) { l.apiURL = url }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) LauncherOption {
	return func(l *Launcher) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLauncher creates a Launcher for command, run through sh -c.
func NewLauncher(command string, opts ...LauncherOption) *Launcher {
	l := &Launcher{command: command, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	if l.runner == nil {
		l.runner = NewRunner(l.logger)
	}
	return l
}

// Launch starts the agent for a dispatched run. It returns once the process
// is running; the run's outcome is reported by the agent itself.
func (l *Launcher) Launch(ctx context.Context, task *models.Task, session *models.AgentSession) error {
	if strings.TrimSpace(l.command) == "" {
		return fmt.Errorf("no launch command configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	pid, err := l.runner.Start(l.workDir, Env(task, session, l.apiURL), "sh", "-c", l.command)
	if err != nil {
		return fmt.Errorf("launch agent for task %s: %w", task.ID, err)
	}
	l.logger.Info("agent launched", "task_id", task.ID, "session_key", session.Key, "pid", pid)
	return nil
}

// Env returns the FOREMAN_* variables describing a run.
func Env(task *models.Task, session *models.AgentSession, apiURL string) []string {
	env := []string{
		EnvTaskID + "=" + task.ID,
		EnvProjectID + "=" + task.ProjectID,
		EnvSessionKey + "=" + session.Key,
		EnvAgentID + "=" + session.AgentID,
		EnvTaskTitle + "=" + task.Title,
		EnvRole + "=" + task.Role,
		EnvAgentModel + "=" + task.AgentModel,
	}
	if apiURL != "" {
		env = append(env, EnvAPIURL+"="+apiURL)
	}
	return env
}

package exec

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
)

// ExecRunner implements CommandRunner using os/exec.
type ExecRunner struct {
	logger *slog.Logger
}

// NewRunner creates a new ExecRunner. Exits are logged to logger.
func NewRunner(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{logger: logger}
}

// Start launches the command and reaps it in the background.
func (r *ExecRunner) Start(workDir string, env []string, name string, args ...string) (int, error) {
	cmd := exec.Command(name, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", name, err)
	}
	pid := cmd.Process.Pid
	go func() {
		if err := cmd.Wait(); err != nil {
			r.logger.Warn("agent process exited with error", "pid", pid, "error", err)
			return
		}
		r.logger.Debug("agent process exited", "pid", pid)
	}()
	return pid, nil
}

// Verify ExecRunner implements CommandRunner at compile time.
var _ CommandRunner = (*ExecRunner)(nil)

// Package exec starts agent processes for dispatched runs.
package exec

// CommandRunner starts external commands. This abstraction allows mocking
// process creation in tests.
type CommandRunner interface {
	// Start launches name with args and returns once the process is running.
	// env is appended to the current environment. The working directory is
	// set to workDir if non-empty. The process is not tied to any context:
	// an agent run outlives the cycle that dispatched it.
	Start(workDir string, env []string, name string, args ...string) (pid int, err error)
}

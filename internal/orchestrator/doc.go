// Package orchestrator enforces the task lifecycle for agent work.
//
// The package provides:
//   - Dependency management: a per-project graph that rejects cycles
//   - Task lifecycle: ready, dispatch, completion and approval transitions
//   - Work loop coordination: per-project admission against max_agents
//   - Signal gate: a single "needs attention" answer for external drivers
//   - Triage: forced kill, reassign and split with audit records
//
// Every entry point takes a context and talks to persistence through
// state.Store. Failures are returned as *cerr.Error so callers can tell
// retryable conditions from permanent ones.
//
// Example usage:
//
//	db, _ := state.Open(path)
//	svc := orchestrator.New(db, orchestrator.WithLogger(logger))
//	gate, err := svc.Gate(ctx, "proj-1")
//	if err == nil && gate.NeedsAttention {
//		tasks, _ := svc.NextReady(ctx, "proj-1", 1)
//		...
//	}
package orchestrator

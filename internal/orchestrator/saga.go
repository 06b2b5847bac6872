package orchestrator

import (
	"context"
	"log/slog"
)

// step is one action of a composite operation together with the action
// that undoes it. undo may be nil for steps with nothing to undo.
type step struct {
	name string
	do   func(ctx context.Context) error
	undo func(ctx context.Context) error
}

// saga runs steps in order. When a step fails, the undo of every step that
// already succeeded runs in reverse order and the step's error is returned.
type saga struct {
	name   string
	logger *slog.Logger
	steps  []step
}

func newSaga(name string, logger *slog.Logger) *saga {
	return &saga{name: name, logger: logger}
}

func (s *saga) add(name string, do, undo func(ctx context.Context) error) {
	s.steps = append(s.steps, step{name: name, do: do, undo: undo})
}

func (s *saga) run(ctx context.Context) error {
	for i, st := range s.steps {
		if err := st.do(ctx); err != nil {
			s.logger.Warn("composite operation failed, compensating",
				"operation", s.name, "step", st.name, "error", err)
			s.compensate(ctx, i)
			return err
		}
	}
	return nil
}

// compensate undoes steps[0:failed]. It detaches from ctx cancellation:
// a caller that gave up must not leave half the operation applied.
func (s *saga) compensate(ctx context.Context, failed int) {
	ctx = context.WithoutCancel(ctx)
	for i := failed - 1; i >= 0; i-- {
		st := s.steps[i]
		if st.undo == nil {
			continue
		}
		if err := st.undo(ctx); err != nil {
			s.logger.Error("compensation failed",
				"operation", s.name, "step", st.name, "error", err)
		}
	}
}

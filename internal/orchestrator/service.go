package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ShayCichocki/foreman/internal/state"
	"github.com/ShayCichocki/foreman/internal/telemetry"
	"github.com/ShayCichocki/foreman/pkg/cerr"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// Service is the orchestration core. It owns the dependency graphs and the
// work loop counters for every project it touches, so a process should
// create exactly one Service per store.
type Service struct {
	store   state.Store
	deps    *Dependencies
	loop    *Coordinator
	logger  *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
	timeout time.Duration
}

// New creates a Service over store.
func New(store state.Store, opts ...Option) *Service {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	s := &Service{
		store:   store,
		logger:  o.logger,
		metrics: o.metrics,
		now:     o.now,
		timeout: o.storeTimeout,
	}
	s.deps = newDependencies(s)
	s.loop = newCoordinator(s, o.defaultMaxAgents)
	return s
}

// Dependencies returns the dependency manager.
func (s *Service) Dependencies() *Dependencies {
	return s.deps
}

// WorkLoop returns the work loop coordinator.
func (s *Service) WorkLoop() *Coordinator {
	return s.loop
}

// Store returns the underlying store.
func (s *Service) Store() state.Store {
	return s.store
}

// call runs fn under the store timeout and translates its error.
func call[T any](ctx context.Context, s *Service, target string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	v, err := fn(ctx)
	if err != nil {
		var zero T
		return zero, cerr.WrapStoreError(target, err)
	}
	return v, nil
}

// exec is call for store operations that only return an error.
func (s *Service) exec(ctx context.Context, target string, fn func(ctx context.Context) error) error {
	_, err := call(ctx, s, target, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// task loads a task, failing with NotFound when it does not exist.
func (s *Service) task(ctx context.Context, id string) (*models.Task, error) {
	if strings.TrimSpace(id) == "" {
		return nil, cerr.Validation("task id is required")
	}
	t, err := call(ctx, s, "task "+id, func(ctx context.Context) (*models.Task, error) {
		return s.store.GetTask(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, cerr.NotFoundf("task %s not found", id)
	}
	return t, nil
}

// updateTask applies a patch through the store.
func (s *Service) updateTask(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error) {
	return call(ctx, s, "task "+id, func(ctx context.Context) (*models.Task, error) {
		return s.store.UpdateTask(ctx, id, patch)
	})
}

// restoreTask puts back the fields a forced transition changed. The patch
// is version-checked against the write it undoes so a later writer is never
// clobbered.
func (s *Service) restoreTask(ctx context.Context, prev, written *models.Task) error {
	patch := models.RestorePatch(prev)
	patch.ExpectedVersion = written.Version
	_, err := s.updateTask(ctx, prev.ID, patch)
	return err
}

// transitionError maps a rejected state machine move to FailedPrecondition.
func transitionError(t *models.Task, to models.TaskStatus) error {
	if err := models.ValidateTransition(t.Status, to); err != nil {
		return cerr.NewError(cerr.FailedPrecondition, "task "+t.ID+" cannot move from "+string(t.Status)+" to "+string(to), err)
	}
	return nil
}

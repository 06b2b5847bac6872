package orchestrator

import (
	"context"
	"sync"

	"github.com/ShayCichocki/foreman/internal/state"
	"github.com/ShayCichocki/foreman/pkg/cerr"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// Coordinator is the per-project concurrency controller. It owns the
// active_agents counter: admissions and releases happen in memory, and the
// persisted work loop row mirrors the result.
//
// Every admission, release and state update of a project runs in that
// project's lane, so an admission sees the status and max_agents it is
// checked against until its slot is counted.
type Coordinator struct {
	svc *Service
	// defaultMax is max_agents for projects without a stored row.
	defaultMax int
	// mu protects projects and lanes. It is never held across a store call.
	mu sync.Mutex
	// projects maps project ID to its counter record.
	projects map[string]*loopRecord
	// lanes serializes the writers of each project. A lane is held across
	// store calls and never taken twice by the same caller.
	lanes map[string]chan struct{}
}

type loopRecord struct {
	status models.WorkLoopStatus
	max    int
	// holders lists the tasks holding a slot; active == len(holders).
	holders  map[string]struct{}
	hydrated bool
}

func newCoordinator(svc *Service, defaultMax int) *Coordinator {
	return &Coordinator{
		svc:        svc,
		defaultMax: defaultMax,
		projects:   make(map[string]*loopRecord),
		lanes:      make(map[string]chan struct{}),
	}
}

// acquire takes the project's lane. The returned func releases it.
func (c *Coordinator) acquire(ctx context.Context, projectID string) (func(), error) {
	c.mu.Lock()
	lane, ok := c.lanes[projectID]
	if !ok {
		lane = make(chan struct{}, 1)
		c.lanes[projectID] = lane
	}
	c.mu.Unlock()

	select {
	case lane <- struct{}{}:
		return func() { <-lane }, nil
	case <-ctx.Done():
		return nil, cerr.WrapStoreError("work loop lane for project "+projectID, ctx.Err())
	}
}

// record returns the project's record. Caller holds c.mu.
func (c *Coordinator) record(projectID string) *loopRecord {
	rec, ok := c.projects[projectID]
	if !ok {
		rec = &loopRecord{holders: make(map[string]struct{})}
		c.projects[projectID] = rec
	}
	return rec
}

// hydrate rebuilds the counter from tasks marked dispatched the first time
// a project is touched by this process.
func (c *Coordinator) hydrate(ctx context.Context, projectID string) error {
	c.mu.Lock()
	done := c.record(projectID).hydrated
	c.mu.Unlock()
	if done {
		return nil
	}

	tasks, err := c.svc.listTasks(ctx, state.TaskFilter{ProjectID: projectID, DispatchStatus: models.DispatchDispatched})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.record(projectID)
	if rec.hydrated {
		return nil
	}
	for _, t := range tasks {
		rec.holders[t.ID] = struct{}{}
	}
	rec.hydrated = true
	return nil
}

// forget drops a project's counter so it is rebuilt from the store.
func (c *Coordinator) forget(projectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.projects, projectID)
}

// Active returns the number of slots currently held for a project.
func (c *Coordinator) Active(ctx context.Context, projectID string) (int, error) {
	if err := c.hydrate(ctx, projectID); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.record(projectID).holders), nil
}

// Slot is one admitted agent run. Release gives it back exactly once no
// matter how many times it is called.
type Slot struct {
	ProjectID string
	TaskID    string

	c    *Coordinator
	once sync.Once
}

// Release returns the slot to the project.
func (s *Slot) Release(ctx context.Context) {
	s.once.Do(func() {
		s.c.Release(ctx, s.ProjectID, s.TaskID)
	})
}

// Admit reserves a slot for taskID. It fails with FailedPrecondition when
// the project's loop is not running and with ResourceExhausted when
// active_agents has reached max_agents. The state read, the check and the
// increment happen in the project's lane.
func (c *Coordinator) Admit(ctx context.Context, projectID, taskID string) (*Slot, error) {
	if projectID == "" {
		return nil, cerr.Validation("project id is required")
	}
	release, err := c.acquire(ctx, projectID)
	if err != nil {
		return nil, err
	}
	defer release()

	st, err := c.State(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := c.hydrate(ctx, projectID); err != nil {
		return nil, err
	}

	c.mu.Lock()
	rec := c.record(projectID)
	rec.status = st.Status
	rec.max = st.MaxAgents
	if _, held := rec.holders[taskID]; held {
		c.mu.Unlock()
		return nil, cerr.Conflictf("task %s already holds a slot in project %s", taskID, projectID)
	}
	if rec.status != models.WorkLoopRunning {
		c.mu.Unlock()
		return nil, cerr.Preconditionf("work loop for project %s is %s", projectID, rec.status)
	}
	if len(rec.holders) >= rec.max {
		active := len(rec.holders)
		c.mu.Unlock()
		c.svc.metrics.Rejected(ctx, projectID)
		return nil, cerr.Capacityf("project %s is at capacity (%d/%d agents)", projectID, active, rec.max)
	}
	rec.holders[taskID] = struct{}{}
	c.mu.Unlock()

	c.svc.metrics.Admitted(ctx, projectID)
	c.mirror(ctx, projectID)
	return &Slot{ProjectID: projectID, TaskID: taskID, c: c}, nil
}

// Release frees the slot held for taskID. Releasing a slot that is not held
// is a no-op, so every exit path of a run may call it.
func (c *Coordinator) Release(ctx context.Context, projectID, taskID string) bool {
	ctx = context.WithoutCancel(ctx)
	release, err := c.acquire(ctx, projectID)
	if err != nil {
		return false
	}
	defer release()

	if err := c.hydrate(ctx, projectID); err != nil {
		c.svc.logger.Warn("release without hydrated counter", "project_id", projectID, "error", err)
	}

	c.mu.Lock()
	rec := c.record(projectID)
	_, held := rec.holders[taskID]
	delete(rec.holders, taskID)
	c.mu.Unlock()
	if !held {
		return false
	}

	c.svc.metrics.Released(ctx, projectID)
	c.mirror(ctx, projectID)
	return true
}

// mirror persists the in-memory counter. Caller holds the project's lane,
// so mirrors of one project land in counter order.
func (c *Coordinator) mirror(ctx context.Context, projectID string) {
	ctx = context.WithoutCancel(ctx)
	c.mu.Lock()
	active := len(c.record(projectID).holders)
	c.mu.Unlock()

	_, err := call(ctx, c.svc, "work loop of project "+projectID, func(ctx context.Context) (*models.WorkLoopState, error) {
		return c.svc.store.UpsertWorkLoopState(ctx, projectID, models.WorkLoopPatch{ActiveAgents: &active})
	})
	if err != nil {
		c.svc.logger.Warn("failed to persist active agents", "project_id", projectID, "active_agents", active, "error", err)
	}
}

// State returns the project's work loop state. A project that has never
// been updated reports the defaults without creating a row.
func (c *Coordinator) State(ctx context.Context, projectID string) (*models.WorkLoopState, error) {
	if projectID == "" {
		return nil, cerr.Validation("project id is required")
	}
	st, err := call(ctx, c.svc, "work loop of project "+projectID, func(ctx context.Context) (*models.WorkLoopState, error) {
		return c.svc.store.GetWorkLoopState(ctx, projectID)
	})
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = models.NewWorkLoopState(projectID, c.defaultMax)
	}
	return st, nil
}

// ListStates returns every stored work loop.
func (c *Coordinator) ListStates(ctx context.Context) ([]models.WorkLoopState, error) {
	return call(ctx, c.svc, "work loops", func(ctx context.Context) ([]models.WorkLoopState, error) {
		return c.svc.store.ListWorkLoopStates(ctx)
	})
}

// UpsertState creates the project's row on first use, else merges patch.
// active_agents belongs to the coordinator and cannot be set here; a status
// change must be a legal loop transition; max_agents may not drop below
// the slots currently held. No admission lands between the checks and the
// write.
func (c *Coordinator) UpsertState(ctx context.Context, projectID string, patch models.WorkLoopPatch) (*models.WorkLoopState, error) {
	if projectID == "" {
		return nil, cerr.Validation("project id is required")
	}
	if patch.ActiveAgents != nil {
		return nil, cerr.Validation("active_agents is maintained by the coordinator")
	}
	if err := patch.Validate(); err != nil {
		return nil, cerr.NewError(cerr.InvalidArgument, "invalid work loop update: "+err.Error(), err)
	}
	release, err := c.acquire(ctx, projectID)
	if err != nil {
		return nil, err
	}
	defer release()

	current, err := call(ctx, c.svc, "work loop of project "+projectID, func(ctx context.Context) (*models.WorkLoopState, error) {
		return c.svc.store.GetWorkLoopState(ctx, projectID)
	})
	if err != nil {
		return nil, err
	}
	if current == nil {
		if patch.MaxAgents == nil {
			patch.MaxAgents = &c.defaultMax
		}
		current = models.NewWorkLoopState(projectID, c.defaultMax)
	}
	if patch.Status != nil && !models.CanTransitionLoop(current.Status, *patch.Status) {
		return nil, cerr.Preconditionf("work loop for project %s cannot move from %s to %s", projectID, current.Status, *patch.Status)
	}
	if patch.MaxAgents != nil {
		active, err := c.Active(ctx, projectID)
		if err != nil {
			return nil, err
		}
		if *patch.MaxAgents < active {
			return nil, cerr.Validation("max_agents %d is below the %d agents currently running", *patch.MaxAgents, active)
		}
	}

	st, err := call(ctx, c.svc, "work loop of project "+projectID, func(ctx context.Context) (*models.WorkLoopState, error) {
		return c.svc.store.UpsertWorkLoopState(ctx, projectID, patch)
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	rec := c.record(projectID)
	rec.status = st.Status
	rec.max = st.MaxAgents
	c.mu.Unlock()
	return st, nil
}

func (c *Coordinator) setStatus(ctx context.Context, projectID string, to models.WorkLoopStatus, message string) (*models.WorkLoopState, error) {
	patch := models.WorkLoopPatch{Status: &to, ErrorMessage: &message}
	st, err := c.UpsertState(ctx, projectID, patch)
	if err != nil {
		return nil, err
	}
	c.svc.logger.Info("work loop status changed", "project_id", projectID, "status", to)
	return st, nil
}

// Start moves the loop to running from any state.
func (c *Coordinator) Start(ctx context.Context, projectID string) (*models.WorkLoopState, error) {
	return c.setStatus(ctx, projectID, models.WorkLoopRunning, "")
}

// Stop moves the loop to stopped. Runs already admitted keep their slots.
func (c *Coordinator) Stop(ctx context.Context, projectID string) (*models.WorkLoopState, error) {
	return c.setStatus(ctx, projectID, models.WorkLoopStopped, "")
}

// Pause moves a running loop to paused.
func (c *Coordinator) Pause(ctx context.Context, projectID string) (*models.WorkLoopState, error) {
	return c.setStatus(ctx, projectID, models.WorkLoopPaused, "")
}

// Resume moves a paused loop back to running. Resuming a running loop is a
// no-op; any other state needs Start.
func (c *Coordinator) Resume(ctx context.Context, projectID string) (*models.WorkLoopState, error) {
	st, err := c.State(ctx, projectID)
	if err != nil {
		return nil, err
	}
	switch st.Status {
	case models.WorkLoopRunning:
		return st, nil
	case models.WorkLoopPaused:
		return c.setStatus(ctx, projectID, models.WorkLoopRunning, "")
	default:
		return nil, cerr.Preconditionf("work loop for project %s is %s, not paused", projectID, st.Status)
	}
}

// Fail moves a running loop to error and records why.
func (c *Coordinator) Fail(ctx context.Context, projectID string, cause error) (*models.WorkLoopState, error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	c.svc.logger.Error("work loop cycle failed", "project_id", projectID, "error", cause)
	return c.setStatus(ctx, projectID, models.WorkLoopError, msg)
}

// BeginCycle advances current_cycle and stamps last_cycle_at.
func (c *Coordinator) BeginCycle(ctx context.Context, projectID string) (*models.WorkLoopState, error) {
	st, err := c.State(ctx, projectID)
	if err != nil {
		return nil, err
	}
	next := st.CurrentCycle + 1
	phase := "dispatch"
	return c.UpsertState(ctx, projectID, models.WorkLoopPatch{
		CurrentCycle: &next,
		CurrentPhase: &phase,
		LastCycleAt:  models.SetTime(c.svc.now()),
	})
}

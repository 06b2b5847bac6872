package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/ShayCichocki/foreman/pkg/cerr"
	"github.com/ShayCichocki/foreman/pkg/clog"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// Launcher starts the agent for a dispatched task. Returning an error
// aborts the run and frees its slot.
type Launcher interface {
	Launch(ctx context.Context, task *models.Task, session *models.AgentSession) error
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, task *models.Task, session *models.AgentSession) error

// Launch calls f.
func (f LauncherFunc) Launch(ctx context.Context, task *models.Task, session *models.AgentSession) error {
	return f(ctx, task, session)
}

// DriverConfig configures a Driver.
type DriverConfig struct {
	// Interval between cycles.
	Interval time.Duration
	// Batch caps dispatch attempts per project per cycle.
	Batch int
	// Launcher is optional; without one, dispatched runs wait for an
	// external agent to pick them up.
	Launcher Launcher
	Logger   *slog.Logger
}

// CycleResult summarizes one project's cycle.
type CycleResult struct {
	ProjectID  string     `json:"project_id"`
	Cycle      int64      `json:"cycle"`
	Gate       GateStatus `json:"gate"`
	Dispatched []string   `json:"dispatched,omitempty"`
	Err        error      `json:"-"`
}

// Driver is the polling loop: every interval it runs one cycle for each
// project whose work loop is running. A cycle asks the gate whether there
// is work, picks ready tasks and dispatches them until the project is at
// capacity.
type Driver struct {
	svc      *Service
	interval time.Duration
	batch    int
	launcher Launcher
	logger   *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
	// stop is closed by Stop; watched is closed once the goroutine watching
	// the Start context has returned.
	stop    chan struct{}
	watched chan struct{}
}

// NewDriver creates a Driver.
func NewDriver(svc *Service, cfg DriverConfig) *Driver {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = svc.logger
	}
	return &Driver{
		svc:      svc,
		interval: cfg.Interval,
		batch:    cfg.Batch,
		launcher: cfg.Launcher,
		logger:   cfg.Logger,
	}
}

// Start schedules cycles until ctx is done or Stop is called. A cycle that
// is still running when the next tick fires is skipped, never overlapped.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cron != nil {
		return fmt.Errorf("driver already started")
	}

	logger := cronLogger{l: d.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc("@every "+d.interval.String(), func() { d.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule driver: %w", err)
	}
	c.Start()
	stop, watched := make(chan struct{}), make(chan struct{})
	d.cron, d.stop, d.watched = c, stop, watched
	d.logger.Info("driver started", "interval", d.interval, "batch", d.batch)

	go func() {
		defer close(watched)
		select {
		case <-ctx.Done():
			d.Stop()
		case <-stop:
		}
	}()
	return nil
}

// Stop halts scheduling and waits for a running cycle to finish.
func (d *Driver) Stop() {
	d.mu.Lock()
	c, stop := d.cron, d.stop
	d.cron, d.stop = nil, nil
	d.mu.Unlock()
	if c == nil {
		return
	}
	close(stop)
	<-c.Stop().Done()
	d.logger.Info("driver stopped")
}

// RunOnce runs one cycle for every running project, concurrently. A panic
// in one project's cycle fails that project only.
func (d *Driver) RunOnce(ctx context.Context) []CycleResult {
	states, err := d.svc.loop.ListStates(ctx)
	if err != nil {
		d.logger.Error("failed to list work loops", "error", err)
		return nil
	}

	var (
		mu      sync.Mutex
		results []CycleResult
	)
	wg := conc.NewWaitGroup()
	for _, st := range states {
		if st.Status != models.WorkLoopRunning {
			continue
		}
		projectID := st.ProjectID
		wg.Go(func() {
			var (
				catcher panics.Catcher
				res     CycleResult
			)
			catcher.Try(func() {
				res = d.Cycle(ctx, projectID)
			})
			if rec := catcher.Recovered(); rec != nil {
				res = CycleResult{ProjectID: projectID, Err: rec.AsError()}
				if _, err := d.svc.loop.Fail(ctx, projectID, res.Err); err != nil {
					d.logger.Error("failed to mark work loop as errored", "project_id", projectID, "error", err)
				}
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		})
	}
	wg.Wait()
	return results
}

// Cycle runs one cycle for a project. A cycle error moves the project's
// loop to error; capacity and guard rejections are part of normal
// operation and do not.
func (d *Driver) Cycle(ctx context.Context, projectID string) CycleResult {
	ctx = clog.With(ctx, "project_id", projectID)
	start := d.svc.now()
	res := CycleResult{ProjectID: projectID}

	err := d.cycle(ctx, &res)
	d.svc.metrics.CycleFinished(ctx, projectID, d.svc.now().Sub(start), err)
	if err != nil {
		res.Err = err
		if _, ferr := d.svc.loop.Fail(ctx, projectID, err); ferr != nil {
			d.logger.Error("failed to mark work loop as errored", "project_id", projectID, "error", ferr)
		}
	}
	return res
}

func (d *Driver) cycle(ctx context.Context, res *CycleResult) error {
	st, err := d.svc.loop.BeginCycle(ctx, res.ProjectID)
	if err != nil {
		return err
	}
	res.Cycle = st.CurrentCycle
	if st.Status != models.WorkLoopRunning {
		return nil
	}

	gate, err := d.svc.Gate(ctx, res.ProjectID)
	if err != nil {
		return err
	}
	res.Gate = *gate
	if !gate.NeedsAttention || gate.Details.ReadyTasks == 0 {
		return nil
	}

	ready, err := d.svc.NextReady(ctx, res.ProjectID, d.batch)
	if err != nil {
		return err
	}
	for _, t := range ready {
		out, err := d.svc.Dispatch(ctx, DispatchInput{TaskID: t.ID, Actor: "driver"})
		switch {
		case err == nil:
		case cerr.IsCode(err, cerr.ResourceExhausted):
			d.logger.DebugContext(ctx, "project at capacity", "project_id", res.ProjectID)
			return nil
		case cerr.IsCode(err, cerr.FailedPrecondition), cerr.IsCode(err, cerr.Aborted):
			d.logger.DebugContext(ctx, "skipping task", "task_id", t.ID, "reason", err)
			continue
		default:
			return fmt.Errorf("dispatch %s: %w", t.ID, err)
		}

		res.Dispatched = append(res.Dispatched, t.ID)
		if d.launcher == nil {
			continue
		}
		if lerr := d.launcher.Launch(ctx, out.Task, out.Session); lerr != nil {
			d.logger.ErrorContext(ctx, "launch failed", "task_id", t.ID, "session_key", out.Session.Key, "error", lerr)
			if _, err := d.svc.Abort(ctx, out.Session.Key, "launch failed: "+lerr.Error(), "driver"); err != nil {
				return fmt.Errorf("abort failed launch of %s: %w", t.ID, err)
			}
		}
	}
	return nil
}

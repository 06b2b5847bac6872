package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/ShayCichocki/foreman/internal/graph"
	"github.com/ShayCichocki/foreman/internal/state"
	"github.com/ShayCichocki/foreman/pkg/cerr"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// Dependencies manages the dependency graph of every project.
//
// Mutations of one project go through a single-writer lane so two
// concurrent Add calls cannot each pass the cycle check against the same
// snapshot. Reads go straight to the cached graph.
type Dependencies struct {
	svc *Service

	mu     sync.Mutex
	lanes  map[string]chan struct{}
	graphs map[string]*graph.DependencyGraph
}

func newDependencies(svc *Service) *Dependencies {
	return &Dependencies{
		svc:    svc,
		lanes:  make(map[string]chan struct{}),
		graphs: make(map[string]*graph.DependencyGraph),
	}
}

// acquire takes the project's writer lane. The returned func releases it.
func (d *Dependencies) acquire(ctx context.Context, projectID string) (func(), error) {
	d.mu.Lock()
	lane, ok := d.lanes[projectID]
	if !ok {
		lane = make(chan struct{}, 1)
		d.lanes[projectID] = lane
	}
	d.mu.Unlock()

	select {
	case lane <- struct{}{}:
		return func() { <-lane }, nil
	case <-ctx.Done():
		return nil, cerr.WrapStoreError("dependency lane for project "+projectID, ctx.Err())
	}
}

// graphFor returns the cached graph for a project, loading it from the
// store on first use.
func (d *Dependencies) graphFor(ctx context.Context, projectID string) (*graph.DependencyGraph, error) {
	d.mu.Lock()
	g := d.graphs[projectID]
	d.mu.Unlock()
	if g != nil {
		return g, nil
	}

	edges, err := call(ctx, d.svc, "dependencies of project "+projectID, func(ctx context.Context) ([]models.DependencyEdge, error) {
		return d.svc.store.ListDependencyEdges(ctx, projectID)
	})
	if err != nil {
		return nil, err
	}
	loaded := graph.New()
	loaded.SetDebugLog(func(format string, args ...any) {
		d.svc.logger.Debug(fmt.Sprintf(format, args...), "project_id", projectID)
	})
	ge := make([]graph.Edge, len(edges))
	for i, e := range edges {
		ge[i] = graph.Edge{TaskID: e.TaskID, DependsOnID: e.DependsOnID}
	}
	if err := loaded.Build(ge); err != nil {
		return nil, cerr.NewError(cerr.Internal, "stored dependencies of project "+projectID+" are cyclic", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if existing := d.graphs[projectID]; existing != nil {
		return existing, nil
	}
	d.graphs[projectID] = loaded
	return loaded, nil
}

// Forget drops the cached graph of a project so the next call reloads it.
func (d *Dependencies) Forget(projectID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.graphs, projectID)
}

// pair loads both ends of an edge and checks they share a project.
func (d *Dependencies) pair(ctx context.Context, taskID, dependsOnID string) (*models.Task, error) {
	if taskID == "" || dependsOnID == "" {
		return nil, cerr.Validation("task id and depends-on id are required")
	}
	task, err := d.svc.task(ctx, taskID)
	if err != nil {
		return nil, err
	}
	dep, err := d.svc.task(ctx, dependsOnID)
	if err != nil {
		return nil, err
	}
	if task.ProjectID != dep.ProjectID {
		return nil, cerr.Validation("tasks %s and %s belong to different projects", taskID, dependsOnID)
	}
	return task, nil
}

// Add records that taskID depends on dependsOnID. It fails with a Cycle
// error, leaving the graph and the store unchanged, when the edge would
// close a cycle. Adding an edge that already exists is a no-op reported as
// added == false.
func (d *Dependencies) Add(ctx context.Context, taskID, dependsOnID, actor string) (added bool, err error) {
	if taskID != "" && taskID == dependsOnID {
		return false, cerr.Cyclef("task %s cannot depend on itself", taskID)
	}
	task, err := d.pair(ctx, taskID, dependsOnID)
	if err != nil {
		return false, err
	}

	release, err := d.acquire(ctx, task.ProjectID)
	if err != nil {
		return false, err
	}
	defer release()

	g, err := d.graphFor(ctx, task.ProjectID)
	if err != nil {
		return false, err
	}
	if g.HasEdge(taskID, dependsOnID) {
		return false, nil
	}
	if g.WouldCreateCycle(taskID, dependsOnID) {
		return false, cerr.Cyclef("%s already depends on %s, adding %s -> %s would create a cycle",
			dependsOnID, taskID, taskID, dependsOnID)
	}

	edge := models.DependencyEdge{
		ProjectID:   task.ProjectID,
		TaskID:      taskID,
		DependsOnID: dependsOnID,
		CreatedAt:   d.svc.now(),
	}
	if err := d.svc.exec(ctx, "dependency", func(ctx context.Context) error {
		return d.svc.store.AddDependencyEdge(ctx, edge)
	}); err != nil {
		return false, err
	}
	if _, err := g.AddEdge(taskID, dependsOnID); err != nil {
		// The lane makes this unreachable; drop the cache so the next
		// caller sees what the store holds.
		d.Forget(task.ProjectID)
		return false, cerr.NewError(cerr.Internal, "dependency graph out of sync", err)
	}

	actor, _ = actorOrSystem(actor)
	d.svc.recordEvent(ctx, task, actor, models.EventDependencyAdd, map[string]string{"dependsOnId": dependsOnID})
	return true, nil
}

// Remove deletes the edge. It fails with NotFound when the edge does not
// exist.
func (d *Dependencies) Remove(ctx context.Context, taskID, dependsOnID, actor string) error {
	task, err := d.pair(ctx, taskID, dependsOnID)
	if err != nil {
		return err
	}

	release, err := d.acquire(ctx, task.ProjectID)
	if err != nil {
		return err
	}
	defer release()

	g, err := d.graphFor(ctx, task.ProjectID)
	if err != nil {
		return err
	}
	if !g.HasEdge(taskID, dependsOnID) {
		return cerr.NotFoundf("dependency %s -> %s not found", taskID, dependsOnID)
	}
	if err := d.svc.exec(ctx, "dependency "+taskID+" -> "+dependsOnID, func(ctx context.Context) error {
		return d.svc.store.RemoveDependencyEdge(ctx, task.ProjectID, taskID, dependsOnID)
	}); err != nil {
		return err
	}
	g.RemoveEdge(taskID, dependsOnID)

	actor, _ = actorOrSystem(actor)
	d.svc.recordEvent(ctx, task, actor, models.EventDependencyRm, map[string]string{"dependsOnId": dependsOnID})
	return nil
}

// List returns the tasks taskID directly depends on, in the order the edges
// were added.
func (d *Dependencies) List(ctx context.Context, taskID string) ([]string, error) {
	task, err := d.svc.task(ctx, taskID)
	if err != nil {
		return nil, err
	}
	g, err := d.graphFor(ctx, task.ProjectID)
	if err != nil {
		return nil, err
	}
	return g.Dependencies(taskID), nil
}

// BlockedBy returns the tasks that directly depend on taskID.
func (d *Dependencies) BlockedBy(ctx context.Context, taskID string) ([]string, error) {
	task, err := d.svc.task(ctx, taskID)
	if err != nil {
		return nil, err
	}
	g, err := d.graphFor(ctx, task.ProjectID)
	if err != nil {
		return nil, err
	}
	return g.BlockedBy(taskID), nil
}

// Incomplete returns the direct dependencies of taskID that are not done.
// A dependency whose task no longer exists does not block.
func (d *Dependencies) Incomplete(ctx context.Context, taskID string) ([]string, error) {
	task, err := d.svc.task(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return d.incomplete(ctx, task)
}

func (d *Dependencies) incomplete(ctx context.Context, task *models.Task) ([]string, error) {
	g, err := d.graphFor(ctx, task.ProjectID)
	if err != nil {
		return nil, err
	}
	deps := g.Dependencies(task.ID)
	if len(deps) == 0 {
		return nil, nil
	}
	tasks, err := d.svc.listTasks(ctx, state.TaskFilter{ProjectID: task.ProjectID, IDs: deps})
	if err != nil {
		return nil, err
	}
	status := make(map[string]models.TaskStatus, len(tasks))
	for _, t := range tasks {
		status[t.ID] = t.Status
	}
	return g.Incomplete(task.ID, func(id string) bool {
		s, ok := status[id]
		return !ok || s == models.TaskStatusDone
	}), nil
}

// WouldCreateCycle reports whether adding taskID -> dependsOnID would close
// a cycle.
func (d *Dependencies) WouldCreateCycle(ctx context.Context, taskID, dependsOnID string) (bool, error) {
	if taskID == dependsOnID {
		return true, nil
	}
	task, err := d.pair(ctx, taskID, dependsOnID)
	if err != nil {
		return false, err
	}
	g, err := d.graphFor(ctx, task.ProjectID)
	if err != nil {
		return false, err
	}
	return g.WouldCreateCycle(taskID, dependsOnID), nil
}

package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/foreman/internal/state"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// testClock is a settable time source shared by the service and the store.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	svc   *Service
	db    *state.DB
	clock *testClock
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// openTestDB opens a migrated database in a temp dir.
func openTestDB(t *testing.T, clock *testClock) *state.DB {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "foreman.db"), state.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// newTestEnv creates a service over a fresh database. When wrap is non-nil
// the service talks to the store it returns.
func newTestEnv(t *testing.T, wrap func(state.Store) state.Store, opts ...Option) *testEnv {
	t.Helper()
	clock := newTestClock()
	db := openTestDB(t, clock)
	var store state.Store = db
	if wrap != nil {
		store = wrap(db)
	}
	opts = append([]Option{WithClock(clock.Now), WithLogger(discardLogger())}, opts...)
	return &testEnv{svc: New(store, opts...), db: db, clock: clock}
}

// seed writes a task straight to the store, bypassing the state machine.
func (e *testEnv) seed(t *testing.T, id, project string, status models.TaskStatus) *models.Task {
	t.Helper()
	task := &models.Task{
		ID:        id,
		ProjectID: project,
		Title:     "task " + id,
		Status:    status,
		CreatedAt: e.clock.Now(),
	}
	switch status {
	case models.TaskStatusReady:
		now := e.clock.Now()
		task.ReadyAt = &now
	case models.TaskStatusDone:
		now := e.clock.Now()
		task.CompletedAt = &now
	}
	if err := e.db.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask(%s): %v", id, err)
	}
	return task
}

func (e *testEnv) get(t *testing.T, id string) *models.Task {
	t.Helper()
	task, err := e.db.GetTask(context.Background(), id)
	if err != nil || task == nil {
		t.Fatalf("GetTask(%s) = %v, %v", id, task, err)
	}
	return task
}

func (e *testEnv) start(t *testing.T, project string, maxAgents int) {
	t.Helper()
	ctx := context.Background()
	if _, err := e.svc.WorkLoop().UpsertState(ctx, project, models.WorkLoopPatch{MaxAgents: &maxAgents}); err != nil {
		t.Fatalf("UpsertState: %v", err)
	}
	if _, err := e.svc.WorkLoop().Start(ctx, project); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func (e *testEnv) comments(t *testing.T, taskID string) []models.Comment {
	t.Helper()
	comments, err := e.db.ListComments(context.Background(), taskID)
	if err != nil {
		t.Fatalf("ListComments: %v", err)
	}
	return comments
}

// faultyStore injects failures into selected store calls.
type faultyStore struct {
	state.Store

	mu sync.Mutex
	// auditErr fails every AppendAudit.
	auditErr error
	// createErr fails the createFailAt-th CreateTask (1-based).
	createErr    error
	createFailAt int
	creates      int
	// sessionsErr fails ListSessions.
	sessionsErr error
	// afterLoopRead and afterSessionRead run once, after the next
	// GetWorkLoopState or GetSession has read the row and before it returns.
	afterLoopRead    func()
	afterSessionRead func()
}

// takeHook returns the hook *h and disarms it.
func (f *faultyStore) takeHook(h *func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn := *h
	*h = nil
	return fn
}

func (f *faultyStore) GetWorkLoopState(ctx context.Context, projectID string) (*models.WorkLoopState, error) {
	st, err := f.Store.GetWorkLoopState(ctx, projectID)
	if hook := f.takeHook(&f.afterLoopRead); hook != nil {
		hook()
	}
	return st, err
}

func (f *faultyStore) GetSession(ctx context.Context, key string) (*models.AgentSession, error) {
	sess, err := f.Store.GetSession(ctx, key)
	if hook := f.takeHook(&f.afterSessionRead); hook != nil {
		hook()
	}
	return sess, err
}

func (f *faultyStore) AppendAudit(ctx context.Context, c *models.Comment, e *models.Event) error {
	f.mu.Lock()
	err := f.auditErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.AppendAudit(ctx, c, e)
}

func (f *faultyStore) CreateTask(ctx context.Context, t *models.Task) error {
	f.mu.Lock()
	f.creates++
	fail := f.createErr != nil && f.creates == f.createFailAt
	err := f.createErr
	f.mu.Unlock()
	if fail {
		return err
	}
	return f.Store.CreateTask(ctx, t)
}

func (f *faultyStore) ListSessions(ctx context.Context, filter state.SessionFilter) ([]models.AgentSession, error) {
	f.mu.Lock()
	err := f.sessionsErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Store.ListSessions(ctx, filter)
}

func (f *faultyStore) set(fn func(f *faultyStore)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func newFaultyEnv(t *testing.T, opts ...Option) (*testEnv, *faultyStore) {
	t.Helper()
	var fs *faultyStore
	env := newTestEnv(t, func(s state.Store) state.Store {
		fs = &faultyStore{Store: s}
		return fs
	}, opts...)
	return env, fs
}

func ids(tasks []*models.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

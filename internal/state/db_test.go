package state

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// tempDBPath returns a path to a temp database file.
func tempDBPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "test.db")
}

// testClock is a settable time source.
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

// setupTestDB creates a new temporary database for testing.
func setupTestDB(t *testing.T, opts ...Option) *DB {
	t.Helper()
	db, err := Open(tempDBPath(t), opts...)
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

func TestOpen(t *testing.T) {
	path := tempDBPath(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if db.Driver() != DriverModernc {
		t.Errorf("Driver() = %q, want %q", db.Driver(), DriverModernc)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("database file does not exist at %s", path)
	}
}

func TestOpen_CreatesParentDirectories(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b", "c")
	path := filepath.Join(nested, "test.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(nested); os.IsNotExist(err) {
		t.Errorf("parent directories not created: %s", nested)
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	// On Linux, we can't create files under /proc
	_, err := Open("/proc/nonexistent/test.db")
	if err == nil {
		t.Error("expected error opening db at invalid path")
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(tempDBPath(t), WithDriver("postgres"))
	if err == nil || !strings.Contains(err.Error(), "unsupported sqlite driver") {
		t.Fatalf("expected unsupported driver error, got %v", err)
	}
}

func TestOpen_MattnDriver(t *testing.T) {
	db, err := Open(tempDBPath(t), WithDriver(DriverMattn))
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "cgo") {
			t.Skipf("mattn driver needs cgo: %v", err)
		}
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if db.Driver() != DriverMattn {
		t.Errorf("Driver() = %q, want %q", db.Driver(), DriverMattn)
	}
}

func TestClose(t *testing.T) {
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := db.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	// Subsequent operations should fail
	_, err = db.Query(context.Background(), "SELECT 1")
	if err == nil {
		t.Error("expected error after close, got nil")
	}
}

func TestMigrate(t *testing.T) {
	db := setupTestDB(t)

	tables := []string{
		"schema_version", "tasks", "task_dependencies", "comments", "events",
		"signals", "work_loop_state", "agent_sessions",
	}
	for _, table := range tables {
		var count int
		row := db.QueryRow(context.Background(), "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table)
		if err := row.Scan(&count); err != nil {
			t.Errorf("failed to check table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s does not exist", table)
		}
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	for i := 0; i < 3; i++ {
		if err := db.Migrate(); err != nil {
			t.Fatalf("Migrate (iteration %d) failed: %v", i, err)
		}
	}

	var version int
	row := db.QueryRow(context.Background(), "SELECT MAX(version) FROM schema_version")
	if err := row.Scan(&version); err != nil {
		t.Fatalf("failed to get schema version: %v", err)
	}
	if version != 6 {
		t.Errorf("schema version = %d, want 6", version)
	}
}

func TestTransaction_RollsBackOnError(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	sentinel := errors.New("boom")

	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, project_id, title, created_at, updated_at)
			VALUES ('t1', 'p', 'x', '2025-01-01T00:00:00.000000000Z', '2025-01-01T00:00:00.000000000Z')
		`); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Transaction error = %v, want sentinel", err)
	}

	task, err := db.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task != nil {
		t.Error("row written by a failed transaction is visible")
	}
}

func TestForeignKeysEnforced(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.Exec(context.Background(), `
		INSERT INTO comments (id, task_id, author, author_type, content, type, created_at)
		VALUES ('c1', 'missing', 'a', 'human', 'x', 'comment', '2025-01-01T00:00:00.000000000Z')
	`)
	if err == nil {
		t.Fatal("expected foreign key violation for comment on missing task")
	}
}

func TestTimeRoundTrip(t *testing.T) {
	in := time.Date(2025, 1, 2, 3, 4, 5, 600, time.FixedZone("x", 3600))
	out, err := parseTime(formatTime(in))
	if err != nil {
		t.Fatalf("parseTime: %v", err)
	}
	if !out.Equal(in) {
		t.Errorf("round trip = %v, want %v", out, in)
	}
	if parseNullableTime(formatNullableTime(nil)) != nil {
		t.Error("nil time did not round trip to nil")
	}
}

func TestDefaultDBPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg")
	if got, want := DefaultDBPath(), "/tmp/xdg/foreman/foreman.db"; got != want {
		t.Errorf("DefaultDBPath() = %q, want %q", got, want)
	}
}

// Package state provides SQLite-based persistence for foreman.
// It stores tasks, dependency edges, audit records, signals, agent sessions
// and per-project work loop state.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/ShayCichocki/foreman/pkg/models"
)

var (
	// ErrNotFound is returned when a mutation targets a row that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a row changed underneath a versioned update
	// or a one-shot transition already happened.
	ErrConflict = errors.New("conflict")
	// ErrInvalid is returned when a write would violate a stored invariant.
	ErrInvalid = errors.New("invalid")
	// ErrExists is returned when an insert collides with an existing key.
	ErrExists = errors.New("already exists")
)

const (
	// DriverModernc is the pure Go SQLite driver.
	DriverModernc = "sqlite"
	// DriverMattn is the cgo SQLite driver.
	DriverMattn = "sqlite3"
)

// DB wraps an SQLite database connection with foreman-specific operations.
type DB struct {
	conn             *sql.DB
	path             string
	driver           string
	defaultMaxAgents int
	now              func() time.Time
	mu               sync.RWMutex
}

// Option configures a DB at open time.
type Option func(*DB)

// WithDriver selects the database/sql driver name ("sqlite" or "sqlite3").
func WithDriver(name string) Option {
	return func(db *DB) {
		if name != "" {
			db.driver = name
		}
	}
}

// WithDefaultMaxAgents sets the max_agents a work loop row is created with.
func WithDefaultMaxAgents(n int) Option {
	return func(db *DB) {
		if n > 0 {
			db.defaultMaxAgents = n
		}
	}
}

// WithClock overrides the time source used for created/updated stamps.
func WithClock(now func() time.Time) Option {
	return func(db *DB) {
		if now != nil {
			db.now = now
		}
	}
}

// DefaultDBPath returns the path to the default foreman database.
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "foreman", "foreman.db")
}

// Open opens an SQLite database at the given path.
// It creates the parent directories if they don't exist.
// WAL mode is enabled for concurrent reads.
func Open(path string, opts ...Option) (*DB, error) {
	db := &DB{
		path:             path,
		driver:           DriverModernc,
		defaultMaxAgents: models.DefaultMaxAgents,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(db)
	}

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn, err := db.dsn()
	if err != nil {
		return nil, err
	}
	conn, err := sql.Open(db.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	db.conn = conn
	return db, nil
}

// dsn builds a connection string that applies per-connection pragmas for
// every connection in the pool, not just the first one.
func (db *DB) dsn() (string, error) {
	switch db.driver {
	case DriverModernc:
		return db.path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", nil
	case DriverMattn:
		return "file:" + db.path + "?_foreign_keys=on&_busy_timeout=5000", nil
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q", db.driver)
	}
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Driver returns the database/sql driver in use.
func (db *DB) Driver() string {
	return db.driver
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	// Create schema version table
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	// Get current version
	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Tasks},
		{2, migrationV2Dependencies},
		{3, migrationV3Audit},
		{4, migrationV4Signals},
		{5, migrationV5WorkLoop},
		{6, migrationV6Sessions},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Migration SQL statements
const migrationV1Tasks = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'backlog',
	priority TEXT NOT NULL DEFAULT 'medium',
	role TEXT NOT NULL DEFAULT '',
	agent_model TEXT NOT NULL DEFAULT '',
	assignee TEXT NOT NULL DEFAULT '',
	dispatch_status TEXT NOT NULL DEFAULT 'idle',
	resolution TEXT NOT NULL DEFAULT '',
	escalated_at TEXT,
	escalation_reason TEXT NOT NULL DEFAULT '',
	ready_at TEXT,
	completed_at TEXT,
	triage_acked_at TEXT,
	version INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_project_status ON tasks(project_id, status);
CREATE INDEX IF NOT EXISTS idx_tasks_dispatch_status ON tasks(project_id, dispatch_status);
`

const migrationV2Dependencies = `
CREATE TABLE IF NOT EXISTS task_dependencies (
	project_id TEXT NOT NULL,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	depends_on_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	created_at TEXT NOT NULL,
	PRIMARY KEY (task_id, depends_on_id),
	CHECK (task_id <> depends_on_id)
);

CREATE INDEX IF NOT EXISTS idx_task_dependencies_project ON task_dependencies(project_id);
CREATE INDEX IF NOT EXISTS idx_task_dependencies_depends_on ON task_dependencies(depends_on_id);
`

const migrationV3Audit = `
CREATE TABLE IF NOT EXISTS comments (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	author TEXT NOT NULL,
	author_type TEXT NOT NULL,
	content TEXT NOT NULL,
	type TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_comments_task_id ON comments(task_id);

CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL DEFAULT '',
	project_id TEXT NOT NULL DEFAULT '',
	actor TEXT NOT NULL,
	kind TEXT NOT NULL,
	payload TEXT,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_task_id ON events(task_id);
CREATE INDEX IF NOT EXISTS idx_events_project_id ON events(project_id);
`

const migrationV4Signals = `
CREATE TABLE IF NOT EXISTS signals (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL DEFAULT '',
	project_id TEXT NOT NULL DEFAULT '',
	session_key TEXT NOT NULL DEFAULT '',
	agent_id TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL,
	severity TEXT NOT NULL,
	message TEXT NOT NULL,
	blocking INTEGER NOT NULL,
	responded_at TEXT,
	response TEXT NOT NULL DEFAULT '',
	responded_by TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_signals_project ON signals(project_id, responded_at);
CREATE INDEX IF NOT EXISTS idx_signals_task ON signals(task_id);
`

const migrationV5WorkLoop = `
CREATE TABLE IF NOT EXISTS work_loop_state (
	project_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	current_phase TEXT NOT NULL DEFAULT '',
	current_cycle INTEGER NOT NULL DEFAULT 0,
	active_agents INTEGER NOT NULL DEFAULT 0,
	max_agents INTEGER NOT NULL DEFAULT 3,
	error_message TEXT NOT NULL DEFAULT '',
	last_cycle_at TEXT,
	updated_at TEXT NOT NULL,
	CHECK (active_agents >= 0 AND active_agents <= max_agents)
);
`

const migrationV6Sessions = `
CREATE TABLE IF NOT EXISTS agent_sessions (
	key TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	task_id TEXT NOT NULL,
	agent_id TEXT NOT NULL DEFAULT '',
	started_at TEXT NOT NULL,
	last_activity_at TEXT,
	ended_at TEXT,
	aborted_last_run INTEGER NOT NULL DEFAULT 0,
	abort_acked_at TEXT,
	abort_reason TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_agent_sessions_task ON agent_sessions(task_id, ended_at);
CREATE INDEX IF NOT EXISTS idx_agent_sessions_project ON agent_sessions(project_id);
`

// Exec executes a query that doesn't return rows.
func (db *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.ExecContext(ctx, query, args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryContext(ctx, query, args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryRowContext(ctx, query, args...)
}

// Transaction runs the given function within a transaction.
func (db *DB) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// timeLayout keeps sub-second precision and sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// formatNullableTime formats an optional time for SQLite storage.
func formatNullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

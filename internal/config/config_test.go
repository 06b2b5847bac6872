package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Store.Driver != "sqlite" {
		t.Errorf("expected default driver 'sqlite', got %q", cfg.Store.Driver)
	}
	if cfg.Store.Timeout != 5*time.Second {
		t.Errorf("expected store timeout 5s, got %v", cfg.Store.Timeout)
	}
	if cfg.WorkLoop.DefaultMaxAgents != 3 {
		t.Errorf("expected default max agents 3, got %d", cfg.WorkLoop.DefaultMaxAgents)
	}
	if cfg.WorkLoop.PollInterval != 30*time.Second {
		t.Errorf("expected poll interval 30s, got %v", cfg.WorkLoop.PollInterval)
	}
	if cfg.Server.Addr != "127.0.0.1:7420" {
		t.Errorf("expected server addr 127.0.0.1:7420, got %q", cfg.Server.Addr)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" || cfg.Log.File != "" {
		t.Errorf("unexpected log defaults: %+v", cfg.Log)
	}
	if cfg.Telemetry.Enabled {
		t.Error("expected telemetry to be disabled")
	}
	if cfg.Planner.MaxTokens != 8192 || cfg.Planner.UseBedrock {
		t.Errorf("unexpected planner defaults: %+v", cfg.Planner)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config is invalid: %v", err)
	}
}

func TestLoadFromPath(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, configPath, `
store:
  path: /tmp/foreman-test.db
  driver: sqlite3
  timeout: 2s
work_loop:
  default_max_agents: 6
  poll_interval: 1m
log:
  level: debug
  format: json
telemetry:
  enabled: true
`)

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Store.Path != "/tmp/foreman-test.db" || cfg.Store.Driver != "sqlite3" || cfg.Store.Timeout != 2*time.Second {
		t.Errorf("unexpected store config: %+v", cfg.Store)
	}
	if cfg.WorkLoop.DefaultMaxAgents != 6 || cfg.WorkLoop.PollInterval != time.Minute {
		t.Errorf("unexpected work loop config: %+v", cfg.WorkLoop)
	}
	// Unset keys keep their defaults.
	if cfg.WorkLoop.DispatchBatch != 10 || cfg.Server.Addr != "127.0.0.1:7420" {
		t.Errorf("defaults lost: batch %d addr %q", cfg.WorkLoop.DispatchBatch, cfg.Server.Addr)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" || !cfg.Telemetry.Enabled {
		t.Errorf("unexpected log/telemetry config: %+v %+v", cfg.Log, cfg.Telemetry)
	}
	if len(cfg.Files) != 1 || cfg.Files[0] != configPath {
		t.Errorf("Files = %v", cfg.Files)
	}
}

func TestLoadFromPath_EnvOverrides(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, configPath, "log:\n  level: warn\n")
	t.Setenv("FOREMAN_LOG_LEVEL", "error")
	t.Setenv("FOREMAN_WORK_LOOP_DEFAULT_MAX_AGENTS", "9")
	t.Setenv("FOREMAN_DATA", "/data")
	t.Setenv("FOREMAN_STORE_PATH", "${FOREMAN_DATA}/foreman.db")

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("expected env to win for log.level, got %q", cfg.Log.Level)
	}
	if cfg.WorkLoop.DefaultMaxAgents != 9 {
		t.Errorf("expected max agents 9, got %d", cfg.WorkLoop.DefaultMaxAgents)
	}
	if cfg.Store.Path != "/data/foreman.db" {
		t.Errorf("expected expanded store path, got %q", cfg.Store.Path)
	}
}

func TestLoadFromPath_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown driver", "store:\n  driver: postgres\n"},
		{"zero max agents", "work_loop:\n  default_max_agents: 0\n"},
		{"fast poll", "work_loop:\n  poll_interval: 10ms\n"},
		{"zero batch", "work_loop:\n  dispatch_batch: 0\n"},
		{"log format", "log:\n  format: xml\n"},
		{"zero timeout", "store:\n  timeout: 0s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), "config.yaml")
			writeConfig(t, configPath, tt.content)
			if _, err := LoadFromPath(configPath); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_ProjectOverride(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	if err := os.MkdirAll(filepath.Join(xdg, "foreman"), 0755); err != nil {
		t.Fatal(err)
	}
	userPath := filepath.Join(xdg, "foreman", "config.yaml")
	writeConfig(t, userPath, "server:\n  addr: 0.0.0.0:9000\nlog:\n  level: debug\n")

	project := t.TempDir()
	nested := filepath.Join(project, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	projectPath := filepath.Join(project, ProjectConfigName)
	writeConfig(t, projectPath, "log:\n  level: warn\n")
	t.Chdir(nested)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Errorf("expected user config addr, got %q", cfg.Server.Addr)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("expected project override level warn, got %q", cfg.Log.Level)
	}
	if len(cfg.Files) != 2 || cfg.Files[1] != projectPath {
		t.Errorf("Files = %v", cfg.Files)
	}
	if got := GetProjectConfigPath(); got != projectPath {
		t.Errorf("GetProjectConfigPath = %q, want %q", got, projectPath)
	}
}

func TestGetUserConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	dir := getUserConfigDir()
	expected := "/custom/config/foreman"
	if dir != expected {
		t.Errorf("expected %q, got %q", expected, dir)
	}
}

func TestSave(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg := Default()
	cfg.WorkLoop.DefaultMaxAgents = 4
	cfg.Log.Format = "json"

	path, err := Save(cfg)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if path != GetUserConfigPath() {
		t.Errorf("saved to %q, want %q", path, GetUserConfigPath())
	}
	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if loaded.WorkLoop.DefaultMaxAgents != 4 || loaded.Log.Format != "json" || loaded.Store.Timeout != cfg.Store.Timeout {
		t.Errorf("round trip lost values: %+v", loaded)
	}
}

func TestSet(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if _, err := Set("log.level", "debug"); err != nil {
		t.Fatalf("Set log.level failed: %v", err)
	}
	if _, err := Set("planner.use_bedrock", "true"); err != nil {
		t.Fatalf("Set planner.use_bedrock failed: %v", err)
	}
	path, err := Set("work_loop.default_max_agents", "7")
	if err != nil {
		t.Fatalf("Set default_max_agents failed: %v", err)
	}
	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if loaded.Log.Level != "debug" || loaded.WorkLoop.DefaultMaxAgents != 7 || !loaded.Planner.UseBedrock {
		t.Errorf("Set lost values: level %q, max agents %d, bedrock %v", loaded.Log.Level, loaded.WorkLoop.DefaultMaxAgents, loaded.Planner.UseBedrock)
	}

	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown key", "log.colour", "on"},
		{"not a number", "work_loop.dispatch_batch", "many"},
		{"not a bool", "telemetry.enabled", "maybe"},
		{"fails validation", "store.driver", "postgres"},
		{"too few tokens", "planner.max_tokens", "100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Set(tt.key, tt.value); err == nil {
				t.Errorf("Set(%q, %q) succeeded", tt.key, tt.value)
			}
		})
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	tests := []struct {
		in, want string
	}{
		{"~/x/foreman.db", filepath.Join(home, "x", "foreman.db")},
		{"/abs/foreman.db", "/abs/foreman.db"},
		{"rel/foreman.db", "rel/foreman.db"},
		{"~user/foreman.db", "~user/foreman.db"},
	}
	for _, tt := range tests {
		if got := expandHome(tt.in); got != tt.want {
			t.Errorf("expandHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWatcher_AppliesLogLevel(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, configPath, "log:\n  level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWatcher([]string{configPath, filepath.Join(t.TempDir(), "missing.yaml")}, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	level := new(slog.LevelVar)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ApplyLogLevel(w, func() (*Config, error) { return LoadFromPath(configPath) }, level)
	}()

	writeConfig(t, configPath, "log:\n  level: debug\n")
	deadline := time.Now().Add(5 * time.Second)
	for level.Level() != slog.LevelDebug {
		if time.Now().After(deadline) {
			t.Fatalf("log level not applied, still %v", level.Level())
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("ApplyLogLevel did not return after the watcher stopped")
	}
}

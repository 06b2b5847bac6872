// Package config handles configuration loading and management for foreman.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/foreman/internal/state"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// ProjectConfigName is the project override file looked up from the
// working directory towards the filesystem root.
const ProjectConfigName = ".foreman.yaml"

// EnvPrefix prefixes environment overrides, e.g. FOREMAN_STORE_PATH.
const EnvPrefix = "FOREMAN"

// Config holds all configuration for foreman.
type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	WorkLoop  WorkLoopConfig  `mapstructure:"work_loop"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Planner   PlannerConfig   `mapstructure:"planner"`

	// Files lists the config files that were read, lowest precedence first.
	Files []string `mapstructure:"-"`
}

// StoreConfig holds database settings.
type StoreConfig struct {
	Path string `mapstructure:"path"`
	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo).
	Driver string `mapstructure:"driver"`
	// Timeout bounds every store call.
	Timeout time.Duration `mapstructure:"timeout"`
}

// WorkLoopConfig holds work loop and driver settings.
type WorkLoopConfig struct {
	DefaultMaxAgents int           `mapstructure:"default_max_agents"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	DispatchBatch    int           `mapstructure:"dispatch_batch"`
	// LaunchCommand is run through sh -c for every run the driver
	// dispatches. Empty leaves runs for external agents to pick up.
	LaunchCommand string `mapstructure:"launch_command"`
	LaunchDir     string `mapstructure:"launch_dir"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// APIKey, when set, is required on every /api request as X-API-Key or
	// a bearer token.
	APIKey string `mapstructure:"api_key"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// File enables a rotating log file when non-empty.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// TelemetryConfig toggles in-process metrics.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// PlannerConfig selects the model used by "foreman draft". The API key is
// read from ANTHROPIC_API_KEY and never stored.
type PlannerConfig struct {
	Model      string `mapstructure:"model"`
	MaxTokens  int    `mapstructure:"max_tokens"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (FOREMAN_STORE_PATH, FOREMAN_LOG_LEVEL, ...)
// 2. Project config (.foreman.yaml in current directory or parent)
// 3. User config (~/.config/foreman/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	var files []string
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	} else {
		files = append(files, v.ConfigFileUsed())
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
		files = append(files, projectConfig)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.Files = files
	return cfg, nil
}

// LoadFromPath loads defaults, the given file and environment overrides.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.Files = []string{path}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Store.Path = expandHome(os.ExpandEnv(cfg.Store.Path))
	cfg.Log.File = expandHome(os.ExpandEnv(cfg.Log.File))
	cfg.WorkLoop.LaunchDir = expandHome(os.ExpandEnv(cfg.WorkLoop.LaunchDir))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that viper cannot type-check.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case state.DriverModernc, state.DriverMattn:
	default:
		return fmt.Errorf("store.driver must be %q or %q, got %q", state.DriverModernc, state.DriverMattn, c.Store.Driver)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Store.Timeout <= 0 {
		return fmt.Errorf("store.timeout must be positive, got %s", c.Store.Timeout)
	}
	if c.WorkLoop.DefaultMaxAgents < 1 {
		return fmt.Errorf("work_loop.default_max_agents must be at least 1, got %d", c.WorkLoop.DefaultMaxAgents)
	}
	if c.WorkLoop.PollInterval < time.Second {
		return fmt.Errorf("work_loop.poll_interval must be at least 1s, got %s", c.WorkLoop.PollInterval)
	}
	if c.WorkLoop.DispatchBatch < 1 {
		return fmt.Errorf("work_loop.dispatch_batch must be at least 1, got %d", c.WorkLoop.DispatchBatch)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Planner.MaxTokens < 256 {
		return fmt.Errorf("planner.max_tokens must be at least 256, got %d", c.Planner.MaxTokens)
	}
	return nil
}

// Save writes cfg to the user config file.
func Save(cfg *Config) (string, error) {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)
	for key, value := range cfg.Settings() {
		v.Set(key, value)
	}
	if err := v.WriteConfig(); err != nil {
		return "", fmt.Errorf("writing %s: %w", configPath, err)
	}
	return configPath, nil
}

// Set writes one dotted key to the user config file, keeping whatever else
// the file holds. The value is parsed with the type of the key's default and
// the resulting configuration must validate.
func Set(key, value string) (string, error) {
	key = strings.ToLower(key)
	def, ok := Default().Settings()[key]
	if !ok {
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
	var typed any = value
	switch def.(type) {
	case int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return "", fmt.Errorf("invalid value for %s: %w", key, err)
		}
		typed = n
	case bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return "", fmt.Errorf("invalid value for %s: %w", key, err)
		}
		typed = b
	}

	configPath := GetUserConfigPath()
	file := viper.New()
	file.SetConfigFile(configPath)
	if _, err := os.Stat(configPath); err == nil {
		if err := file.ReadInConfig(); err != nil {
			return "", fmt.Errorf("reading %s: %w", configPath, err)
		}
	}
	file.Set(key, typed)

	check := newViper()
	if err := check.MergeConfigMap(file.AllSettings()); err != nil {
		return "", fmt.Errorf("merging %s: %w", configPath, err)
	}
	if _, err := decode(check); err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	if err := file.WriteConfigAs(configPath); err != nil {
		return "", fmt.Errorf("writing %s: %w", configPath, err)
	}
	return configPath, nil
}

// Settings flattens cfg into dotted keys.
func (c *Config) Settings() map[string]any {
	return map[string]any{
		"store.path":                   c.Store.Path,
		"store.driver":                 c.Store.Driver,
		"store.timeout":                c.Store.Timeout.String(),
		"work_loop.default_max_agents": c.WorkLoop.DefaultMaxAgents,
		"work_loop.poll_interval":      c.WorkLoop.PollInterval.String(),
		"work_loop.dispatch_batch":     c.WorkLoop.DispatchBatch,
		"work_loop.launch_command":     c.WorkLoop.LaunchCommand,
		"work_loop.launch_dir":         c.WorkLoop.LaunchDir,
		"server.addr":                  c.Server.Addr,
		"server.api_key":               c.Server.APIKey,
		"log.level":                    c.Log.Level,
		"log.format":                   c.Log.Format,
		"log.file":                     c.Log.File,
		"log.max_size_mb":              c.Log.MaxSizeMB,
		"log.max_backups":              c.Log.MaxBackups,
		"telemetry.enabled":            c.Telemetry.Enabled,
		"planner.model":                c.Planner.Model,
		"planner.max_tokens":           c.Planner.MaxTokens,
		"planner.use_bedrock":          c.Planner.UseBedrock,
		"planner.aws_region":           c.Planner.AWSRegion,
		"planner.aws_profile":          c.Planner.AWSProfile,
	}
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()
	for key, value := range d.Settings() {
		v.SetDefault(key, value)
	}
}

// getUserConfigDir returns the XDG config directory for foreman.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "foreman")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "foreman")
	}
	return filepath.Join(home, ".config", "foreman")
}

// findProjectConfig searches for .foreman.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return ""
		}
		cwd = parent
	}
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Path:    state.DefaultDBPath(),
			Driver:  state.DriverModernc,
			Timeout: 5 * time.Second,
		},
		WorkLoop: WorkLoopConfig{
			DefaultMaxAgents: models.DefaultMaxAgents,
			PollInterval:     30 * time.Second,
			DispatchBatch:    10,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:7420",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  20,
			MaxBackups: 5,
		},
		Planner: PlannerConfig{
			MaxTokens: 8192,
		},
	}
}

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foreman/internal/config"
	"github.com/ShayCichocki/foreman/internal/logging"
	"github.com/ShayCichocki/foreman/internal/orchestrator"
	"github.com/ShayCichocki/foreman/internal/state"
	"github.com/ShayCichocki/foreman/internal/telemetry"
	"github.com/ShayCichocki/foreman/pkg/cerr"
)

var (
	configPath   string
	dbPath       string
	outputFormat string
	logLevel     string
	actorName    string
)

var rootCmd = &cobra.Command{
	Use:   "foreman",
	Short: "Task orchestrator for coding agents",
	Long: `Foreman tracks tasks, their dependencies and the agents working on
them, and decides when there is something worth waking up for.

Tasks move backlog -> ready -> in_progress -> in_review -> done. Each project
has a work loop that caps how many agents run at once. The gate tells an
external driver whether anything needs attention; "foreman serve" runs the
HTTP API together with a built-in driver.

Configuration is read from ~/.config/foreman/config.yaml, a .foreman.yaml
found by walking up from the current directory, and FOREMAN_* environment
variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// exitError carries a process exit code without printing anything.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps error codes to distinct statuses so scripts can tell a
// capacity rejection from a bad argument.
func exitCode(err error) int {
	switch cerr.CodeOf(err) {
	case cerr.InvalidArgument:
		return 2
	case cerr.NotFound:
		return 3
	case cerr.FailedPrecondition, cerr.Cycle, cerr.Aborted:
		return 4
	case cerr.ResourceExhausted:
		return 5
	case cerr.Unavailable:
		return 6
	default:
		return 1
	}
}

func init() {
	defaultActor := os.Getenv("USER")
	if defaultActor == "" {
		defaultActor = "cli"
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Config file (skips the user and project config lookup)")
	flags.StringVar(&dbPath, "db", "", "Database path (overrides store.path)")
	flags.StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json or yaml")
	flags.StringVar(&logLevel, "log-level", "", "Log level (overrides log.level)")
	flags.StringVar(&actorName, "actor", defaultActor, "Name recorded in comments and events")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(gateCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(depsCmd)
	rootCmd.AddCommand(signalCmd)
	rootCmd.AddCommand(triageCmd)
	rootCmd.AddCommand(loopCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(draftCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads configuration and applies command line overrides.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Store.Path = dbPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// app is everything a command needs to talk to the store.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Provider
	db        *state.DB
	svc       *orchestrator.Service
}

// openApp loads config, opens and migrates the store and builds the
// service. One-shot commands log warnings and above unless --log-level
// says otherwise.
func openApp(cmd *cobra.Command, longRunning bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logCfg := cfg.Log
	if !longRunning && logLevel == "" {
		logCfg.Level = "warn"
	}
	logger, err := logging.New(logCfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, fmt.Errorf("set up logging: %w", err)
	}
	provider, err := telemetry.Init(cfg.Telemetry.Enabled)
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("set up telemetry: %w", err)
	}

	db, err := state.Open(cfg.Store.Path,
		state.WithDriver(cfg.Store.Driver),
		state.WithDefaultMaxAgents(cfg.WorkLoop.DefaultMaxAgents),
	)
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		logger.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	svc := orchestrator.New(db,
		orchestrator.WithLogger(logger.Logger),
		orchestrator.WithStoreTimeout(cfg.Store.Timeout),
		orchestrator.WithMetrics(provider.Metrics),
		orchestrator.WithDefaultMaxAgents(cfg.WorkLoop.DefaultMaxAgents),
	)
	return &app{cfg: cfg, logger: logger, telemetry: provider, db: db, svc: svc}, nil
}

func (a *app) Close() error {
	err := a.db.Close()
	a.logger.Close()
	return err
}

// withService runs fn against a freshly opened service.
func withService(cmd *cobra.Command, fn func(a *app) error) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

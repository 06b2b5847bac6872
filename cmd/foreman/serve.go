package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foreman/internal/api"
	"github.com/ShayCichocki/foreman/internal/config"
	"github.com/ShayCichocki/foreman/internal/exec"
	"github.com/ShayCichocki/foreman/internal/orchestrator"
)

var (
	serveAddr     string
	serveNoDriver bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the work loop driver",
	Long: `Run the HTTP API and the work loop driver until interrupted.

On startup orphaned runs are repaired. The driver then polls every running
work loop on work_loop.poll_interval, dispatching ready tasks while there
are free slots. When work_loop.launch_command is set it is run through
sh -c for every dispatched run, with FOREMAN_TASK_ID, FOREMAN_SESSION_KEY
and FOREMAN_API_URL in its environment.

Changes to the config files are watched; the log level applies immediately,
everything else on restart.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(cmd, true)
		if err != nil {
			return err
		}
		defer a.Close()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := a.telemetry.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("failed to shut down telemetry", "error", err)
			}
		}()

		addr := a.cfg.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}

		watcher := config.NewWatcher(a.cfg.Files, a.logger.Logger)
		if err := watcher.Start(ctx); err != nil {
			a.logger.Warn("config watcher disabled", "error", err)
		} else {
			go config.ApplyLogLevel(watcher, loadConfig, a.logger.Level)
		}

		if report, err := a.svc.Recover(ctx, ""); err != nil {
			a.logger.Error("failed to recover orphaned runs", "error", err)
		} else if report != nil {
			a.logger.Warn("recovered orphaned runs", "lost_runs", len(report.LostRuns), "stale_sessions", len(report.StaleSessions))
		}

		if !serveNoDriver {
			driver := orchestrator.NewDriver(a.svc, orchestrator.DriverConfig{
				Interval: a.cfg.WorkLoop.PollInterval,
				Batch:    a.cfg.WorkLoop.DispatchBatch,
				Launcher: newLauncher(a, addr),
				Logger:   a.logger.Logger,
			})
			if err := driver.Start(ctx); err != nil {
				return fmt.Errorf("start driver: %w", err)
			}
			defer driver.Stop()
		}

		srv := api.NewServer(a.svc,
			api.WithLogger(a.logger.Logger),
			api.WithTelemetry(a.telemetry),
			api.WithAPIKey(a.cfg.Server.APIKey),
		)
		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.ListenAndServe(ctx, addr)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return <-errCh
	},
}

// newLauncher returns nil when no launch command is configured, leaving
// dispatched runs to external agents.
func newLauncher(a *app, addr string) orchestrator.Launcher {
	command := a.cfg.WorkLoop.LaunchCommand
	if command == "" {
		return nil
	}
	return exec.NewLauncher(command,
		exec.WithWorkDir(a.cfg.WorkLoop.LaunchDir),
		exec.WithAPIURL(apiURL(addr)),
		exec.WithLogger(a.logger.Logger),
	)
}

// apiURL turns a listen address into a URL a local agent can reach.
func apiURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().BoolVar(&serveNoDriver, "no-driver", false, "Serve the API only; an external driver dispatches work")
}

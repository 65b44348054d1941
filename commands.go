package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"gitlab.com/tinyland/lab/host-pulse/pkg/config"
	"gitlab.com/tinyland/lab/host-pulse/pkg/daemon"
	"gitlab.com/tinyland/lab/host-pulse/pkg/preview"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the delivery loop until interrupted",
	RunE:  runDaemon,
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Collect and deliver a single report",
	RunE:  runOnce,
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Print the report to the terminal without sending it",
	RunE:  runPreview,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of a running daemon",
	RunE:  runStatus,
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Ask a running daemon to deliver a report now",
	RunE:  runSend,
}

const controlTimeout = 5 * time.Second

// runDaemon is the default command: PID file, control socket, and the
// delivery loop until SIGINT or SIGTERM.
func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	runID := newRunID()
	logger, closeLog, err := newLogger(cfg.Daemon, runID)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := signalContext(logger)
	defer cancel()

	if cfg.Daemon.PIDFile != "" {
		if err := daemon.AcquirePID(cfg.Daemon.PIDFile); err != nil {
			return err
		}
		defer func() {
			if err := daemon.ReleasePID(cfg.Daemon.PIDFile); err != nil {
				logger.Warn("failed to release PID file", "error", err)
			}
		}()
	}

	loop, err := newLoop(cfg, runID, logger)
	if err != nil {
		return err
	}

	if cfg.Daemon.SocketPath != "" {
		srv := daemon.NewIPCServer(cfg.Daemon.SocketPath, daemon.LoopHandler{Loop: loop}, logger)
		if err := srv.Start(); err != nil {
			logger.Warn("control socket unavailable", "path", cfg.Daemon.SocketPath, "error", err)
		} else {
			defer srv.Stop()
			logger.Debug("control socket listening", "path", cfg.Daemon.SocketPath)
		}
	}

	logger.Info("host-pulse starting", "version", version, "pid", os.Getpid())
	err = loop.Run(ctx)
	if isShutdown(err) {
		logger.Info("telemetry stopped")
		return nil
	}
	return err
}

// runOnce delivers one report and exits non-zero if it was not accepted.
func runOnce(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	runID := newRunID()
	logger, closeLog, err := newLogger(cfg.Daemon, runID)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := signalContext(logger)
	defer cancel()

	loop, err := newLoop(cfg, runID, logger)
	if err != nil {
		return err
	}
	err = loop.RunOnce(ctx)
	if isShutdown(err) {
		logger.Info("telemetry stopped")
		return nil
	}
	return err
}

// runPreview collects a report and prints it locally. Credentials are not
// needed.
func runPreview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	quiet := cfg.Daemon
	quiet.LogFile = ""
	if !verbose {
		quiet.LogLevel = "warn"
	}
	logger, closeLog, err := newLogger(quiet, "")
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := signalContext(logger)
	defer cancel()

	reg, err := newRegistry(cfg.Collect)
	if err != nil {
		return err
	}
	builder, err := newBuilder(cfg, reg, logger)
	if err != nil {
		return err
	}
	return preview.New(os.Stdout).Print(builder.Collect(ctx))
}

// runStatus prints the daemon's HealthStatus, falling back to the health
// file when the control socket does not answer.
func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()

	st, err := daemon.NewIPCClient(cfg.Daemon.SocketPath).Status(ctx)
	if err != nil {
		fileSt, fileErr := daemon.ReadHealthFile(cfg.Daemon.HealthFile)
		if fileErr != nil {
			return fmt.Errorf("daemon not reachable: %w", errors.Join(err, fileErr))
		}
		fmt.Fprintf(os.Stderr, "daemon not reachable (%v); showing %s\n", err, cfg.Daemon.HealthFile)
		st = fileSt
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		return err
	}
	if !st.Healthy() {
		return fmt.Errorf("last delivery failed (%d consecutive failures)", st.ConsecutiveFailures)
	}
	return nil
}

// runSend triggers an immediate cycle on a running daemon.
func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()

	pending, err := daemon.NewIPCClient(cfg.Daemon.SocketPath).Trigger(ctx)
	if err != nil {
		return err
	}
	if pending {
		fmt.Println("a delivery was already queued; it will run next")
	} else {
		fmt.Println("delivery triggered")
	}
	return nil
}

// newLoop assembles collectors, builder, notifier and loop from cfg.
func newLoop(cfg *config.Config, runID string, logger *slog.Logger) (*daemon.Loop, error) {
	reg, err := newRegistry(cfg.Collect)
	if err != nil {
		return nil, err
	}
	builder, err := newBuilder(cfg, reg, logger)
	if err != nil {
		return nil, err
	}
	notifier := newNotifier(cfg.Telegram, logger)

	return daemon.NewLoop(daemon.LoopConfig{
		Interval:   cfg.Loop.Interval.Duration,
		MaxDelay:   cfg.Loop.MaxDelay.Duration,
		HealthFile: cfg.Daemon.HealthFile,
		RunID:      runID,
		Version:    version,
	}, builder, notifier, logger, daemon.WithRegistry(reg)), nil
}

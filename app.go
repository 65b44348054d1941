package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"gitlab.com/tinyland/lab/host-pulse/pkg/collectors"
	"gitlab.com/tinyland/lab/host-pulse/pkg/collectors/containers"
	"gitlab.com/tinyland/lab/host-pulse/pkg/collectors/publicip"
	"gitlab.com/tinyland/lab/host-pulse/pkg/collectors/sysmetrics"
	"gitlab.com/tinyland/lab/host-pulse/pkg/collectors/tailscale"
	"gitlab.com/tinyland/lab/host-pulse/pkg/config"
	"gitlab.com/tinyland/lab/host-pulse/pkg/notify"
	"gitlab.com/tinyland/lab/host-pulse/pkg/report"
	"gitlab.com/tinyland/lab/host-pulse/pkg/sink"
)

// loadConfig reads the .env file, then the config file, then applies
// environment overrides.
func loadConfig() (*config.Config, error) {
	if envFile != "" {
		if err := config.LoadEnvFile(envFile, false); err != nil {
			return nil, err
		}
	} else if err := config.LoadEnvFile(".env", true); err != nil {
		return nil, err
	}

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. Output goes to stderr and, when a
// log file is configured, to that file as well.
func newLogger(cfg config.DaemonConfig, runID string) (*slog.Logger, func(), error) {
	level := parseLevel(cfg.LogLevel)
	if verbose {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stderr
	closeFn := func() {}
	if cfg.LogFile != "" {
		if err := ensureLogDir(cfg.LogFile); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, logFile)
		closeFn = func() { logFile.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	if runID != "" {
		logger = logger.With("run", runID)
	}
	return logger, closeFn, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ensureLogDir creates the parent directory of the log file.
func ensureLogDir(logFile string) error {
	return os.MkdirAll(filepath.Dir(logFile), 0o755)
}

// newRunID returns the identifier attached to every log line of this
// process.
func newRunID() string {
	return uuid.NewString()
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received shutdown signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

// newRegistry registers every collector the config enables.
func newRegistry(cfg config.CollectConfig) (*collectors.Registry, error) {
	reg := collectors.NewRegistry()

	cs := []collectors.Collector{
		sysmetrics.New(sysmetrics.Config{
			SampleWindow: cfg.CPUSampleWindow.Duration,
			DiskPath:     cfg.DiskPath,
		}),
		publicip.New(publicip.Config{
			URL:     cfg.PublicIPURL,
			Timeout: cfg.PublicIPTimeout.Duration,
		}, http.DefaultClient),
		containers.New(containers.Config{
			Runtime: cfg.ContainerRuntime,
			Timeout: cfg.ContainerTimeout.Duration,
		}),
	}
	if cfg.Tailscale {
		cs = append(cs, tailscale.New(tailscale.Config{
			Timeout: cfg.TailscaleTimeout.Duration,
		}, tailscale.NewLocalClient(cfg.TailscaleSocket)))
	}

	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// newBuilder wires the registry and optional sinks into a report builder.
func newBuilder(cfg *config.Config, reg *collectors.Registry, logger *slog.Logger) (*report.Builder, error) {
	opts := []report.BuilderOption{report.WithHostLabel(cfg.Collect.HostLabel)}

	if cfg.Greptime.Enabled {
		host := cfg.Collect.HostLabel
		if host == "" {
			host, _ = os.Hostname()
		}
		g, err := sink.NewGreptime(sink.Config{
			Host:     cfg.Greptime.Host,
			Port:     cfg.Greptime.Port,
			Database: cfg.Greptime.Database,
			Table:    cfg.Greptime.Table,
			Username: cfg.Greptime.Username,
			Password: cfg.Greptime.Password,
			Timeout:  cfg.Greptime.Timeout.Duration,
		}, host, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("greptime sink enabled", "host", cfg.Greptime.Host, "port", cfg.Greptime.Port, "table", cfg.Greptime.Table)
		opts = append(opts, report.WithSink(g))
	}

	return report.NewBuilder(reg, logger, opts...), nil
}

func newNotifier(cfg config.TelegramConfig, logger *slog.Logger) *notify.Telegram {
	return notify.NewTelegram(notify.Config{
		BotToken:        cfg.BotToken,
		ChannelID:       cfg.ChannelID,
		APIBaseURL:      cfg.APIBaseURL,
		Timeout:         cfg.Timeout.Duration,
		AutoDeleteAfter: cfg.AutoDeleteAfter.Duration,
	}, http.DefaultClient, logger)
}

// isShutdown reports whether err is the loop ending because of a signal.
func isShutdown(err error) bool {
	return errors.Is(err, context.Canceled)
}

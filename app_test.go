package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gitlab.com/tinyland/lab/host-pulse/pkg/config"
	"gitlab.com/tinyland/lab/host-pulse/pkg/report"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"loud", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLoggerWritesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "host-pulse.log")

	logger, closeLog, err := newLogger(config.DaemonConfig{
		LogLevel:  "info",
		LogFormat: "json",
		LogFile:   path,
	}, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("cycle complete", "delivered", true)
	logger.Debug("hidden")
	closeLog()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if !strings.Contains(out, `"msg":"cycle complete"`) {
		t.Errorf("log file missing message: %s", out)
	}
	if !strings.Contains(out, `"run":"run-1"`) {
		t.Errorf("log file missing run id: %s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line written at info level: %s", out)
	}
}

func TestNewRegistry(t *testing.T) {
	cfg := config.DefaultConfig().Collect

	reg, err := newRegistry(cfg)
	if err != nil {
		t.Fatal(err)
	}
	got := strings.Join(reg.List(), ",")
	want := strings.Join([]string{report.Containers, report.PublicIP, report.SysMetrics}, ",")
	if got != want {
		t.Errorf("collectors = %s, want %s", got, want)
	}

	cfg.Tailscale = true
	reg, err = newRegistry(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := reg.Get(report.Tailscale); !ok {
		t.Error("tailscale collector not registered when enabled")
	}
}

func TestNewRunIDUnique(t *testing.T) {
	a, b := newRunID(), newRunID()
	if a == "" || a == b {
		t.Errorf("run ids %q and %q should be distinct and non-empty", a, b)
	}
}

func TestIsShutdown(t *testing.T) {
	if !isShutdown(context.Canceled) {
		t.Error("context.Canceled should count as shutdown")
	}
	if !isShutdown(fmt.Errorf("cycle: %w", context.Canceled)) {
		t.Error("wrapped context.Canceled should count as shutdown")
	}
	if isShutdown(errors.New("report not delivered")) || isShutdown(nil) {
		t.Error("delivery failures are not shutdowns")
	}
}

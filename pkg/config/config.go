package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the root configuration. It is built once at startup by Load and
// then handed to components as per-component value copies.
type Config struct {
	Telegram TelegramConfig `toml:"telegram" yaml:"telegram"`
	Loop     LoopConfig     `toml:"loop" yaml:"loop"`
	Collect  CollectConfig  `toml:"collect" yaml:"collect"`
	Daemon   DaemonConfig   `toml:"daemon" yaml:"daemon"`
	Greptime GreptimeConfig `toml:"greptime" yaml:"greptime"`
}

// TelegramConfig holds the bot credential and message options.
type TelegramConfig struct {
	BotToken        string   `toml:"bot_token" yaml:"bot_token"`
	ChannelID       string   `toml:"channel_id" yaml:"channel_id"`
	APIBaseURL      string   `toml:"api_base_url" yaml:"api_base_url"`
	Timeout         Duration `toml:"timeout" yaml:"timeout"`
	AutoDeleteAfter Duration `toml:"auto_delete_after" yaml:"auto_delete_after"`
}

// LoopConfig controls delivery cadence and backoff.
type LoopConfig struct {
	// Interval is the base wait between cycles after a successful delivery.
	Interval Duration `toml:"interval" yaml:"interval"`

	// MaxDelay caps the wait after consecutive failures. The default equals
	// Interval, which means failures never slow delivery down.
	MaxDelay Duration `toml:"max_delay" yaml:"max_delay"`
}

// CollectConfig controls the report's sub-collectors.
type CollectConfig struct {
	HostLabel        string   `toml:"host_label" yaml:"host_label"`
	CPUSampleWindow  Duration `toml:"cpu_sample_window" yaml:"cpu_sample_window"`
	DiskPath         string   `toml:"disk_path" yaml:"disk_path"`
	PublicIPURL      string   `toml:"public_ip_url" yaml:"public_ip_url"`
	PublicIPTimeout  Duration `toml:"public_ip_timeout" yaml:"public_ip_timeout"`
	ContainerRuntime string   `toml:"container_runtime" yaml:"container_runtime"`
	ContainerTimeout Duration `toml:"container_timeout" yaml:"container_timeout"`
	Tailscale        bool     `toml:"tailscale" yaml:"tailscale"`
	TailscaleSocket  string   `toml:"tailscale_socket" yaml:"tailscale_socket"`
	TailscaleTimeout Duration `toml:"tailscale_timeout" yaml:"tailscale_timeout"`
}

// DaemonConfig holds process-level settings.
type DaemonConfig struct {
	LogLevel   string `toml:"log_level" yaml:"log_level"`
	LogFormat  string `toml:"log_format" yaml:"log_format"`
	LogFile    string `toml:"log_file" yaml:"log_file"`
	PIDFile    string `toml:"pid_file" yaml:"pid_file"`
	HealthFile string `toml:"health_file" yaml:"health_file"`
	SocketPath string `toml:"socket_path" yaml:"socket_path"`
}

// GreptimeConfig enables the optional GreptimeDB sink, which stores each
// cycle's numeric metrics alongside the chat report.
type GreptimeConfig struct {
	Enabled  bool     `toml:"enabled" yaml:"enabled"`
	Host     string   `toml:"host" yaml:"host"`
	Port     int      `toml:"port" yaml:"port"`
	Database string   `toml:"database" yaml:"database"`
	Table    string   `toml:"table" yaml:"table"`
	Username string   `toml:"username" yaml:"username"`
	Password string   `toml:"password" yaml:"password"`
	Timeout  Duration `toml:"timeout" yaml:"timeout"`
}

// ErrMissingCredential is returned by Validate when the bot token or the
// destination channel is not configured.
var ErrMissingCredential = errors.New("telegram bot token and channel id are required")

// Validate reports configuration that would keep the daemon from doing
// anything useful. Missing credentials are fatal at startup.
func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" || c.Telegram.ChannelID == "" {
		return ErrMissingCredential
	}
	if _, err := url.ParseRequestURI(c.Telegram.APIBaseURL); err != nil {
		return fmt.Errorf("telegram.api_base_url: %w", err)
	}
	if c.Loop.Interval.Duration <= 0 {
		return fmt.Errorf("loop.interval must be positive, got %s", c.Loop.Interval.Duration)
	}
	if c.Telegram.Timeout.Duration <= 0 {
		return fmt.Errorf("telegram.timeout must be positive, got %s", c.Telegram.Timeout.Duration)
	}
	if c.Collect.PublicIPURL != "" {
		if _, err := url.ParseRequestURI(c.Collect.PublicIPURL); err != nil {
			return fmt.Errorf("collect.public_ip_url: %w", err)
		}
	}
	if c.Greptime.Enabled {
		if c.Greptime.Host == "" {
			return fmt.Errorf("greptime.host is required when greptime.enabled is set")
		}
		if c.Greptime.Port <= 0 || c.Greptime.Port > 65535 {
			return fmt.Errorf("greptime.port %d out of range", c.Greptime.Port)
		}
	}
	switch strings.ToLower(c.Daemon.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("daemon.log_format must be text or json, got %q", c.Daemon.LogFormat)
	}
	switch strings.ToLower(c.Daemon.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("daemon.log_level %q is not recognized", c.Daemon.LogLevel)
	}
	return nil
}

// DegenerateBackoff reports whether the backoff ceiling is no larger than the
// base interval, in which case delivery failures never lengthen the wait.
func (c *Config) DegenerateBackoff() bool {
	return c.Loop.MaxDelay.Duration <= c.Loop.Interval.Duration
}

// defaultInterval is the base delivery interval.
const defaultInterval = 5 * time.Minute

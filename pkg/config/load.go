package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Format selects the file decoder.
type Format int

const (
	// FormatTOML decodes with BurntSushi/toml.
	FormatTOML Format = iota
	// FormatYAML decodes with yaml.v3.
	FormatYAML
)

// Load reads configuration from the standard config path.
// Search order:
//  1. $XDG_CONFIG_HOME/host-pulse/config.toml
//  2. $XDG_CONFIG_HOME/host-pulse/config.yaml
//  3. ~/.config/host-pulse/config.{toml,yaml} when XDG_CONFIG_HOME is set
//
// If no file exists, returns DefaultConfig() with environment overrides.
func Load() (*Config, error) {
	for _, p := range configSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return LoadFromFile(p)
		}
	}
	cfg := DefaultConfig()
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path. The decoder
// is chosen by extension: .yaml and .yml use YAML, everything else TOML.
func LoadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			if err := applyEnvOverrides(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f, formatForPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader reads configuration from an io.Reader in the given format.
func LoadFromReader(r io.Reader, format Format) (*Config, error) {
	cfg := DefaultConfig()
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && err != io.EOF {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		md, err := toml.NewDecoder(r).Decode(cfg)
		if err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
		if undec := md.Undecoded(); len(undec) > 0 {
			return nil, fmt.Errorf("parse toml: unknown key %q", undec[0].String())
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFile loads KEY=value pairs from a dotenv file into the process
// environment. Variables already set are left alone. A missing file is not
// an error when optional is true.
func LoadEnvFile(path string, optional bool) error {
	if _, err := os.Stat(path); err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("env file %s: %w", path, err)
	}
	return nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	stateDir := filepath.Join(xdgStateHome(home), "host-pulse")

	return &Config{
		Telegram: TelegramConfig{
			APIBaseURL:      "https://api.telegram.org",
			Timeout:         Duration{10 * time.Second},
			AutoDeleteAfter: Duration{24 * time.Hour},
		},
		Loop: LoopConfig{
			Interval: Duration{defaultInterval},
			MaxDelay: Duration{defaultInterval},
		},
		Collect: CollectConfig{
			CPUSampleWindow:  Duration{1 * time.Second},
			DiskPath:         "/",
			PublicIPURL:      "https://api.ipify.org",
			PublicIPTimeout:  Duration{3 * time.Second},
			ContainerRuntime: "docker",
			ContainerTimeout: Duration{5 * time.Second},
			TailscaleTimeout: Duration{3 * time.Second},
		},
		Daemon: DaemonConfig{
			LogLevel:   "info",
			LogFormat:  "text",
			PIDFile:    filepath.Join(stateDir, "host-pulse.pid"),
			HealthFile: filepath.Join(stateDir, "health.json"),
			SocketPath: filepath.Join(stateDir, "host-pulse.sock"),
		},
		Greptime: GreptimeConfig{
			Host:     "127.0.0.1",
			Port:     4001,
			Database: "public",
			Table:    "host_pulse_metrics",
			Timeout:  Duration{5 * time.Second},
		},
	}
}

// applyEnvOverrides checks environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHANNEL_ID"); v != "" {
		cfg.Telegram.ChannelID = v
	}
	if v := os.Getenv("HOSTPULSE_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
	}
	if v := os.Getenv("GREPTIMEDB_PASSWORD"); v != "" {
		cfg.Greptime.Password = v
	}

	durations := []struct {
		env  string
		dsts []*Duration
	}{
		{"HOSTPULSE_INTERVAL", []*Duration{&cfg.Loop.Interval}},
		{"HOSTPULSE_DELIVERY_TIMEOUT", []*Duration{&cfg.Telegram.Timeout}},
		{"HOSTPULSE_COLLECT_TIMEOUT", []*Duration{&cfg.Collect.PublicIPTimeout, &cfg.Collect.ContainerTimeout, &cfg.Collect.TailscaleTimeout}},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.env, err)
		}
		for _, dst := range d.dsts {
			dst.Duration = parsed
		}
	}
	return nil
}

// formatForPath picks the decoder for a config file path.
func formatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// configSearchPaths returns the ordered list of config file paths to try.
func configSearchPaths() []string {
	home, _ := os.UserHomeDir()
	var dirs []string

	xdg := xdgConfigHome(home)
	dirs = append(dirs, filepath.Join(xdg, "host-pulse"))

	// If XDG_CONFIG_HOME was explicitly set, also try the fallback default.
	defaultXDG := filepath.Join(home, ".config")
	if xdg != defaultXDG {
		dirs = append(dirs, filepath.Join(defaultXDG, "host-pulse"))
	}

	var paths []string
	for _, d := range dirs {
		paths = append(paths,
			filepath.Join(d, "config.toml"),
			filepath.Join(d, "config.yaml"),
		)
	}
	return paths
}

// xdgConfigHome returns XDG_CONFIG_HOME or ~/.config as fallback.
func xdgConfigHome(home string) string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	return filepath.Join(home, ".config")
}

// xdgStateHome returns XDG_STATE_HOME or ~/.local/state as fallback.
func xdgStateHome(home string) string {
	if v := os.Getenv("XDG_STATE_HOME"); v != "" {
		return v
	}
	return filepath.Join(home, ".local", "state")
}

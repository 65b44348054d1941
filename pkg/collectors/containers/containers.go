// Package containers lists running containers by invoking the container
// runtime CLI (docker or podman) and parsing its formatted output.
package containers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Default configuration values.
const (
	DefaultRuntime = "docker"
	DefaultTimeout = 5 * time.Second

	// listFormat asks the runtime for one "name|status" line per container.
	listFormat = "{{.Names}}|{{.Status}}"
)

// Config holds the configuration for the containers collector.
type Config struct {
	// Runtime is the CLI binary to invoke. "auto" picks the first of docker
	// or podman found on PATH.
	Runtime string

	// Timeout bounds a single invocation. Zero uses DefaultTimeout.
	Timeout time.Duration
}

// Container is one parsed line of runtime output.
type Container struct {
	Name string `json:"name"`

	// Status is the full status text, e.g. "Up 3 hours (healthy)".
	Status string `json:"status"`

	// Short is the first status token, e.g. "Up", or "Unknown" when the
	// runtime printed no status.
	Short string `json:"short"`

	// Raw is set instead of the fields above when the line could not be
	// split into name and status.
	Raw string `json:"raw,omitempty"`
}

// RuntimeError describes a failed runtime invocation.
type RuntimeError struct {
	Runtime string
	Err     error
	Stderr  string
}

func (e *RuntimeError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %v: %s", e.Runtime, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s: %v", e.Runtime, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// ErrNoRuntime is returned when Runtime is "auto" and neither docker nor
// podman is installed.
var ErrNoRuntime = errors.New("no container runtime found on PATH")

// CommandRunner executes a program and returns its standard output. Tests
// replace it to simulate invocation failures.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// execRunner runs the command with os/exec.
func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Collector lists running containers once per Collect call.
type Collector struct {
	cfg      Config
	run      CommandRunner
	lookPath func(string) (string, error)

	mu      sync.Mutex
	healthy bool
}

// New creates a containers collector that shells out to the runtime CLI.
func New(cfg Config) *Collector {
	return NewWithRunner(cfg, execRunner)
}

// NewWithRunner creates a collector that executes commands through run.
func NewWithRunner(cfg Config, run CommandRunner) *Collector {
	if cfg.Runtime == "" {
		cfg.Runtime = DefaultRuntime
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Collector{
		cfg:      cfg,
		run:      run,
		lookPath: exec.LookPath,
		healthy:  true,
	}
}

// Name returns the collector identifier.
func (c *Collector) Name() string {
	return "containers"
}

// Healthy returns whether the last invocation succeeded.
func (c *Collector) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy
}

func (c *Collector) setHealthy(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthy = v
}

// Collect returns the running containers as []Container.
func (c *Collector) Collect(ctx context.Context) (interface{}, error) {
	list, err := c.List(ctx)
	if err != nil {
		c.setHealthy(false)
		return nil, err
	}
	c.setHealthy(true)
	return list, nil
}

// List invokes "<runtime> ps --format ..." under the configured timeout and
// parses its output. A non-zero exit is treated as a failure.
func (c *Collector) List(ctx context.Context) ([]Container, error) {
	runtime, err := c.resolveRuntime()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	out, err := c.run(ctx, runtime, "ps", "--format", listFormat)
	if err != nil {
		rerr := &RuntimeError{Runtime: runtime, Err: err}
		if ctx.Err() == context.DeadlineExceeded {
			rerr.Err = fmt.Errorf("timed out after %s: %w", c.cfg.Timeout, context.DeadlineExceeded)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			rerr.Stderr = firstLine(exitErr.Stderr)
		}
		return nil, rerr
	}
	return ParseList(string(out)), nil
}

// resolveRuntime maps "auto" to an installed runtime.
func (c *Collector) resolveRuntime() (string, error) {
	if c.cfg.Runtime != "auto" {
		return c.cfg.Runtime, nil
	}
	for _, name := range []string{"docker", "podman"} {
		if _, err := c.lookPath(name); err == nil {
			return name, nil
		}
	}
	return "", ErrNoRuntime
}

// ParseList parses "name|status" lines. Blank lines are skipped. A line
// without a separator, or with a status made only of whitespace, is kept
// verbatim in Raw.
func ParseList(out string) []Container {
	var list []Container
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		list = append(list, parseLine(line))
	}
	return list
}

func parseLine(line string) Container {
	name, status, ok := strings.Cut(line, "|")
	if !ok {
		return Container{Raw: line}
	}
	if status == "" {
		return Container{Name: name, Short: "Unknown"}
	}
	fields := strings.Fields(status)
	if len(fields) == 0 {
		return Container{Raw: line}
	}
	return Container{Name: name, Status: status, Short: fields[0]}
}

// firstLine returns the first non-empty line of b, trimmed.
func firstLine(b []byte) string {
	for _, line := range bytes.Split(b, []byte("\n")) {
		if s := strings.TrimSpace(string(line)); s != "" {
			return s
		}
	}
	return ""
}

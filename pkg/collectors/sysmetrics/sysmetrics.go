// Package sysmetrics provides a cross-platform host metrics collector for
// host-pulse. It uses gopsutil to gather CPU, memory, disk, network, load,
// and uptime data on both Darwin and Linux without /proc dependencies.
package sysmetrics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"

	"gitlab.com/tinyland/lab/host-pulse/pkg/collectors"
)

// Config controls the SysMetrics collector behaviour.
type Config struct {
	// SampleWindow is how long CPU usage is measured over (default 1s).
	SampleWindow time.Duration

	// DiskPath is the mount whose usage is reported (default "/").
	DiskPath string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SampleWindow: time.Second,
		DiskPath:     "/",
	}
}

// --- Metric data types ---

// MemoryMetrics holds physical memory statistics.
type MemoryMetrics struct {
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"used_percent"`
}

// DiskMetrics holds usage data for a single mount point.
type DiskMetrics struct {
	Path        string  `json:"path"`
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"used_percent"`
}

// NetworkMetrics holds cumulative byte counters across all interfaces since
// boot.
type NetworkMetrics struct {
	BytesSent uint64 `json:"bytes_sent"`
	BytesRecv uint64 `json:"bytes_recv"`
}

// LoadMetrics holds system load averages.
type LoadMetrics struct {
	Load1  float64 `json:"load1"`
	Load5  float64 `json:"load5"`
	Load15 float64 `json:"load15"`
}

// Metrics is the snapshot returned by Collect. Each field fails
// independently.
type Metrics struct {
	CPU       collectors.Result[float64]
	Memory    collectors.Result[MemoryMetrics]
	Disk      collectors.Result[DiskMetrics]
	Network   collectors.Result[NetworkMetrics]
	Load      collectors.Result[LoadMetrics]
	Uptime    collectors.Result[time.Duration]
	Timestamp time.Time
}

// Source is the subset of gopsutil the collector calls. Tests swap it for a
// fake so failure paths can be exercised on any host.
type Source interface {
	CPUPercent(ctx context.Context, window time.Duration) (float64, error)
	VirtualMemory(ctx context.Context) (MemoryMetrics, error)
	DiskUsage(ctx context.Context, path string) (DiskMetrics, error)
	NetIO(ctx context.Context) (NetworkMetrics, error)
	LoadAvg(ctx context.Context) (LoadMetrics, error)
	BootTime(ctx context.Context) (time.Time, error)
}

// --- Collector implementation ---

// Collector gathers system metrics via gopsutil. It satisfies the
// collectors.Collector interface (Name, Collect, Healthy).
type Collector struct {
	cfg     Config
	src     Source
	now     func() time.Time
	mu      sync.Mutex
	healthy bool
}

// New creates a Collector backed by gopsutil. Zero-value fields in cfg are
// replaced with defaults.
func New(cfg Config) *Collector {
	return NewWithSource(cfg, gopsutilSource{})
}

// NewWithSource creates a Collector that reads from src.
func NewWithSource(cfg Config, src Source) *Collector {
	if cfg.SampleWindow <= 0 {
		cfg.SampleWindow = DefaultConfig().SampleWindow
	}
	if cfg.DiskPath == "" {
		cfg.DiskPath = DefaultConfig().DiskPath
	}
	return &Collector{
		cfg:     cfg,
		src:     src,
		now:     time.Now,
		healthy: true, // healthy until proven otherwise
	}
}

// Name returns the collector's unique identifier.
func (c *Collector) Name() string {
	return "sysmetrics"
}

// Healthy reports whether the last collection produced any data.
func (c *Collector) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy
}

// setHealthy updates the health flag in a thread-safe manner.
func (c *Collector) setHealthy(h bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthy = h
}

// Collect gathers all host metrics. It always returns a Metrics value; the
// error aggregates the fields that failed. A cancelled context returns
// immediately with an error.
func (c *Collector) Collect(ctx context.Context) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := c.Sample(ctx)

	var errs []string
	for _, f := range []struct {
		name string
		err  error
	}{
		{"cpu", m.CPU.Err},
		{"memory", m.Memory.Err},
		{"disk", m.Disk.Err},
		{"network", m.Network.Err},
		{"load", m.Load.Err},
		{"uptime", m.Uptime.Err},
	} {
		if f.err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", f.name, f.err))
		}
	}

	switch {
	case len(errs) == 6:
		c.setHealthy(false)
		return m, fmt.Errorf("sysmetrics: all sub-collectors failed: %s", strings.Join(errs, "; "))
	case len(errs) > 0:
		// Partial failures are not fatal; the collector is still healthy as
		// long as at least one field produced data.
		c.setHealthy(true)
		return m, fmt.Errorf("sysmetrics: partial errors: %s", strings.Join(errs, "; "))
	}
	c.setHealthy(true)
	return m, nil
}

// Sample reads every metric once. Fields that fail carry their error.
func (c *Collector) Sample(ctx context.Context) Metrics {
	m := Metrics{Timestamp: c.now()}

	if pct, err := c.src.CPUPercent(ctx, c.cfg.SampleWindow); err != nil {
		m.CPU = collectors.Fail[float64](err)
	} else {
		m.CPU = collectors.OK(pct)
	}

	if vm, err := c.src.VirtualMemory(ctx); err != nil {
		m.Memory = collectors.Fail[MemoryMetrics](err)
	} else {
		m.Memory = collectors.OK(vm)
	}

	if du, err := c.src.DiskUsage(ctx, c.cfg.DiskPath); err != nil {
		m.Disk = collectors.Fail[DiskMetrics](err)
	} else {
		m.Disk = collectors.OK(du)
	}

	if nio, err := c.src.NetIO(ctx); err != nil {
		m.Network = collectors.Fail[NetworkMetrics](err)
	} else {
		m.Network = collectors.OK(nio)
	}

	if avg, err := c.src.LoadAvg(ctx); err != nil {
		m.Load = collectors.Fail[LoadMetrics](err)
	} else {
		m.Load = collectors.OK(avg)
	}

	if boot, err := c.src.BootTime(ctx); err != nil {
		m.Uptime = collectors.Fail[time.Duration](err)
	} else {
		up := m.Timestamp.Sub(boot)
		if up < 0 {
			up = 0
		}
		m.Uptime = collectors.OK(up)
	}

	return m
}

// --- gopsutil-backed source ---

type gopsutilSource struct{}

var errNoCPUSample = errors.New("no cpu sample returned")

func (gopsutilSource) CPUPercent(ctx context.Context, window time.Duration) (float64, error) {
	total, err := cpu.PercentWithContext(ctx, window, false)
	if err != nil {
		return 0, err
	}
	if len(total) == 0 {
		return 0, errNoCPUSample
	}
	return total[0], nil
}

func (gopsutilSource) VirtualMemory(ctx context.Context) (MemoryMetrics, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return MemoryMetrics{}, err
	}
	return MemoryMetrics{
		Total:       vm.Total,
		Used:        vm.Used,
		UsedPercent: vm.UsedPercent,
	}, nil
}

func (gopsutilSource) DiskUsage(ctx context.Context, path string) (DiskMetrics, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return DiskMetrics{}, err
	}
	return DiskMetrics{
		Path:        usage.Path,
		Total:       usage.Total,
		Used:        usage.Used,
		UsedPercent: usage.UsedPercent,
	}, nil
}

func (gopsutilSource) NetIO(ctx context.Context) (NetworkMetrics, error) {
	counters, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return NetworkMetrics{}, err
	}
	if len(counters) == 0 {
		return NetworkMetrics{}, errors.New("no network counters returned")
	}
	return NetworkMetrics{
		BytesSent: counters[0].BytesSent,
		BytesRecv: counters[0].BytesRecv,
	}, nil
}

func (gopsutilSource) LoadAvg(ctx context.Context) (LoadMetrics, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return LoadMetrics{}, err
	}
	return LoadMetrics{Load1: avg.Load1, Load5: avg.Load5, Load15: avg.Load15}, nil
}

func (gopsutilSource) BootTime(ctx context.Context) (time.Time, error) {
	secs, err := host.BootTimeWithContext(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(secs), 0), nil
}

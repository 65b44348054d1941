package sysmetrics

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// fakeSource returns canned values; any non-nil error field makes the
// matching call fail.
type fakeSource struct {
	cpu     float64
	mem     MemoryMetrics
	disk    DiskMetrics
	netio   NetworkMetrics
	load    LoadMetrics
	boot    time.Time
	cpuErr  error
	memErr  error
	diskErr error
	netErr  error
	loadErr error
	bootErr error

	gotWindow time.Duration
	gotPath   string
}

func (f *fakeSource) CPUPercent(ctx context.Context, window time.Duration) (float64, error) {
	f.gotWindow = window
	return f.cpu, f.cpuErr
}

func (f *fakeSource) VirtualMemory(ctx context.Context) (MemoryMetrics, error) {
	return f.mem, f.memErr
}

func (f *fakeSource) DiskUsage(ctx context.Context, path string) (DiskMetrics, error) {
	f.gotPath = path
	return f.disk, f.diskErr
}

func (f *fakeSource) NetIO(ctx context.Context) (NetworkMetrics, error) {
	return f.netio, f.netErr
}

func (f *fakeSource) LoadAvg(ctx context.Context) (LoadMetrics, error) {
	return f.load, f.loadErr
}

func (f *fakeSource) BootTime(ctx context.Context) (time.Time, error) {
	return f.boot, f.bootErr
}

var testNow = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

func newFakeCollector(src *fakeSource) *Collector {
	c := NewWithSource(Config{SampleWindow: 250 * time.Millisecond, DiskPath: "/srv"}, src)
	c.now = func() time.Time { return testNow }
	return c
}

func healthySource() *fakeSource {
	return &fakeSource{
		cpu:   12.5,
		mem:   MemoryMetrics{Total: 8 << 30, Used: 3 << 30, UsedPercent: 37.5},
		disk:  DiskMetrics{Path: "/srv", Total: 100 << 30, Used: 40 << 30, UsedPercent: 40},
		netio: NetworkMetrics{BytesSent: 5 << 20, BytesRecv: 9 << 20},
		load:  LoadMetrics{Load1: 0.5, Load5: 0.4, Load15: 0.3},
		boot:  testNow.Add(-(26*time.Hour + 7*time.Minute)),
	}
}

// --- Interface method tests ---

func TestName(t *testing.T) {
	c := New(DefaultConfig())
	if got := c.Name(); got != "sysmetrics" {
		t.Errorf("Name() = %q, want %q", got, "sysmetrics")
	}
}

func TestHealthyInitialState(t *testing.T) {
	c := New(DefaultConfig())
	if !c.Healthy() {
		t.Error("Healthy() should be true before any collection")
	}
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.SampleWindow != time.Second {
		t.Errorf("DefaultConfig SampleWindow = %v, want 1s", cfg.SampleWindow)
	}
	if cfg.DiskPath != "/" {
		t.Errorf("DefaultConfig DiskPath = %q, want /", cfg.DiskPath)
	}
}

func TestZeroConfigUsesDefaults(t *testing.T) {
	src := healthySource()
	c := NewWithSource(Config{}, src)
	c.Sample(context.Background())
	if src.gotWindow != time.Second {
		t.Errorf("window = %v, want 1s", src.gotWindow)
	}
	if src.gotPath != "/" {
		t.Errorf("path = %q, want /", src.gotPath)
	}
}

// --- Fake-source tests ---

func TestCollectAllFields(t *testing.T) {
	src := healthySource()
	c := newFakeCollector(src)

	result, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect() error: %v", err)
	}
	m, ok := result.(Metrics)
	if !ok {
		t.Fatalf("Collect() returned %T, want Metrics", result)
	}

	if src.gotWindow != 250*time.Millisecond {
		t.Errorf("CPU window = %v, want 250ms", src.gotWindow)
	}
	if src.gotPath != "/srv" {
		t.Errorf("disk path = %q, want /srv", src.gotPath)
	}
	if !m.CPU.Valid() || m.CPU.Value != 12.5 {
		t.Errorf("CPU = %+v", m.CPU)
	}
	if !m.Memory.Valid() || m.Memory.Value.UsedPercent != 37.5 {
		t.Errorf("Memory = %+v", m.Memory)
	}
	if !m.Network.Valid() || m.Network.Value.BytesRecv != 9<<20 {
		t.Errorf("Network = %+v", m.Network)
	}
	if want := 26*time.Hour + 7*time.Minute; m.Uptime.Value != want {
		t.Errorf("Uptime = %v, want %v", m.Uptime.Value, want)
	}
	if !m.Timestamp.Equal(testNow) {
		t.Errorf("Timestamp = %v", m.Timestamp)
	}
	if !c.Healthy() {
		t.Error("should be healthy")
	}
}

func TestCollectFieldsFailIndependently(t *testing.T) {
	src := healthySource()
	src.netErr = errors.New("no such file or directory")
	src.bootErr = errors.New("boot time unavailable")
	c := newFakeCollector(src)

	result, err := c.Collect(context.Background())
	if err == nil {
		t.Fatal("expected partial error")
	}
	if !strings.Contains(err.Error(), "partial errors") ||
		!strings.Contains(err.Error(), "network:") ||
		!strings.Contains(err.Error(), "uptime:") {
		t.Errorf("err = %v", err)
	}

	m := result.(Metrics)
	if m.Network.Valid() || m.Uptime.Valid() {
		t.Error("network and uptime should have failed")
	}
	if !m.CPU.Valid() || !m.Memory.Valid() || !m.Disk.Valid() || !m.Load.Valid() {
		t.Error("cpu/memory/disk/load should still be populated")
	}
	if !c.Healthy() {
		t.Error("partial failure should keep the collector healthy")
	}
}

func TestCollectAllFail(t *testing.T) {
	boom := errors.New("boom")
	src := &fakeSource{
		cpuErr: boom, memErr: boom, diskErr: boom,
		netErr: boom, loadErr: boom, bootErr: boom,
	}
	c := newFakeCollector(src)

	result, err := c.Collect(context.Background())
	if err == nil || !strings.Contains(err.Error(), "all sub-collectors failed") {
		t.Fatalf("err = %v", err)
	}
	if _, ok := result.(Metrics); !ok {
		t.Fatalf("Collect() should still return Metrics, got %T", result)
	}
	if c.Healthy() {
		t.Error("should be unhealthy when everything failed")
	}
}

func TestUptimeClampsClockSkew(t *testing.T) {
	src := healthySource()
	src.boot = testNow.Add(time.Minute)
	c := newFakeCollector(src)

	m := c.Sample(context.Background())
	if m.Uptime.Value != 0 {
		t.Errorf("Uptime = %v, want 0 for boot time in the future", m.Uptime.Value)
	}
}

func TestCollectCancelledContext(t *testing.T) {
	c := newFakeCollector(healthySource())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Collect(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// --- Integration test (runs on actual host) ---

func TestCollectOnHost(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping host sampling in short mode")
	}
	c := New(Config{SampleWindow: 100 * time.Millisecond})
	m := c.Sample(context.Background())

	if !m.Memory.Valid() {
		t.Fatalf("Memory error: %v", m.Memory.Err)
	}
	if m.Memory.Value.Total == 0 {
		t.Error("Memory.Total should be > 0")
	}
	if m.Memory.Value.Used > m.Memory.Value.Total {
		t.Errorf("Memory.Used (%d) > Memory.Total (%d)", m.Memory.Value.Used, m.Memory.Value.Total)
	}
	if m.CPU.Valid() && (m.CPU.Value < 0 || m.CPU.Value > 100) {
		t.Errorf("CPU = %f, want 0-100", m.CPU.Value)
	}
	if m.Disk.Valid() && m.Disk.Value.Total == 0 {
		t.Error("Disk.Total should be > 0 for /")
	}
}

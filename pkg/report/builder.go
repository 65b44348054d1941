package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gitlab.com/tinyland/lab/host-pulse/pkg/collectors"
	"gitlab.com/tinyland/lab/host-pulse/pkg/collectors/containers"
	"gitlab.com/tinyland/lab/host-pulse/pkg/collectors/sysmetrics"
	"gitlab.com/tinyland/lab/host-pulse/pkg/collectors/tailscale"
)

// Collector names the Builder looks up in the registry.
const (
	SysMetrics = "sysmetrics"
	PublicIP   = "publicip"
	Containers = "containers"
	Tailscale  = "tailscale"
)

// Sink receives every snapshot after it is collected. A sink error is
// logged and never reaches the report.
type Sink interface {
	Record(ctx context.Context, s Snapshot) error
}

// Builder runs the registered collectors in sequence and renders the result.
// It never fails: every collector error ends up as placeholder text.
type Builder struct {
	reg    *collectors.Registry
	label  string
	logger *slog.Logger
	now    func() time.Time
	sinks  []Sink
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithHostLabel appends a label to the report header.
func WithHostLabel(label string) BuilderOption {
	return func(b *Builder) { b.label = label }
}

// WithClock overrides the time source used for the server time line.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) { b.now = now }
}

// WithSink adds a sink that stores each snapshot.
func WithSink(sink Sink) BuilderOption {
	return func(b *Builder) { b.sinks = append(b.sinks, sink) }
}

// NewBuilder creates a Builder over reg. Collectors missing from reg render
// as placeholders, except tailscale, whose line is omitted entirely.
func NewBuilder(reg *collectors.Registry, logger *slog.Logger, opts ...BuilderOption) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Builder{
		reg:    reg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Collect gathers one snapshot, hands it to the sinks, and renders it.
func (b *Builder) Collect(ctx context.Context) Report {
	s := b.Snapshot(ctx)
	for _, sink := range b.sinks {
		if err := sink.Record(ctx, s); err != nil {
			b.logger.Warn("sink failed", "error", err)
		}
	}
	return Render(s)
}

// Snapshot runs each collector once. Collectors run one after another so
// a cycle's cost is bounded by the sum of their timeouts.
func (b *Builder) Snapshot(ctx context.Context) Snapshot {
	s := Snapshot{
		HostLabel: b.label,
		Time:      b.now(),
	}

	s.System = b.system(ctx)
	s.PublicIP = runAs[string](ctx, b, PublicIP)
	s.Containers = runAs[[]containers.Container](ctx, b, Containers)

	if _, ok := b.reg.Get(Tailscale); ok {
		r := runAs[*tailscale.Status](ctx, b, Tailscale)
		s.Tailnet = &r
	}
	return s
}

// system returns the sysmetrics snapshot, keeping partial data when some
// fields failed.
func (b *Builder) system(ctx context.Context) sysmetrics.Metrics {
	data, err := b.reg.Run(ctx, SysMetrics)
	if err != nil {
		b.logger.Warn("collector failed", "collector", SysMetrics, "error", err)
	}
	if m, ok := data.(sysmetrics.Metrics); ok {
		return m
	}
	if err == nil {
		err = fmt.Errorf("%s returned %T", SysMetrics, data)
	}
	return sysmetrics.Metrics{
		CPU:       collectors.Fail[float64](err),
		Memory:    collectors.Fail[sysmetrics.MemoryMetrics](err),
		Disk:      collectors.Fail[sysmetrics.DiskMetrics](err),
		Network:   collectors.Fail[sysmetrics.NetworkMetrics](err),
		Load:      collectors.Fail[sysmetrics.LoadMetrics](err),
		Uptime:    collectors.Fail[time.Duration](err),
		Timestamp: b.now(),
	}
}

// runAs runs the named collector and converts its data into a Result.
func runAs[T any](ctx context.Context, b *Builder, name string) collectors.Result[T] {
	data, err := b.reg.Run(ctx, name)
	if err != nil {
		b.logger.Warn("collector failed", "collector", name, "error", err)
		return collectors.Fail[T](err)
	}
	v, ok := data.(T)
	if !ok {
		err := fmt.Errorf("%s returned %T", name, data)
		b.logger.Error("collector type mismatch", "collector", name, "error", err)
		return collectors.Fail[T](err)
	}
	return collectors.OK(v)
}

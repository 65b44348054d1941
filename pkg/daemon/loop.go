// Package daemon runs the delivery loop and the process plumbing around it:
// PID file, health file and the local control socket.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"gitlab.com/tinyland/lab/host-pulse/pkg/collectors"
	"gitlab.com/tinyland/lab/host-pulse/pkg/report"
)

// Reporter produces one report per cycle. It must not fail; missing data is
// rendered as placeholder text.
type Reporter interface {
	Collect(ctx context.Context) report.Report
}

// Notifier delivers a report and says whether it was accepted.
type Notifier interface {
	Deliver(ctx context.Context, r report.Report) bool
}

// ErrNotDelivered is returned by RunOnce when the notifier rejected the
// report.
var ErrNotDelivered = errors.New("report not delivered")

// LoopConfig holds the loop's timing and bookkeeping settings.
type LoopConfig struct {
	Interval   time.Duration
	MaxDelay   time.Duration
	HealthFile string
	RunID      string
	Version    string
}

// CycleResult describes one finished cycle.
type CycleResult struct {
	Started   time.Time
	Elapsed   time.Duration
	Delivered bool
	NextDelay time.Duration
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithTimer replaces the timer used for sleeping between cycles.
func WithTimer(after func(time.Duration) <-chan time.Time) LoopOption {
	return func(l *Loop) { l.after = after }
}

// WithClock overrides the time source used for health bookkeeping.
func WithClock(now func() time.Time) LoopOption {
	return func(l *Loop) { l.now = now }
}

// WithCycleHook registers a callback invoked after every cycle.
func WithCycleHook(fn func(CycleResult)) LoopOption {
	return func(l *Loop) { l.onCycle = fn }
}

// WithRegistry exposes per-collector statuses in HealthStatus.
func WithRegistry(reg *collectors.Registry) LoopOption {
	return func(l *Loop) { l.registry = reg }
}

// Loop collects a report, delivers it, and sleeps, until its context is
// cancelled. Delivery failures only lengthen the sleep.
type Loop struct {
	cfg      LoopConfig
	reporter Reporter
	notifier Notifier
	logger   *slog.Logger
	registry *collectors.Registry
	backoff  *Backoff

	after   func(time.Duration) <-chan time.Time
	now     func() time.Time
	onCycle func(CycleResult)
	trigger chan struct{}

	mu     sync.Mutex
	health HealthStatus
}

// NewLoop creates a loop. The backoff state starts at cfg.Interval.
func NewLoop(cfg LoopConfig, reporter Reporter, notifier Notifier, logger *slog.Logger, opts ...LoopOption) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		cfg:      cfg,
		reporter: reporter,
		notifier: notifier,
		logger:   logger,
		backoff:  NewBackoff(cfg.Interval, cfg.MaxDelay),
		after:    time.After,
		now:      time.Now,
		trigger:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.health = HealthStatus{
		PID:          os.Getpid(),
		RunID:        cfg.RunID,
		Version:      cfg.Version,
		StartedAt:    l.now(),
		BaseInterval: l.backoff.Base().String(),
		MaxDelay:     l.backoff.Ceiling().String(),
		CurrentDelay: l.backoff.Current().String(),
	}
	return l
}

// Run executes cycles until ctx is cancelled and then returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	if l.backoff.Degenerate() {
		l.logger.Warn("backoff ceiling does not exceed the base interval; failed deliveries will not slow retries",
			"interval", l.backoff.Base(), "max_delay", l.cfg.MaxDelay)
	}
	l.logger.Info("delivery loop started", "interval", l.backoff.Base(), "max_delay", l.backoff.Ceiling())

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		res := l.cycle(ctx)

		if err := l.wait(ctx, res.NextDelay); err != nil {
			return err
		}
	}
}

// RunOnce performs a single collect and deliver without sleeping. A report
// lost to cancellation returns ctx.Err() rather than ErrNotDelivered.
func (l *Loop) RunOnce(ctx context.Context) error {
	if res := l.cycle(ctx); !res.Delivered {
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrNotDelivered
	}
	return nil
}

// Trigger cuts the current sleep short. It never blocks; triggers that
// arrive while one is already pending are merged.
func (l *Loop) Trigger() bool {
	select {
	case l.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Status returns a copy of the loop's health.
func (l *Loop) Status() HealthStatus {
	l.mu.Lock()
	h := l.health
	l.mu.Unlock()

	if l.registry != nil {
		h.Collectors = l.registry.AllStatus()
	}
	return h
}

func (l *Loop) cycle(ctx context.Context) CycleResult {
	res := CycleResult{Started: l.now()}

	r := l.reporter.Collect(ctx)
	res.Delivered = l.notifier.Deliver(ctx, r)

	if res.Delivered {
		res.NextDelay = l.backoff.Success()
	} else {
		res.NextDelay = l.backoff.Failure()
	}
	res.Elapsed = l.now().Sub(res.Started)

	if res.Delivered {
		l.logger.Info("report delivered", "elapsed", res.Elapsed, "next_in", res.NextDelay)
	} else {
		l.logger.Warn("report not delivered, retrying later", "elapsed", res.Elapsed, "retry_in", res.NextDelay)
	}

	l.record(res)
	if l.onCycle != nil {
		l.onCycle(res)
	}
	return res
}

func (l *Loop) record(res CycleResult) {
	l.mu.Lock()
	h := &l.health
	h.Cycles++
	h.LastCycle = res.Started
	h.LastDelivered = res.Delivered
	if res.Delivered {
		h.Delivered++
		h.ConsecutiveFailures = 0
		h.LastSuccess = res.Started
	} else {
		h.Failed++
		h.ConsecutiveFailures++
	}
	h.CurrentDelay = res.NextDelay.String()
	h.NextCycle = res.Started.Add(res.Elapsed + res.NextDelay)
	l.mu.Unlock()

	if l.cfg.HealthFile == "" {
		return
	}
	status := l.Status()
	if err := WriteHealthFile(l.cfg.HealthFile, &status); err != nil {
		l.logger.Warn("health file write failed", "path", l.cfg.HealthFile, "error", err)
	}
}

func (l *Loop) wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.after(d):
		return nil
	case <-l.trigger:
		l.logger.Info("manual trigger, starting cycle early")
		return nil
	}
}

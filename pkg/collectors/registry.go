package collectors

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Registry holds the collectors that feed one report and keeps a running
// status for each. It is safe for concurrent use: the delivery loop runs
// collectors while the control socket reads statuses.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

type entry struct {
	collector Collector
	status    CollectorStatus
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Register adds c under c.Name(). Names must be unique.
func (r *Registry) Register(c Collector) error {
	name := c.Name()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.entries[name]; dup {
		return fmt.Errorf("collector %q already registered", name)
	}
	r.entries[name] = &entry{
		collector: c,
		status:    CollectorStatus{Name: name, Healthy: true},
	}
	return nil
}

// Get returns the named collector.
func (r *Registry) Get(name string) (Collector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.collector, true
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run collects once from the named collector and folds the outcome into its
// status. A panic is returned as an error; one broken collector must not
// stop the report.
func (r *Registry) Run(ctx context.Context, name string) (data interface{}, err error) {
	c, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("collector %q not registered", name)
	}

	start := r.now()
	defer func() {
		if p := recover(); p != nil {
			data, err = nil, fmt.Errorf("collector %q panicked: %v", name, p)
		}
		r.record(name, start, r.now().Sub(start), err, c.Healthy())
	}()

	return c.Collect(ctx)
}

func (r *Registry) record(name string, start time.Time, latency time.Duration, err error, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return
	}
	s := &e.status
	s.LastRun = start
	s.LastLatency = latency
	s.RunCount++
	if err != nil {
		s.ErrorCount++
		s.ConsecutiveErrors++
		s.LastError = err.Error()
		// Partial results keep a collector healthy unless it says otherwise.
		s.Healthy = healthy
		return
	}
	s.ConsecutiveErrors = 0
	s.LastError = ""
	s.LastSuccess = start
	s.Healthy = true
}

// Status returns a copy of the named collector's status.
func (r *Registry) Status(name string) (CollectorStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return CollectorStatus{}, false
	}
	return e.status, true
}

// AllStatus returns copies of every status, sorted by name.
func (r *Registry) AllStatus() []CollectorStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]CollectorStatus, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

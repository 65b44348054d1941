package collectors

import (
	"context"
	"sync"
)

// MockCollector is a Collector for tests. By default it returns whatever
// WithData and WithError configured; WithCollectFunc replaces that with
// arbitrary behavior such as blocking or panicking.
type MockCollector struct {
	name string

	mu      sync.Mutex
	data    interface{}
	err     error
	healthy bool
	fn      func(ctx context.Context) (interface{}, error)
	calls   int64
}

// MockCollectorOption configures a MockCollector.
type MockCollectorOption func(*MockCollector)

// WithData sets the value Collect returns.
func WithData(data interface{}) MockCollectorOption {
	return func(m *MockCollector) { m.data = data }
}

// WithError sets the error Collect returns.
func WithError(err error) MockCollectorOption {
	return func(m *MockCollector) { m.err = err }
}

// WithHealthy sets what Healthy reports.
func WithHealthy(healthy bool) MockCollectorOption {
	return func(m *MockCollector) { m.healthy = healthy }
}

// WithCollectFunc makes Collect delegate to fn.
func WithCollectFunc(fn func(ctx context.Context) (interface{}, error)) MockCollectorOption {
	return func(m *MockCollector) { m.fn = fn }
}

// NewMockCollector returns a healthy mock named name.
func NewMockCollector(name string, opts ...MockCollectorOption) *MockCollector {
	m := &MockCollector{name: name, healthy: true}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MockCollector) Name() string { return m.name }

func (m *MockCollector) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

// SetHealthy changes what Healthy reports.
func (m *MockCollector) SetHealthy(h bool) {
	m.mu.Lock()
	m.healthy = h
	m.mu.Unlock()
}

// SetError changes the error returned by later calls.
func (m *MockCollector) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *MockCollector) Collect(ctx context.Context) (interface{}, error) {
	m.mu.Lock()
	m.calls++
	fn, data, err := m.fn, m.data, m.err
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return data, err
}

// CallCount reports how many times Collect ran.
func (m *MockCollector) CallCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

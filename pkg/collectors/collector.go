// Package collectors defines the interface, registry, and per-field result
// type for host-pulse data collectors. Each collector (sysmetrics, publicip,
// containers, tailscale) implements the Collector interface and is invoked
// once per delivery cycle through a Registry that records its run status.
package collectors

import (
	"context"
	"time"
)

// Collector is one source of report data.
type Collector interface {
	// Name is the registry key, e.g. "sysmetrics".
	Name() string

	// Collect samples once. The report builder type-asserts the value by
	// collector name. Data and an error together mean a partial sample.
	Collect(ctx context.Context) (interface{}, error)

	// Healthy is false while the collector cannot produce data at all.
	Healthy() bool
}

// CollectorStatus is the registry's running record for one collector, shown
// by `host-pulse status`.
type CollectorStatus struct {
	Name              string        `json:"name"`
	Healthy           bool          `json:"healthy"`
	LastRun           time.Time     `json:"last_run"`
	LastSuccess       time.Time     `json:"last_success"`
	LastError         string        `json:"last_error,omitempty"`
	RunCount          int64         `json:"run_count"`
	ErrorCount        int64         `json:"error_count"`
	ConsecutiveErrors int64         `json:"consecutive_errors"`
	LastLatency       time.Duration `json:"last_latency"`
}

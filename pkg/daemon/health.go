package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gitlab.com/tinyland/lab/host-pulse/pkg/collectors"
)

// HealthStatus is a point-in-time view of the delivery loop. It is written
// to the health file after every cycle and returned by the STATUS command.
type HealthStatus struct {
	PID       int       `json:"pid"`
	RunID     string    `json:"run_id"`
	Version   string    `json:"version,omitempty"`
	StartedAt time.Time `json:"started_at"`

	Cycles              int64     `json:"cycles"`
	Delivered           int64     `json:"delivered"`
	Failed              int64     `json:"failed"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastCycle           time.Time `json:"last_cycle"`
	LastDelivered       bool      `json:"last_delivered"`
	LastSuccess         time.Time `json:"last_success"`

	// Delays are serialized as Go duration strings ("5m0s").
	BaseInterval string    `json:"base_interval"`
	MaxDelay     string    `json:"max_delay"`
	CurrentDelay string    `json:"current_delay"`
	NextCycle    time.Time `json:"next_cycle"`

	Collectors []collectors.CollectorStatus `json:"collectors,omitempty"`
}

// Healthy reports whether the most recent cycle delivered, or no cycle has
// run yet.
func (h *HealthStatus) Healthy() bool {
	return h.Cycles == 0 || h.LastDelivered
}

// WriteHealthFile stores status as indented JSON at path, replacing the
// previous file atomically.
func WriteHealthFile(path string, status *HealthStatus) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal health status: %w", err)
	}
	if err := writeFileAtomic(path, append(data, '\n')); err != nil {
		return fmt.Errorf("write health file: %w", err)
	}
	return nil
}

// ReadHealthFile loads a status written by WriteHealthFile. `host-pulse
// status` falls back to it when the control socket is down.
func ReadHealthFile(path string) (*HealthStatus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read health file: %w", err)
	}
	status := new(HealthStatus)
	if err := json.Unmarshal(data, status); err != nil {
		return nil, fmt.Errorf("parse health file %s: %w", path, err)
	}
	return status, nil
}

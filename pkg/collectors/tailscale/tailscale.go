// Package tailscale provides a collector that reads this node's tailnet
// address and peer reachability from the local tailscaled daemon via the
// LocalAPI unix socket.
package tailscale

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tailscale.com/client/local"
	"tailscale.com/ipn/ipnstate"
)

// StatusClient abstracts the local Tailscale daemon API for testability.
// The real implementation is tailscale.com/client/local.Client, whose
// Status method satisfies this interface.
type StatusClient interface {
	Status(ctx context.Context) (*ipnstate.Status, error)
}

// DefaultTimeout bounds one LocalAPI status call.
const DefaultTimeout = 3 * time.Second

// Config holds the collector's settings.
type Config struct {
	// Timeout bounds the status call so a wedged tailscaled cannot stall
	// a cycle. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Status is the data returned by a single Collect call.
type Status struct {
	BackendState string `json:"backend_state"`
	Hostname     string `json:"hostname"`
	IPv4         string `json:"ipv4"`
	IPv6         string `json:"ipv6"`
	TailnetName  string `json:"tailnet_name"`
	OnlinePeers  int    `json:"online_peers"`
	TotalPeers   int    `json:"total_peers"`
}

// ErrNotRunning is returned when tailscaled answers but the node is not
// connected to a tailnet.
var ErrNotRunning = errors.New("tailscale is not running")

// Collector gathers tailnet status from the local daemon.
type Collector struct {
	client  StatusClient
	timeout time.Duration

	mu      sync.Mutex
	healthy bool
}

// New returns a collector over client, usually NewLocalClient.
func New(cfg Config, client StatusClient) *Collector {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Collector{
		client:  client,
		timeout: cfg.Timeout,
		healthy: true, // healthy until first failure
	}
}

// Name returns the collector identifier.
func (c *Collector) Name() string {
	return "tailscale"
}

// Healthy returns whether the last collection succeeded.
func (c *Collector) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy
}

// setHealthy updates the internal healthy flag under the mutex.
func (c *Collector) setHealthy(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthy = v
}

// Collect calls the local Tailscale daemon and returns a *Status.
func (c *Collector) Collect(ctx context.Context) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	st, err := c.client.Status(ctx)
	if err != nil {
		c.setHealthy(false)
		return nil, fmt.Errorf("tailscale status: %w", err)
	}
	if st == nil {
		c.setHealthy(false)
		return nil, fmt.Errorf("tailscale status: nil response")
	}
	if st.BackendState != "Running" {
		c.setHealthy(false)
		return nil, fmt.Errorf("%w (state %s)", ErrNotRunning, st.BackendState)
	}

	c.setHealthy(true)
	return mapStatus(st), nil
}

// mapStatus converts the ipnstate.Status into our simplified Status.
func mapStatus(st *ipnstate.Status) *Status {
	out := &Status{BackendState: st.BackendState}

	ips := st.TailscaleIPs
	if st.Self != nil {
		out.Hostname = st.Self.HostName
		if len(st.Self.TailscaleIPs) > 0 {
			ips = st.Self.TailscaleIPs
		}
	}
	for _, addr := range ips {
		switch {
		case addr.Is4() && out.IPv4 == "":
			out.IPv4 = addr.String()
		case addr.Is6() && out.IPv6 == "":
			out.IPv6 = addr.String()
		}
	}

	if st.CurrentTailnet != nil {
		out.TailnetName = st.CurrentTailnet.Name
	}

	for _, pubKey := range st.Peers() {
		ps := st.Peer[pubKey]
		if ps == nil {
			continue
		}
		out.TotalPeers++
		if ps.Online {
			out.OnlinePeers++
		}
	}
	return out
}

// NewLocalClient creates a StatusClient backed by the real Tailscale local
// daemon. Tests should inject a mock StatusClient instead.
func NewLocalClient(socketPath string) StatusClient {
	lc := &local.Client{}
	if socketPath != "" {
		lc.Socket = socketPath
		lc.UseSocketOnly = true
	}
	return lc
}

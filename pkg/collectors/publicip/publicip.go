// Package publicip looks up the host's public address from a plain-text
// echo service such as api.ipify.org.
package publicip

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"
)

// Default configuration values.
const (
	DefaultURL     = "https://api.ipify.org"
	DefaultTimeout = 3 * time.Second
)

// maxBody bounds how much of the response is read; an address never needs
// more.
const maxBody = 256

// Config holds the configuration for the public IP collector.
type Config struct {
	// URL is the echo service. It must answer GET with the caller's address
	// as plain text.
	URL string

	// Timeout bounds a single lookup. Zero uses DefaultTimeout.
	Timeout time.Duration
}

// Collector fetches the public IP once per Collect call.
type Collector struct {
	cfg    Config
	client *http.Client

	mu      sync.Mutex
	healthy bool
}

// New creates a public IP collector. A nil client uses http.DefaultClient;
// the per-lookup timeout is applied through the request context.
func New(cfg Config, client *http.Client) *Collector {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Collector{cfg: cfg, client: client, healthy: true}
}

// Name returns the collector identifier.
func (c *Collector) Name() string {
	return "publicip"
}

// Healthy returns whether the last lookup succeeded.
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

// Collect returns the public address as a string.
func (c *Collector) Collect(ctx context.Context) (interface{}, error) {
	ip, err := c.Lookup(ctx)
	if err != nil {
		c.setHealthy(false)
		return nil, err
	}
	c.setHealthy(true)
	return ip, nil
}

// Lookup performs one bounded GET against the echo service and validates
// that the body is an IP address.
func (c *Collector) Lookup(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return "", fmt.Errorf("public ip: build request: %w", err)
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("public ip: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("public ip: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", fmt.Errorf("public ip: read body: %w", err)
	}

	text := strings.TrimSpace(string(body))
	addr, err := netip.ParseAddr(text)
	if err != nil {
		return "", fmt.Errorf("public ip: invalid address %q", text)
	}
	return addr.String(), nil
}

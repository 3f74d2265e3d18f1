package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/killallgit/finsight/pkg/logger"
)

// HealthStatus represents the health status of the backend
type HealthStatus struct {
	Available bool
	Error     error
	Service   string
	Version   string
}

// CheckHealth checks if the backend is reachable and reports healthy.
// Connection failures are reported through the status, not the error.
func (c *Client) CheckHealth(ctx context.Context) (*HealthStatus, error) {
	log := logger.WithComponent("backend_health")
	log.Debug("Checking backend health", "base_url", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return &HealthStatus{Available: false, Error: err}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Debug("Failed to connect to backend", "error", err)
		return &HealthStatus{
			Available: false,
			Error:     fmt.Errorf("cannot connect to backend at %s: %w", c.baseURL, err),
		}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn("Backend returned non-OK status", "status_code", resp.StatusCode)
		return &HealthStatus{
			Available: false,
			Error:     fmt.Errorf("backend returned status %d", resp.StatusCode),
		}, nil
	}

	var body HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return &HealthStatus{
			Available: false,
			Error:     fmt.Errorf("failed to decode health response: %w", err),
		}, nil
	}

	if body.Status != "healthy" {
		return &HealthStatus{
			Available: false,
			Error:     fmt.Errorf("backend reports status %q", body.Status),
			Service:   body.Service,
			Version:   body.Version,
		}, nil
	}

	return &HealthStatus{Available: true, Service: body.Service, Version: body.Version}, nil
}

// CheckHealthWithTimeout performs a health check with a specific timeout
func (c *Client) CheckHealthWithTimeout(timeout time.Duration) (*HealthStatus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.CheckHealth(ctx)
}

// Probe reports whether the backend is healthy
func (c *Client) Probe(ctx context.Context) bool {
	status, err := c.CheckHealth(ctx)
	return err == nil && status.Available
}

// Prober is a boolean health check
type Prober interface {
	Probe(ctx context.Context) bool
}

var _ Prober = (*Client)(nil)

// HealthMonitor polls a Prober on a fixed interval and tracks connectivity.
// Probe failures only change the reported status.
type HealthMonitor struct {
	prober   Prober
	interval time.Duration
	timeout  time.Duration

	mu        sync.RWMutex
	connected bool
	checked   bool
	listeners []func(bool)

	log *logger.Logger
}

func NewHealthMonitor(prober Prober, interval, timeout time.Duration) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthMonitor{
		prober:   prober,
		interval: interval,
		timeout:  timeout,
		log:      logger.WithComponent("health_monitor"),
	}
}

// OnChange registers fn to run whenever connectivity flips. The first
// completed check always notifies.
func (m *HealthMonitor) OnChange(fn func(connected bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Connected reports the result of the latest probe
func (m *HealthMonitor) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Check probes once and records the result
func (m *HealthMonitor) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	ok := m.prober.Probe(probeCtx)

	m.mu.Lock()
	changed := !m.checked || m.connected != ok
	m.connected = ok
	m.checked = true
	listeners := make([]func(bool), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	if changed {
		m.log.Info("backend connectivity changed", "connected", ok)
		for _, fn := range listeners {
			fn(ok)
		}
	}
	return ok
}

// Run probes immediately and then on every tick until ctx is done
func (m *HealthMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

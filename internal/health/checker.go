// Package health runs periodic dependency checks for the daemon. The
// API's /health endpoint reports the latest results; it never runs
// checks inline so a slow store cannot slow the endpoint.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/planner"
)

// Pinger is the slice of a store the checker needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check defines a single health check.
type Check struct {
	Name    string
	CheckFn func(ctx context.Context) error
}

// Status is the result of one check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker runs the checks on a fixed interval and caches results.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
}

// NewChecker creates a checker over the daemon's dependencies: the
// durable store, the coordination store, and the planner provider.
func NewChecker(durable, coordinator Pinger, plannerProvider string) *Checker {
	return &Checker{
		interval: 60 * time.Second,
		checks: []Check{
			{
				Name: "durable_store",
				CheckFn: func(ctx context.Context) error {
					return durable.Ping(ctx)
				},
			},
			{
				Name: "coord_store",
				CheckFn: func(ctx context.Context) error {
					return coordinator.Ping(ctx)
				},
			},
			{
				Name: "planner",
				CheckFn: func(ctx context.Context) error {
					switch plannerProvider {
					case planner.ProviderAnthropic, planner.ProviderFallback:
						return nil
					default:
						return fmt.Errorf("unknown planner provider %q", plannerProvider)
					}
				},
			},
		},
	}
}

// Run starts the check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	// Run immediately on start
	c.runAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runAll(ctx)
		}
	}
}

func (c *Checker) runAll(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: time.Now().UTC(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Healthy = false
			s.Error = err.Error()
		} else {
			s.Healthy = true
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if every check passed on the last run.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

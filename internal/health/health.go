// Package health provides a registry of named subsystem health checkers
// backing the readiness endpoint.
package health

import (
	"context"
	"sync"
	"time"
)

// Status represents the health of a single subsystem. LatencyMs is filled
// in by the registry, checkers don't need to time themselves.
type Status struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Detail    string `json:"detail,omitempty"`
	LatencyMs int64  `json:"latencyMs"`
}

// Checker is a function that checks the health of a subsystem.
type Checker func(ctx context.Context) Status

// Registry holds named health checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
}

type namedChecker struct {
	name  string
	check Checker
}

// NewRegistry creates a new health check registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a named health checker.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, check: check})
	r.mu.Unlock()
}

// CheckAll runs every registered checker under a shared deadline and
// returns the aggregate health plus individual subsystem results.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	healthy = true
	statuses = make([]Status, len(checkers))
	for i, nc := range checkers {
		start := time.Now()
		statuses[i] = nc.check(ctx)
		statuses[i].LatencyMs = time.Since(start).Milliseconds()
		if !statuses[i].Healthy {
			healthy = false
		}
	}
	return healthy, statuses
}

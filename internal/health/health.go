// Package health runs named dependency checks for the /health endpoint.
// Critical checks decide the aggregate status; optional checks are reported
// but never degrade the service.
package health

import (
	"context"
	"sync"
	"time"
)

// DefaultCheckTimeout bounds a single check when the registry has no timeout.
const DefaultCheckTimeout = 2 * time.Second

// Status is the outcome of one check.
type Status struct {
	Name     string `json:"name"`
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Detail   string `json:"detail,omitempty"`
}

// Checker reports the health of one dependency.
type Checker func(ctx context.Context) Status

type registered struct {
	name     string
	critical bool
	check    Checker
}

// Registry holds checks in registration order.
type Registry struct {
	timeout time.Duration

	mu     sync.RWMutex
	checks []registered
}

// NewRegistry creates a registry whose checks are each bounded by timeout.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &Registry{timeout: timeout}
}

// Register adds a critical check.
func (r *Registry) Register(name string, check Checker) {
	r.add(registered{name: name, critical: true, check: check})
}

// RegisterOptional adds a check that is reported but does not affect the
// aggregate status.
func (r *Registry) RegisterOptional(name string, check Checker) {
	r.add(registered{name: name, check: check})
}

func (r *Registry) add(c registered) {
	r.mu.Lock()
	r.checks = append(r.checks, c)
	r.mu.Unlock()
}

// CheckAll runs every check concurrently. healthy is false when any critical
// check fails or does not answer within the timeout.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checks := append([]registered(nil), r.checks...)
	r.mu.RUnlock()

	statuses = make([]Status, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st := r.run(ctx, c)
			st.Name = c.name
			st.Critical = c.critical
			statuses[i] = st
		}()
	}
	wg.Wait()

	healthy = true
	for _, st := range statuses {
		if st.Critical && !st.Healthy {
			healthy = false
		}
	}
	return healthy, statuses
}

func (r *Registry) run(ctx context.Context, c registered) Status {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan Status, 1)
	go func() { done <- c.check(ctx) }()

	select {
	case st := <-done:
		return st
	case <-ctx.Done():
		return Status{Healthy: false, Detail: "timed out"}
	}
}

// Pinger is anything that can report reachability, such as a store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker adapts a Pinger into a Checker.
func PingChecker(p Pinger) Checker {
	return func(ctx context.Context) Status {
		if err := p.Ping(ctx); err != nil {
			return Status{Healthy: false, Detail: err.Error()}
		}
		return Status{Healthy: true}
	}
}

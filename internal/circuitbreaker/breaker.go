// Package circuitbreaker guards a single remote dependency. After enough
// consecutive failures the circuit opens and callers skip the dependency
// until a cool-down elapses, when one probe call decides whether it closes.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/rohann-max/FINSHIELD/internal/metrics"
)

// State is the circuit state.
type State int

const (
	StateClosed   State = iota // calls flow through
	StateOpen                  // calls are rejected
	StateHalfOpen              // one probe call is in flight
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Execute when the circuit rejects the call.
var ErrOpen = errors.New("circuitbreaker: circuit open")

// Config configures a Breaker.
type Config struct {
	// Name labels the circuit in metrics and logs.
	Name string
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// OpenDuration is how long the circuit stays open before probing.
	OpenDuration time.Duration
}

// Breaker is a consecutive-failure circuit breaker. It is safe for concurrent use.
type Breaker struct {
	cfg Config

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time

	now          func() time.Time
	onTransition func(from, to State)
}

// New creates a closed breaker. Zero config values fall back to 5 failures
// and a 30s cool-down.
func New(cfg Config) *Breaker {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = 30 * time.Second
	}
	b := &Breaker{cfg: cfg, now: time.Now}
	metrics.CircuitState.WithLabelValues(cfg.Name).Set(float64(StateClosed))
	return b
}

// Name returns the circuit name.
func (b *Breaker) Name() string { return b.cfg.Name }

// OnTransition registers a callback for state changes. It runs synchronously
// with the breaker lock released.
func (b *Breaker) OnTransition(fn func(from, to State)) {
	b.mu.Lock()
	b.onTransition = fn
	b.mu.Unlock()
}

// State returns the current state. An open circuit whose cool-down has
// elapsed still reports open until the next call probes it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn unless the circuit is open and records the outcome.
// Errors for which countable returns false (a caller that went away) release
// the probe slot without counting as a failure. A nil countable counts every
// error. A panic in fn counts as a failure and is re-raised.
func (b *Breaker) Execute(countable func(error) bool, fn func() error) error {
	if !b.acquire() {
		return ErrOpen
	}
	defer func() {
		if r := recover(); r != nil {
			b.fail()
			panic(r)
		}
	}()
	err := fn()
	switch {
	case err == nil:
		b.succeed()
	case countable == nil || countable(err):
		b.fail()
	default:
		b.release()
	}
	return err
}

func (b *Breaker) acquire() bool {
	b.mu.Lock()
	var fire func()
	defer func() {
		b.mu.Unlock()
		if fire != nil {
			fire()
		}
	}()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.OpenDuration {
			return false
		}
		fire = b.transition(StateHalfOpen)
		return true
	case StateHalfOpen:
		return false
	default:
		return true
	}
}

func (b *Breaker) succeed() {
	b.mu.Lock()
	b.failures = 0
	fire := b.transition(StateClosed)
	b.mu.Unlock()
	if fire != nil {
		fire()
	}
}

func (b *Breaker) fail() {
	b.mu.Lock()
	b.failures++
	var fire func()
	if b.state == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.openedAt = b.now()
		fire = b.transition(StateOpen)
	}
	b.mu.Unlock()
	if fire != nil {
		fire()
	}
}

// release hands back a half-open probe slot so the next call probes again.
func (b *Breaker) release() {
	b.mu.Lock()
	var fire func()
	if b.state == StateHalfOpen {
		b.openedAt = time.Time{}
		fire = b.transition(StateOpen)
	}
	b.mu.Unlock()
	if fire != nil {
		fire()
	}
}

// transition changes state and returns the callback to fire once the lock is
// released. Caller must hold b.mu.
func (b *Breaker) transition(to State) func() {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	metrics.CircuitState.WithLabelValues(b.cfg.Name).Set(float64(to))
	metrics.CircuitTransitionsTotal.WithLabelValues(b.cfg.Name, from.String(), to.String()).Inc()
	if fn := b.onTransition; fn != nil {
		return func() { fn(from, to) }
	}
	return nil
}

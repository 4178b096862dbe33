// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package resilience guards calls to remote content servers.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/epgcache/internal/log"
	"github.com/ManuGH/epgcache/internal/metrics"
)

// State represents the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// ErrCircuitOpen is returned without calling the server while it is
// considered down.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Clock abstracts time operations for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// CircuitBreaker stops calling a server after threshold consecutive failures.
// After resetTimeout exactly one probe is let through; its outcome closes or
// reopens the circuit.
type CircuitBreaker struct {
	mu           sync.Mutex
	component    string
	server       string
	state        State
	failures     int
	threshold    int
	resetTimeout time.Duration
	openedAt     time.Time
	probing      bool
	clock        Clock
	logger       zerolog.Logger
}

// Option configures a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(cb *CircuitBreaker) { cb.clock = c }
}

// WithServer names the guarded server in log lines.
func WithServer(server string) Option {
	return func(cb *CircuitBreaker) { cb.server = server }
}

// NewCircuitBreaker creates a closed breaker. component labels the metrics.
func NewCircuitBreaker(component string, threshold int, resetTimeout time.Duration, opts ...Option) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}

	cb := &CircuitBreaker{
		component:    component,
		state:        StateClosed,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		clock:        realClock{},
	}
	for _, opt := range opts {
		opt(cb)
	}
	cb.logger = xglog.WithComponent("breaker").With().
		Str(xglog.FieldBackend, component).
		Str("server", cb.server).
		Logger()

	metrics.SetCircuitBreakerState(cb.component, string(cb.state))
	return cb
}

// Execute runs fn unless the circuit is open. A caller that cancels its own
// context does not count against the server.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, ok := cb.allowRequest()
	if !ok {
		metrics.RecordCircuitBreakerRejection(cb.component)
		return ErrCircuitOpen
	}

	err := fn(ctx)
	switch {
	case err == nil:
		cb.recordSuccess()
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		cb.releaseProbe(probe)
	default:
		cb.recordFailure(err)
	}
	return err
}

func (cb *CircuitBreaker) allowRequest() (probe, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.clock.Now().Sub(cb.openedAt) <= cb.resetTimeout {
			return false, false
		}
		cb.transitionTo(StateHalfOpen, nil)
		cb.probing = true
		return true, true
	case StateHalfOpen:
		if cb.probing {
			return false, false
		}
		cb.probing = true
		return true, true
	default:
		return false, true
	}
}

func (cb *CircuitBreaker) releaseProbe(probe bool) {
	if !probe {
		return
	}
	cb.mu.Lock()
	cb.probing = false
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) recordFailure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	switch {
	case cb.state == StateHalfOpen:
		metrics.RecordCircuitBreakerTrip(cb.component, "half_open_failure")
		cb.transitionTo(StateOpen, err)
	case cb.state == StateClosed && cb.failures >= cb.threshold:
		metrics.RecordCircuitBreakerTrip(cb.component, "threshold_exceeded")
		cb.transitionTo(StateOpen, err)
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.state != StateClosed {
		cb.transitionTo(StateClosed, nil)
	}
}

// transitionTo changes state and reports it. Caller must hold mu.
func (cb *CircuitBreaker) transitionTo(newState State, cause error) {
	if cb.state == newState {
		return
	}
	old := cb.state
	cb.state = newState
	cb.probing = false
	if newState == StateOpen {
		cb.openedAt = cb.clock.Now()
	}
	metrics.SetCircuitBreakerState(cb.component, string(newState))

	event := cb.logger.Info()
	if newState == StateOpen {
		event = cb.logger.Warn().Err(cause).Int("failures", cb.failures)
	}
	event.
		Str(xglog.FieldEvent, "breaker.state_changed").
		Str(xglog.FieldOldState, string(old)).
		Str(xglog.FieldNewState, string(newState)).
		Msg("circuit breaker state changed")
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Group hands out one breaker per server so a dead server does not block
// the others behind the same backend.
type Group struct {
	component    string
	threshold    int
	resetTimeout time.Duration
	opts         []Option

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewGroup creates an empty group; breakers are created on first use.
func NewGroup(component string, threshold int, resetTimeout time.Duration, opts ...Option) *Group {
	return &Group{
		component:    component,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		opts:         opts,
		breakers:     make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker of server.
func (g *Group) Get(server string) *CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	cb, ok := g.breakers[server]
	if !ok {
		opts := append(append([]Option(nil), g.opts...), WithServer(server))
		cb = NewCircuitBreaker(g.component, g.threshold, g.resetTimeout, opts...)
		g.breakers[server] = cb
	}
	return cb
}

// Forget drops the breaker of a server that went away.
func (g *Group) Forget(server string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.breakers, server)
}

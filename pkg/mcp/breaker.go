// Package mcp provides the remote tool gateway client: HTTP tool invocation
// with a client-owned circuit breaker, parallel fan-out, and response-agent
// enrichment with per-tool and aggregate deadlines.
package mcp

import (
	"fmt"
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitOpenError rejects a request while the breaker is open. It carries
// the remaining recovery countdown. CircuitOpen rejections are never
// recorded as failures.
type CircuitOpenError struct {
	Remaining time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open, retry in %s", e.Remaining.Round(time.Millisecond))
}

// BreakerSnapshot is a consistent view of the breaker's state.
type BreakerSnapshot struct {
	State           BreakerState `json:"state"`
	FailureCount    int          `json:"failure_count"`
	LastFailureTime time.Time    `json:"last_failure_time"`
}

// CircuitBreaker is the failure-counting state machine owned exclusively by
// the gateway client. State transitions:
//
//	closed    — success resets the count; a failure increments it, and at
//	            the threshold the breaker opens and stamps the time.
//	open      — requests are rejected with CircuitOpenError until the
//	            recovery timeout elapses, then the next request probes in
//	            half_open.
//	half_open — a single probe is in flight; concurrent requests are
//	            rejected until the probe's success closes the breaker or its
//	            failure reopens it.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            BreakerState
	failureCount     int
	lastFailureTime  time.Time
	probeInFlight    bool
	failureThreshold int
	recoveryTimeout  time.Duration
	now              func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 60 * time.Second
	}
	return &CircuitBreaker{
		state:            BreakerClosed,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		now:              time.Now,
	}
}

// Allow decides whether a request may proceed. In the open state it returns
// a CircuitOpenError carrying the remaining recovery time, except when the
// recovery timeout has elapsed — then the breaker moves to half_open and
// permits a single probe. Further requests are rejected until the probe
// resolves.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerHalfOpen:
		if b.probeInFlight {
			return &CircuitOpenError{}
		}
		b.probeInFlight = true
		return nil
	}

	elapsed := b.now().Sub(b.lastFailureTime)
	if elapsed >= b.recoveryTimeout {
		b.state = BreakerHalfOpen
		b.probeInFlight = true
		return nil
	}
	return &CircuitOpenError{Remaining: b.recoveryTimeout - elapsed}
}

// RecordSuccess resets the failure count and closes the breaker.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.probeInFlight = false
	b.state = BreakerClosed
}

// RecordFailure counts a failure. In the closed state, reaching the
// threshold opens the breaker; in half_open, the probe failure reopens it.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureTime = b.now()
	switch b.state {
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.probeInFlight = false
	case BreakerClosed:
		b.failureCount++
		if b.failureCount >= b.failureThreshold {
			b.state = BreakerOpen
		}
	}
}

// Snapshot returns a consistent (state, failures, stamp) view.
func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		State:           b.state,
		FailureCount:    b.failureCount,
		LastFailureTime: b.lastFailureTime,
	}
}

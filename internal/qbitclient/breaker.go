package qbitclient

import (
	"sync"
	"time"

	"github.com/trackercap/upcap/internal/apperrors"
	"github.com/trackercap/upcap/internal/domain"
)

const (
	failureThreshold = 5
	openCooldown     = 30 * time.Second
)

// breaker is a hand-rolled three-state circuit breaker (closed / open /
// half-open). No circuit-breaker library appears anywhere in the retrieved
// example pack, so this small state machine is implemented directly rather
// than reaching for an out-of-pack dependency (see DESIGN.md).
type breaker struct {
	mu                sync.Mutex
	state             domain.CircuitBreakerState
	consecutiveFails  int
	openedAt          time.Time
	halfOpenInFlight  bool
}

func newBreaker() *breaker {
	return &breaker{state: domain.CircuitClosed}
}

// Allow reports whether a call may proceed, transitioning open->half-open
// once the cooldown has elapsed and admitting exactly one probe at a time.
func (b *breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case domain.CircuitClosed:
		return nil
	case domain.CircuitOpen:
		if time.Since(b.openedAt) < openCooldown {
			return apperrors.ErrTransportUnavailable
		}
		b.state = domain.CircuitHalfOpen
		b.halfOpenInFlight = true
		return nil
	case domain.CircuitHalfOpen:
		if b.halfOpenInFlight {
			return apperrors.ErrTransportUnavailable
		}
		b.halfOpenInFlight = true
		return nil
	}
	return nil
}

// RecordSuccess closes the circuit and resets the failure counter.
func (b *breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = domain.CircuitClosed
	b.consecutiveFails = 0
	b.halfOpenInFlight = false
}

// RecordFailure increments the failure counter, opening the circuit once
// the threshold is reached (or immediately, if the failing call was the
// half-open probe).
func (b *breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == domain.CircuitHalfOpen {
		b.halfOpenInFlight = false
		b.state = domain.CircuitOpen
		b.openedAt = time.Now()
		b.consecutiveFails = failureThreshold
		return
	}

	b.consecutiveFails++
	if b.consecutiveFails >= failureThreshold {
		b.state = domain.CircuitOpen
		b.openedAt = time.Now()
	}
}

// State returns a snapshot of the breaker's current state, for /health and
// /stats.
func (b *breaker) State() (domain.CircuitBreakerState, int, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.consecutiveFails, b.openedAt
}

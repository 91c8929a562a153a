package qbitclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackercap/upcap/internal/apperrors"
	"github.com/trackercap/upcap/internal/domain"
)

func TestBreakerOpensAfterFiveFailures(t *testing.T) {
	b := newBreaker()
	for i := 0; i < failureThreshold-1; i++ {
		require.NoError(t, b.Allow())
		b.RecordFailure()
		state, _, _ := b.State()
		assert.Equal(t, domain.CircuitClosed, state)
	}

	require.NoError(t, b.Allow())
	b.RecordFailure()
	state, fails, _ := b.State()
	assert.Equal(t, domain.CircuitOpen, state)
	assert.Equal(t, failureThreshold, fails)
}

func TestBreakerFailsFastWhileOpen(t *testing.T) {
	b := newBreaker()
	for i := 0; i < failureThreshold; i++ {
		b.Allow()
		b.RecordFailure()
	}

	err := b.Allow()
	assert.ErrorIs(t, err, apperrors.ErrTransportUnavailable)
}

func TestBreakerHalfOpenProbeSuccessCloses(t *testing.T) {
	b := newBreaker()
	for i := 0; i < failureThreshold; i++ {
		b.Allow()
		b.RecordFailure()
	}
	b.openedAt = time.Now().Add(-openCooldown - time.Second)

	require.NoError(t, b.Allow())
	state, _, _ := b.State()
	assert.Equal(t, domain.CircuitHalfOpen, state)

	b.RecordSuccess()
	state, fails, _ := b.State()
	assert.Equal(t, domain.CircuitClosed, state)
	assert.Equal(t, 0, fails)
}

func TestBreakerHalfOpenProbeFailureReopens(t *testing.T) {
	b := newBreaker()
	for i := 0; i < failureThreshold; i++ {
		b.Allow()
		b.RecordFailure()
	}
	b.openedAt = time.Now().Add(-openCooldown - time.Second)

	require.NoError(t, b.Allow())
	b.RecordFailure()

	state, _, _ := b.State()
	assert.Equal(t, domain.CircuitOpen, state)
}

func TestBreakerOnlyOneHalfOpenProbeAtATime(t *testing.T) {
	b := newBreaker()
	for i := 0; i < failureThreshold; i++ {
		b.Allow()
		b.RecordFailure()
	}
	b.openedAt = time.Now().Add(-openCooldown - time.Second)

	require.NoError(t, b.Allow())
	err := b.Allow()
	assert.ErrorIs(t, err, apperrors.ErrTransportUnavailable)
}

package mcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_ClosedCountsFailures(t *testing.T) {
	b := NewCircuitBreaker(3, time.Minute)

	require.NoError(t, b.Allow())
	b.RecordFailure()
	b.RecordFailure()

	snapshot := b.Snapshot()
	assert.Equal(t, BreakerClosed, snapshot.State)
	assert.Equal(t, 2, snapshot.FailureCount)
	assert.NoError(t, b.Allow())
}

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	b := NewCircuitBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, BreakerOpen, b.Snapshot().State)

	err := b.Allow()
	require.Error(t, err)
	var open *CircuitOpenError
	require.ErrorAs(t, err, &open)
	assert.Positive(t, open.Remaining)
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	b := NewCircuitBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	assert.Zero(t, b.Snapshot().FailureCount)

	// The reset means two more failures do not open the breaker
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, BreakerClosed, b.Snapshot().State)
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	newOpenBreaker := func() (*CircuitBreaker, *time.Time) {
		b := NewCircuitBreaker(1, time.Minute)
		current := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
		b.now = func() time.Time { return current }
		b.RecordFailure()
		return b, &current
	}

	t.Run("recovery timeout admits one probe", func(t *testing.T) {
		b, current := newOpenBreaker()

		require.Error(t, b.Allow())
		*current = current.Add(time.Minute)

		require.NoError(t, b.Allow())
		assert.Equal(t, BreakerHalfOpen, b.Snapshot().State)
	})

	t.Run("probe success closes the breaker", func(t *testing.T) {
		b, current := newOpenBreaker()
		*current = current.Add(time.Minute)
		require.NoError(t, b.Allow())

		b.RecordSuccess()
		assert.Equal(t, BreakerClosed, b.Snapshot().State)
		assert.Zero(t, b.Snapshot().FailureCount)
	})

	t.Run("single probe in flight", func(t *testing.T) {
		b, current := newOpenBreaker()
		*current = current.Add(time.Minute)
		require.NoError(t, b.Allow())

		// The probe has not resolved yet; concurrent requests are rejected
		var open *CircuitOpenError
		require.ErrorAs(t, b.Allow(), &open)
		assert.Equal(t, BreakerHalfOpen, b.Snapshot().State)

		b.RecordSuccess()
		assert.NoError(t, b.Allow())
	})

	t.Run("probe failure reopens the breaker", func(t *testing.T) {
		b, current := newOpenBreaker()
		*current = current.Add(time.Minute)
		require.NoError(t, b.Allow())

		b.RecordFailure()
		assert.Equal(t, BreakerOpen, b.Snapshot().State)
		require.Error(t, b.Allow())
	})
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTimer(t *testing.T) {
	timer := NewTimer()
	require.NotNil(t, timer)
	assert.False(t, timer.start.IsZero())
	assert.Less(t, time.Since(timer.start), time.Second)
}

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(50 * time.Millisecond)

	duration := timer.Duration()
	assert.GreaterOrEqual(t, duration, 50*time.Millisecond)
	assert.Less(t, duration, 500*time.Millisecond)
}

func TestTimerObserveDuration(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration histogram",
		Buckets: prometheus.DefBuckets,
	})

	timer := NewTimer()
	time.Sleep(20 * time.Millisecond)

	require.NotPanics(t, func() { timer.ObserveDuration(histogram) })
	assert.NotZero(t, timer.Duration())
}

func TestTimerMultipleCalls(t *testing.T) {
	timer := NewTimer()

	time.Sleep(20 * time.Millisecond)
	first := timer.Duration()

	time.Sleep(20 * time.Millisecond)
	second := timer.Duration()

	assert.Greater(t, second, first)
}

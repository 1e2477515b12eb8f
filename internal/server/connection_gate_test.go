package server

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobalConnectionLimiter_AcquireRelease(t *testing.T) {
	limiter := NewGlobalConnectionLimiter(3)

	assert.True(t, limiter.Acquire())
	assert.True(t, limiter.Acquire())
	assert.True(t, limiter.Acquire())
	assert.Equal(t, int64(3), limiter.Current())

	// At capacity.
	assert.False(t, limiter.Acquire())
	assert.Equal(t, int64(3), limiter.Current())

	limiter.Release()
	assert.Equal(t, int64(2), limiter.Current())
	assert.True(t, limiter.Acquire())
}

func TestGlobalConnectionLimiter_Concurrent(t *testing.T) {
	limiter := NewGlobalConnectionLimiter(100)
	var successCount, failCount int64

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if limiter.Acquire() {
				atomic.AddInt64(&successCount, 1)
			} else {
				atomic.AddInt64(&failCount, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(100), atomic.LoadInt64(&successCount))
	assert.Equal(t, int64(100), atomic.LoadInt64(&failCount))
	assert.Equal(t, int64(100), limiter.Current())
}

func TestGlobalConnectionLimiter_CapacityPct(t *testing.T) {
	limiter := NewGlobalConnectionLimiter(100)
	assert.Equal(t, 0.0, limiter.CapacityPct())

	for i := 0; i < 50; i++ {
		limiter.Acquire()
	}
	assert.Equal(t, 50.0, limiter.CapacityPct())
}

func TestGlobalConnectionLimiter_ZeroMax(t *testing.T) {
	limiter := NewGlobalConnectionLimiter(0)
	assert.False(t, limiter.Acquire())
	assert.Equal(t, 0.0, limiter.CapacityPct())
}

func TestIPConnectionLimiter_AcquireRelease(t *testing.T) {
	limiter := NewIPConnectionLimiter(2)

	assert.True(t, limiter.Acquire("192.168.1.1"))
	assert.True(t, limiter.Acquire("192.168.1.1"))
	assert.Equal(t, 2, limiter.Count("192.168.1.1"))

	assert.False(t, limiter.Acquire("192.168.1.1"))

	// Other addresses are unaffected.
	assert.True(t, limiter.Acquire("192.168.1.2"))
	assert.Equal(t, 2, limiter.UniqueIPs())

	limiter.Release("192.168.1.1")
	assert.Equal(t, 1, limiter.Count("192.168.1.1"))
	assert.True(t, limiter.Acquire("192.168.1.1"))
}

func TestIPConnectionLimiter_ReleaseRemovesEmptyEntries(t *testing.T) {
	limiter := NewIPConnectionLimiter(5)

	require.True(t, limiter.Acquire("10.0.0.1"))
	limiter.Release("10.0.0.1")
	assert.Equal(t, 0, limiter.UniqueIPs())

	// Releasing an unknown IP must not underflow.
	limiter.Release("10.0.0.2")
	assert.Equal(t, 0, limiter.Count("10.0.0.2"))
}

func TestConnectionRateLimiter_BurstThenLimit(t *testing.T) {
	limiter := NewConnectionRateLimiter(1.0, 3)

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"))

	// Independent bucket per address.
	assert.True(t, limiter.Allow("10.0.0.2"))
	assert.Equal(t, 2, limiter.ActiveLimiters())
}

func TestConnectionGate_AcquireRelease(t *testing.T) {
	gate := NewConnectionGate(2, 1, 100.0, 100)

	ok, reason := gate.Acquire("10.0.0.1")
	require.True(t, ok)
	assert.Empty(t, reason)

	// Per-IP limit trips first and rolls the global slot back.
	ok, reason = gate.Acquire("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, "too many connections from this address", reason)

	ok, _ = gate.Acquire("10.0.0.2")
	require.True(t, ok)

	// Global capacity reached for a third address.
	ok, reason = gate.Acquire("10.0.0.3")
	assert.False(t, ok)
	assert.Equal(t, "server at connection capacity", reason)

	gate.Release("10.0.0.1")
	ok, _ = gate.Acquire("10.0.0.3")
	assert.True(t, ok)
}

func TestConnectionGate_RateLimited(t *testing.T) {
	gate := NewConnectionGate(100, 100, 1.0, 1)

	ok, _ := gate.Acquire("10.0.0.1")
	require.True(t, ok)

	ok, reason := gate.Acquire("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, "connection rate limit exceeded", reason)
}

package provider

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings() HealthSettings {
	return HealthSettings{
		DegradedAfter: 2,
		FailedAfter:   4,
		BackoffBase:   30 * time.Second,
		BackoffMax:    5 * time.Minute,
	}
}

func remoteErr() error {
	return &Error{Kind: KindRemote, Provider: "p", Err: errors.New("boom")}
}

func networkErr() error {
	return &Error{Kind: KindNetwork, Provider: "p", Err: errors.New("refused")}
}

func TestStatusTransitionsAreMonotonic(t *testing.T) {
	reg := NewHealthRegistry(testSettings())
	h := reg.Get("p")

	assert.Equal(t, StatusHealthy, h.Status())

	h.RecordFailure(remoteErr())
	assert.Equal(t, StatusHealthy, h.Status())

	h.RecordFailure(remoteErr())
	assert.Equal(t, StatusDegraded, h.Status())

	h.RecordFailure(remoteErr())
	assert.Equal(t, StatusDegraded, h.Status())

	h.RecordFailure(remoteErr())
	assert.Equal(t, StatusFailed, h.Status())

	// Further failures never regress the status.
	h.RecordFailure(remoteErr())
	assert.Equal(t, StatusFailed, h.Status())
}

func TestSuccessResetsHealth(t *testing.T) {
	reg := NewHealthRegistry(testSettings())
	h := reg.Get("p")

	for i := 0; i < 4; i++ {
		h.RecordFailure(networkErr())
	}
	require.Equal(t, StatusFailed, h.Status())

	h.RecordSuccess()
	assert.Equal(t, StatusHealthy, h.Status())

	snap := h.Snapshot()
	assert.Zero(t, snap.ConsecutiveErrors)
	assert.Zero(t, snap.ConsecutiveNetworkErrors)
	assert.Empty(t, snap.LastError)
	assert.False(t, snap.LastSuccessTime.IsZero())
}

func TestNetworkErrorsCountedSeparately(t *testing.T) {
	reg := NewHealthRegistry(testSettings())
	h := reg.Get("p")

	h.RecordFailure(networkErr())
	h.RecordFailure(remoteErr())
	h.RecordFailure(networkErr())

	snap := h.Snapshot()
	assert.Equal(t, 3, snap.ConsecutiveErrors)
	assert.Equal(t, 2, snap.ConsecutiveNetworkErrors)
}

func TestBackoffGrowsExponentiallyAndIsBounded(t *testing.T) {
	reg := NewHealthRegistry(testSettings())
	h := reg.Get("p")

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	for i := 0; i < 4; i++ {
		h.RecordFailure(remoteErr())
	}
	assert.Equal(t, now.Add(30*time.Second), h.NextRecoveryCheck())

	h.RecordFailure(remoteErr())
	assert.Equal(t, now.Add(time.Minute), h.NextRecoveryCheck())

	h.RecordFailure(remoteErr())
	assert.Equal(t, now.Add(2*time.Minute), h.NextRecoveryCheck())

	// Capped at BackoffMax.
	for i := 0; i < 10; i++ {
		h.RecordFailure(remoteErr())
	}
	assert.Equal(t, now.Add(5*time.Minute), h.NextRecoveryCheck())
}

func TestAllowGrantsExactlyOneProbe(t *testing.T) {
	reg := NewHealthRegistry(testSettings())
	h := reg.Get("p")

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	for i := 0; i < 4; i++ {
		h.RecordFailure(remoteErr())
	}
	require.Equal(t, StatusFailed, h.Status())

	// Before the recovery check, nothing goes through.
	ok, probe := h.Allow()
	assert.False(t, ok)
	assert.False(t, probe)

	// After the recovery check elapses, exactly one concurrent caller wins
	// the probe slot.
	now = now.Add(31 * time.Second)

	var mu sync.Mutex
	probes := 0
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, probe := h.Allow(); ok && probe {
				mu.Lock()
				probes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, probes)

	// A failed probe re-arms the backoff; no new probe until it elapses.
	h.RecordFailure(remoteErr())
	ok, _ = h.Allow()
	assert.False(t, ok)

	// A successful probe reopens the provider for everyone.
	now = now.Add(2 * time.Minute)
	ok, probe = h.Allow()
	require.True(t, ok)
	require.True(t, probe)
	h.RecordSuccess()
	ok, probe = h.Allow()
	assert.True(t, ok)
	assert.False(t, probe)
}

func TestManualResetClearsFailedState(t *testing.T) {
	reg := NewHealthRegistry(testSettings())
	h := reg.Get("p")

	for i := 0; i < 5; i++ {
		h.RecordFailure(remoteErr())
	}
	require.Equal(t, StatusFailed, h.Status())

	h.Reset()
	assert.Equal(t, StatusHealthy, h.Status())
	ok, probe := h.Allow()
	assert.True(t, ok)
	assert.False(t, probe)
}

func TestOnStateChangeFires(t *testing.T) {
	var mu sync.Mutex
	var transitions []string

	settings := testSettings()
	settings.OnStateChange = func(name string, from, to Status) {
		mu.Lock()
		transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		mu.Unlock()
	}

	reg := NewHealthRegistry(settings)
	h := reg.Get("p")

	for i := 0; i < 4; i++ {
		h.RecordFailure(remoteErr())
	}
	h.RecordSuccess()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"p:healthy->degraded",
		"p:degraded->failed",
		"p:failed->healthy",
	}, transitions)
}

func TestRegistrySharesHealthAcrossCallers(t *testing.T) {
	reg := NewHealthRegistry(testSettings())
	assert.Same(t, reg.Get("p"), reg.Get("p"))
	assert.NotSame(t, reg.Get("p"), reg.Get("q"))
	assert.Len(t, reg.Snapshots(), 2)
}

func TestKindOfDefaultsToRemote(t *testing.T) {
	assert.Equal(t, KindRemote, KindOf(errors.New("plain")))
	assert.Equal(t, KindTimeout, KindOf(&Error{Kind: KindTimeout}))
}

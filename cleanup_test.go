package leadguard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeperEvictsIdleState(t *testing.T) {
	clock := newShiftClock()
	store := NewInMemoryGuardStore()
	store.clock = clock.Now
	ledger := NewMemoryLedger(time.Hour)
	ledger.clock = clock.Now
	metrics := NewInMemoryMetricsCollector()

	sweeper := NewSweeper(store, ledger,
		WithIdleTTL(30*time.Minute),
		WithSweeperClock(clock.Now),
		WithSweeperMetrics(metrics),
	)

	require.NoError(t, store.Commit("idle", []time.Time{clock.Now()}, nil))
	require.NoError(t, ledger.Record(NewSubmissionEvent("idle", true, "", clock.Now())))

	clock.Advance(45 * time.Minute)
	require.NoError(t, store.Commit("active", []time.Time{clock.Now()}, nil))

	sweeper.Sweep()

	assert.Equal(t, 1, store.Len(), "only the idle identity is evicted")
	_, _, err := store.Snapshot("active")
	require.NoError(t, err)

	assert.Equal(t, int64(1), metrics.CounterValue("guard_sweeps_total", nil))
}

func TestSweeperPrunesProfiler(t *testing.T) {
	clock := newShiftClock()
	store := NewInMemoryGuardStore()
	profiler := NewTrafficProfiler(time.Minute, 16)
	profiler.clock = clock.Now

	sweeper := NewSweeper(store, nil,
		WithSweeperProfiler(profiler),
		WithSweeperClock(clock.Now),
	)

	profiler.Observe("1.2.3.4", "/api/send", "ua")
	clock.Advance(2 * time.Minute)
	sweeper.Sweep()

	assert.Zero(t, profiler.Snapshot("1.2.3.4"))
}

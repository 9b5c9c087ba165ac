package hub

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rpcmesh/rpcmesh/db"
)

func newTestRecorder(t *testing.T) (*Recorder, db.Store, *Registry) {
	t.Helper()
	store, err := db.NewFileStore(filepath.Join(t.TempDir(), "stats.json"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	registry := NewRegistry(zap.NewNop())
	cfg := &Config{}
	cfg.withDefaults()
	return NewRecorder(store, "", registry, cfg, zap.NewNop()), store, registry
}

func TestUptimeSumsAcrossSessions(t *testing.T) {
	recorder, store, _ := newTestRecorder(t)

	durations := []time.Duration{90 * time.Second, 30 * time.Second, 5 * time.Minute}
	var want uint64
	for _, d := range durations {
		now := time.Now()
		node := NewConnectedNode(nil, "0xaaa", "", "1.1.1.1", now.Add(-d))
		recorder.FlushDisconnect(node, now)
		want += uint64(d.Seconds())
	}

	stats, err := store.GetWalletStats("0xaaa")
	require.NoError(t, err)
	assert.EqualValues(t, want, stats.TotalUptimeSeconds, "no double counting, no loss")
	assert.False(t, stats.LastDisconnectAt.IsZero())
}

func TestRequestsMonotonicAcrossRestart(t *testing.T) {
	recorder, store, _ := newTestRecorder(t)

	node := NewConnectedNode(nil, "0xaaa", "", "1.1.1.1", time.Now())
	node.SeedPerf(recorder.SeedStats("0xaaa", "1.1.1.1", time.Now()))
	for i := 0; i < 25; i++ {
		node.RecordOutcome(50*time.Millisecond, false, true, false)
	}
	recorder.PersistWallet(node)
	recorder.FlushDisconnect(node, time.Now())

	// "Restart": a fresh recorder over the same store, and a fresh session
	// seeded from the durable row.
	cfg := &Config{}
	cfg.withDefaults()
	recorder2 := NewRecorder(store, "", NewRegistry(zap.NewNop()), cfg, zap.NewNop())

	node2 := NewConnectedNode(nil, "0xaaa", "", "1.1.1.1", time.Now())
	node2.SeedPerf(recorder2.SeedStats("0xaaa", "1.1.1.1", time.Now()))
	assert.EqualValues(t, 25, node2.Perf().RequestsHandled, "counters continue where they left off")

	node2.RecordOutcome(50*time.Millisecond, false, true, false)
	recorder2.PersistWallet(node2)

	stats, err := store.GetWalletStats("0xaaa")
	require.NoError(t, err)
	assert.EqualValues(t, 26, stats.RequestsHandled)
}

func TestSeedStatsResetsOnNewSourceAddress(t *testing.T) {
	recorder, store, _ := newTestRecorder(t)

	require.NoError(t, store.SaveWalletStats(&db.WalletStats{
		Wallet:                 "0xaaa",
		RequestsHandled:        40,
		CacheHits:              10,
		CacheMisses:            30,
		Errors:                 9,
		EmaLatencyMs:           2800,
		TotalUptimeSeconds:     1000,
		LastKnownSourceAddress: "1.1.1.1",
	}))

	seeded := recorder.SeedStats("0xaaa", "9.9.9.9", time.Now())
	assert.Zero(t, seeded.Errors, "penalties do not follow the wallet to a new machine")
	assert.Zero(t, seeded.EmaLatencyMs)
	assert.EqualValues(t, 40, seeded.RequestsHandled)
	assert.EqualValues(t, 10, seeded.CacheHits)
	assert.EqualValues(t, 30, seeded.CacheMisses)
	assert.EqualValues(t, 1000, seeded.TotalUptimeSeconds)

	// The reset is durable, not just in the session seed.
	stored, err := store.GetWalletStats("0xaaa")
	require.NoError(t, err)
	assert.Zero(t, stored.Errors)
	assert.Equal(t, "9.9.9.9", stored.LastKnownSourceAddress)
}

func TestGlobalStatsAccumulateAndFlush(t *testing.T) {
	recorder, store, _ := newTestRecorder(t)

	recorder.RecordRequest(1000, false)
	recorder.RecordRequest(2000, false)
	recorder.RecordRequest(0, true)

	snapshot := recorder.GlobalSnapshot()
	assert.EqualValues(t, 3, snapshot.TotalRequests)
	assert.EqualValues(t, 1, snapshot.TotalErrors)
	assert.EqualValues(t, 3000, snapshot.TotalBytesServed)

	recorder.FlushAll()
	stored, err := store.GetGlobalStats()
	require.NoError(t, err)
	assert.EqualValues(t, 3, stored.TotalRequests)
}

// gatedStore stalls one wallet save on command so tests can force a slow
// backend write to overlap other stats operations.
type gatedStore struct {
	db.Store
	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) SaveWalletStats(stats *db.WalletStats) error {
	s.mu.Lock()
	hit := s.armed
	s.armed = false
	s.mu.Unlock()
	if hit {
		close(s.entered)
		<-s.release
	}
	return s.Store.SaveWalletStats(stats)
}

func TestSlowPersistCannotEraseDisconnectFlush(t *testing.T) {
	inner, err := db.NewFileStore(filepath.Join(t.TempDir(), "stats.json"))
	require.NoError(t, err)
	t.Cleanup(func() { inner.Close() })
	store := &gatedStore{Store: inner, entered: make(chan struct{}), release: make(chan struct{})}

	cfg := &Config{}
	cfg.withDefaults()
	rec := NewRecorder(store, "", NewRegistry(zap.NewNop()), cfg, zap.NewNop())

	start := time.Now().Add(-100 * time.Second)
	node := NewConnectedNode(nil, "0xaaa", "", "1.1.1.1", start)
	node.RecordOutcome(50*time.Millisecond, false, true, false)

	store.mu.Lock()
	store.armed = true
	store.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		rec.PersistWallet(node)
	}()
	<-store.entered // the persist loaded its row and is stalled mid-save

	go func() {
		defer wg.Done()
		rec.FlushDisconnect(node, start.Add(100*time.Second))
	}()
	time.Sleep(20 * time.Millisecond) // give the flush every chance to race
	close(store.release)
	wg.Wait()

	stats, err := inner.GetWalletStats("0xaaa")
	require.NoError(t, err)
	assert.EqualValues(t, 100, stats.TotalUptimeSeconds,
		"a stale persist must not overwrite the disconnect flush")
	assert.EqualValues(t, 1, stats.RequestsHandled)
}

func TestShutdownFlushFinalizesLiveSessionsOnce(t *testing.T) {
	recorder, store, registry := newTestRecorder(t)

	node := NewConnectedNode(nil, "0xaaa", "", "1.1.1.1", time.Now().Add(-100*time.Second))
	node.SetState(StateRegisteredActive)
	registry.Admit(node)

	recorder.FlushAll()

	stats, err := store.GetWalletStats("0xaaa")
	require.NoError(t, err)
	firstUptime := stats.TotalUptimeSeconds
	assert.InDelta(t, 100, float64(firstUptime), 2, "live session uptime is recorded at shutdown")
	assert.Equal(t, 0, registry.Count())

	// A second shutdown flush and a late disconnect handler are both no-ops.
	recorder.FlushAll()
	if registry.Drop(node) {
		recorder.FlushDisconnect(node, time.Now())
	}
	stats, err = store.GetWalletStats("0xaaa")
	require.NoError(t, err)
	assert.Equal(t, firstUptime, stats.TotalUptimeSeconds, "uptime is added exactly once")
}

func TestStatsFollowWalletAcrossAddressCasing(t *testing.T) {
	recorder, store, _ := newTestRecorder(t)

	node := NewConnectedNode(nil, "0xAbCd", "", "1.1.1.1", time.Now())
	node.SeedPerf(recorder.SeedStats("0xAbCd", "1.1.1.1", time.Now()))
	node.RecordOutcome(50*time.Millisecond, false, true, false)
	recorder.PersistWallet(node)

	// Reconnecting with different address casing continues the same row.
	seeded := recorder.SeedStats("0xABCD", "1.1.1.1", time.Now())
	assert.EqualValues(t, 1, seeded.RequestsHandled)

	stats, err := store.GetWalletStats("0xabcd")
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.RequestsHandled)
}

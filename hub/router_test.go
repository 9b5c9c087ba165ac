package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRouter(t *testing.T) (*Router, *Registry) {
	t.Helper()
	recorder, _, registry := newTestRecorder(t)
	cfg := &Config{CallTimeout: time.Second}
	return NewRouter(registry, recorder, cfg, zap.NewNop()), registry
}

func activeNode(wallet string, requests, errCount uint64, emaMs float64) *ConnectedNode {
	node := NewConnectedNode(nil, wallet, "", "1.1.1.1", time.Now())
	node.SetState(StateRegisteredActive)
	node.perf = PerfCounters{RequestsHandled: requests, Errors: errCount, EmaLatencyMs: emaMs}
	return node
}

func TestRouteFailsFastWithoutNodes(t *testing.T) {
	router, _ := newTestRouter(t)

	start := time.Now()
	_, err := router.Route([]byte(`{"method":"getSlot"}`))
	assert.Equal(t, ErrNoCapacity, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond, "no busy-wait")
}

func TestHealthFilterExcludesErrorProneNode(t *testing.T) {
	router, registry := newTestRouter(t)

	// B is faster but has a 40% error rate; every call must go to A.
	nodeA := activeNode("0xaaa", 10, 0, 50)
	nodeB := activeNode("0xbbb", 10, 4, 40)
	registry.Admit(nodeA)
	registry.Admit(nodeB)

	for i := 0; i < 50; i++ {
		picked, err := router.pick()
		require.NoError(t, err)
		assert.Same(t, nodeA, picked)
	}
}

func TestHealthFilterExcludesSlowNode(t *testing.T) {
	router, registry := newTestRouter(t)

	slow := activeNode("0xaaa", 20, 0, 4000)
	fast := activeNode("0xbbb", 20, 0, 100)
	registry.Admit(slow)
	registry.Admit(fast)

	picked, err := router.pick()
	require.NoError(t, err)
	assert.Same(t, fast, picked)
}

func TestHealthFilterNeverBlocksRouting(t *testing.T) {
	router, registry := newTestRouter(t)

	// Every candidate is unhealthy; routing falls back to the full set
	// rather than failing.
	registry.Admit(activeNode("0xaaa", 10, 9, 50))
	registry.Admit(activeNode("0xbbb", 10, 8, 60))

	_, err := router.pick()
	assert.NoError(t, err)
}

func TestNewNodesGetNeutralLatency(t *testing.T) {
	veteran := activeNode("0xaaa", 100, 0, 2000)
	fresh := activeNode("0xbbb", 2, 0, 10_000) // sample exists but is unreliable

	ranked := rankByLatency([]*ConnectedNode{veteran, fresh})
	assert.Same(t, fresh, ranked[0], "under 5 requests ranks at the neutral 500ms")
	assert.Same(t, veteran, ranked[1])
}

func TestRoundRobinFairness(t *testing.T) {
	router, registry := newTestRouter(t)

	wallets := []string{"0xaaa", "0xbbb", "0xccc"}
	nodes := map[string]*ConnectedNode{}
	for _, w := range wallets {
		node := activeNode(w, 10, 0, 100)
		nodes[w] = node
		registry.Admit(node)
	}

	const m = 301
	counts := map[string]int{}
	for i := 0; i < m; i++ {
		picked, err := router.pick()
		require.NoError(t, err)
		counts[picked.Wallet]++
	}

	for _, w := range wallets {
		assert.Contains(t, []int{m / 3, m/3 + 1}, counts[w],
			"each fast-pool member gets floor(M/K) or ceil(M/K) calls")
	}
}

func TestFastPoolTakesFastestHalfWithFloor(t *testing.T) {
	var ranked []*ConnectedNode
	for _, w := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		ranked = append(ranked, activeNode(w, 10, 0, 100))
	}

	assert.Len(t, fastPool(ranked), 4, "half of 8")
	assert.Len(t, fastPool(ranked[:4]), 3, "floor of 3")
	assert.Len(t, fastPool(ranked[:2]), 2, "floor capped at the set size")
	assert.Len(t, fastPool(ranked[:1]), 1)
}

func TestStalePingExcludedFromRouting(t *testing.T) {
	router, registry := newTestRouter(t)

	node := activeNode("0xaaa", 10, 0, 100)
	node.MarkPing(time.Now().Add(-5 * time.Minute))
	registry.Admit(node)

	_, err := router.pick()
	assert.Equal(t, ErrNoCapacity, err)
}

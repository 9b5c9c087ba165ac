package hub

import (
	"encoding/json"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var ErrNoCapacity = errors.New("no nodes available")

// RouteResult carries a routed call's outcome plus router metadata.
type RouteResult struct {
	Result    json.RawMessage
	Wallet    string
	LatencyMs float64
	CacheHit  bool
}

// Router selects a node per inbound call, forwards the call over the node's
// socket and correlates the response. Selection spreads load over the "fast
// pool" of healthy low-latency candidates by round robin instead of
// hammering the single fastest node.
type Router struct {
	registry *Registry
	recorder *Recorder
	cfg      *Config
	logger   *zap.Logger

	rr  uint32
	now func() time.Time
}

func NewRouter(registry *Registry, recorder *Recorder, cfg *Config, logger *zap.Logger) *Router {
	cfg.withDefaults()
	return &Router{
		registry: registry,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger.With(zap.String("who", "Router")),
		now:      time.Now,
	}
}

// Route forwards one opaque RPC payload and blocks for the result, a routed
// error, or the dispatch deadline.
func (r *Router) Route(payload json.RawMessage) (*RouteResult, error) {
	node, err := r.pick()
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	dispatched, err := node.Dispatch(id, payload, r.cfg.CallTimeout)
	if err != nil {
		var latency time.Duration
		haveLatency := dispatched != nil
		if haveLatency {
			latency = dispatched.Latency
		}
		node.RecordOutcome(latency, true, haveLatency, false)
		r.recorder.RecordRequest(0, true)
		r.recorder.PersistWallet(node)
		r.logger.Debug("routed call failed",
			zap.String("wallet", node.Wallet), zap.Error(err))
		return nil, err
	}

	node.RecordOutcome(dispatched.Latency, false, true, dispatched.CacheHit)
	r.recorder.RecordRequest(len(dispatched.Result), false)
	r.recorder.PersistWallet(node)

	return &RouteResult{
		Result:    dispatched.Result,
		Wallet:    node.Wallet,
		LatencyMs: float64(dispatched.Latency.Milliseconds()),
		CacheHit:  dispatched.CacheHit,
	}, nil
}

// pick runs the selection pipeline: eligibility, health filter, latency
// ranking, fast pool, round robin.
func (r *Router) pick() (*ConnectedNode, error) {
	now := r.now()
	candidates := r.registry.Eligible(now, r.cfg.PingWindow)
	if len(candidates) == 0 {
		return nil, ErrNoCapacity
	}

	healthy := filterHealthy(candidates)
	if len(healthy) == 0 {
		// Health heuristics must never block routing outright.
		healthy = candidates
	}

	ranked := rankByLatency(healthy)
	pool := fastPool(ranked)

	idx := atomic.AddUint32(&r.rr, 1) - 1
	return pool[int(idx)%len(pool)], nil
}

// filterHealthy drops nodes with a proven bad record: enough traffic to
// judge, and either an error rate above 30% or a latency EMA above 3s.
func filterHealthy(nodes []*ConnectedNode) []*ConnectedNode {
	healthy := make([]*ConnectedNode, 0, len(nodes))
	for _, node := range nodes {
		perf := node.Perf()
		if perf.RequestsHandled >= healthMinRequests {
			errRate := float64(perf.Errors) / float64(perf.RequestsHandled)
			if errRate > healthMaxErrRate || perf.EmaLatencyMs > healthMaxEmaMs {
				continue
			}
		}
		healthy = append(healthy, node)
	}
	return healthy
}

// rankByLatency sorts ascending by effective latency. Nodes without enough
// lifetime traffic get a neutral latency instead of their unreliable sample.
func rankByLatency(nodes []*ConnectedNode) []*ConnectedNode {
	type scored struct {
		node    *ConnectedNode
		latency float64
	}
	scoredNodes := make([]scored, 0, len(nodes))
	for _, node := range nodes {
		perf := node.Perf()
		latency := neutralLatencyMs
		if perf.RequestsHandled >= healthMinRequests {
			latency = perf.EmaLatencyMs
		}
		scoredNodes = append(scoredNodes, scored{node, latency})
	}
	// Tie-break on wallet so the ranking is stable across calls; the
	// candidate snapshot comes out of a map in arbitrary order.
	sort.SliceStable(scoredNodes, func(i, j int) bool {
		if scoredNodes[i].latency != scoredNodes[j].latency {
			return scoredNodes[i].latency < scoredNodes[j].latency
		}
		return scoredNodes[i].node.Wallet < scoredNodes[j].node.Wallet
	})
	ranked := make([]*ConnectedNode, len(scoredNodes))
	for i, s := range scoredNodes {
		ranked[i] = s.node
	}
	return ranked
}

// fastPool takes the fastest half of the ranked set, floor 3.
func fastPool(ranked []*ConnectedNode) []*ConnectedNode {
	size := len(ranked) / 2
	if size < fastPoolFloor {
		size = fastPoolFloor
	}
	if size > len(ranked) {
		size = len(ranked)
	}
	return ranked[:size]
}

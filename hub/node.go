package hub

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/rpcmesh/rpcmesh/chain"
	"github.com/rpcmesh/rpcmesh/db"
	"github.com/rpcmesh/rpcmesh/protocol"
)

// Registration states of a node connection.
type State int32

const (
	StateConnecting State = iota
	StateAwaitingVerification
	StateRegisteredUnbonded
	StateRegisteredActive
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingVerification:
		return "awaiting_verification"
	case StateRegisteredUnbonded:
		return "registered_unbonded"
	case StateRegisteredActive:
		return "registered_active"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

var (
	ErrDispatchTimeout   = errors.New("rpc dispatch timed out")
	ErrConnectionClosed  = errors.New("node connection closed")
	ErrDuplicateCallID   = errors.New("duplicate call id")
	ErrNodeNotDispatched = errors.New("node rejected dispatch")
)

// PerfCounters are the per-session performance counters, seeded from the
// wallet's durable stats on connect.
type PerfCounters struct {
	RequestsHandled uint64  `json:"requests_handled"`
	EmaLatencyMs    float64 `json:"ema_latency_ms"`
	CacheHits       uint64  `json:"cache_hits"`
	CacheMisses     uint64  `json:"cache_misses"`
	Errors          uint64  `json:"errors"`
}

type callOutcome struct {
	result   json.RawMessage
	cacheHit bool
	err      error
}

// DispatchResult is the terminal outcome of one forwarded call.
type DispatchResult struct {
	Result   json.RawMessage
	Latency  time.Duration
	CacheHit bool
}

type pendingCall struct {
	sentAt time.Time
	timer  *time.Timer
	done   chan callOutcome
}

// ConnectedNode is the hub's handle on one live node socket. At most one
// instance is active per operator wallet at any instant; the Registry
// enforces newest-connection-wins.
type ConnectedNode struct {
	Wallet        string
	DisplayName   string
	SourceAddress string
	GeoLabel      string
	ConnectedAt   time.Time

	conn  *websocket.Conn
	state int32

	writeMu sync.Mutex // the websocket allows a single concurrent writer

	mu         sync.Mutex
	lastPingAt time.Time
	perf       PerfCounters
	pending    map[string]*pendingCall
	closed     bool
	chainInfo  *chain.OperatorInfo
}

func NewConnectedNode(conn *websocket.Conn, wallet, displayName, sourceAddress string, now time.Time) *ConnectedNode {
	return &ConnectedNode{
		Wallet:        wallet,
		DisplayName:   displayName,
		SourceAddress: sourceAddress,
		ConnectedAt:   now,
		conn:          conn,
		state:         int32(StateConnecting),
		lastPingAt:    now,
		pending:       map[string]*pendingCall{},
	}
}

func (n *ConnectedNode) State() State {
	return State(atomic.LoadInt32(&n.state))
}

func (n *ConnectedNode) SetState(s State) {
	atomic.StoreInt32(&n.state, int32(s))
}

// SeedPerf pre-seeds the session counters from the wallet's durable stats so
// counters stay continuous across hub restarts and node reconnects.
func (n *ConnectedNode) SeedPerf(stored *db.WalletStats) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.perf = PerfCounters{
		RequestsHandled: stored.RequestsHandled,
		EmaLatencyMs:    stored.EmaLatencyMs,
		CacheHits:       stored.CacheHits,
		CacheMisses:     stored.CacheMisses,
		Errors:          stored.Errors,
	}
}

func (n *ConnectedNode) Perf() PerfCounters {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.perf
}

func (n *ConnectedNode) SetChainInfo(info *chain.OperatorInfo) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.chainInfo = info
}

func (n *ConnectedNode) ChainInfo() *chain.OperatorInfo {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.chainInfo
}

func (n *ConnectedNode) MarkPing(now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastPingAt = now
}

func (n *ConnectedNode) LastPingAt() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastPingAt
}

// Eligible reports whether the node may receive routed traffic right now.
func (n *ConnectedNode) Eligible(now time.Time, pingWindow time.Duration) bool {
	if n.State() != StateRegisteredActive {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return !n.closed && now.Sub(n.lastPingAt) <= pingWindow
}

// Send writes one frame to the node's socket.
func (n *ConnectedNode) Send(msg *protocol.Message) error {
	n.writeMu.Lock()
	defer n.writeMu.Unlock()
	return n.conn.WriteJSON(msg)
}

// Dispatch forwards one RPC payload and blocks until the node responds, the
// deadline passes, or the socket closes. Every call completes exactly once.
func (n *ConnectedNode) Dispatch(id string, payload json.RawMessage, timeout time.Duration) (*DispatchResult, error) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	if _, exists := n.pending[id]; exists {
		n.mu.Unlock()
		return nil, ErrDuplicateCallID
	}
	call := &pendingCall{
		sentAt: time.Now(),
		done:   make(chan callOutcome, 1),
	}
	call.timer = time.AfterFunc(timeout, func() {
		n.complete(id, callOutcome{err: ErrDispatchTimeout})
	})
	n.pending[id] = call
	n.mu.Unlock()

	err := n.Send(&protocol.Message{Type: protocol.TypeRPCRequest, ID: id, Payload: payload})
	if err != nil {
		n.complete(id, callOutcome{err: ErrNodeNotDispatched})
	}

	outcome := <-call.done
	res := &DispatchResult{
		Result:   outcome.result,
		Latency:  time.Since(call.sentAt),
		CacheHit: outcome.cacheHit,
	}
	switch outcome.err {
	case nil:
		return res, nil
	case ErrDispatchTimeout, ErrConnectionClosed, ErrNodeNotDispatched:
		// No frame came back; no usable latency sample.
		return nil, outcome.err
	default:
		// The node answered with an upstream RPC error. The latency sample
		// is still real.
		return res, outcome.err
	}
}

// Resolve completes the pending call matching an rpc_response frame.
// Unknown ids (already timed out, or never ours) are ignored.
func (n *ConnectedNode) Resolve(id string, result json.RawMessage, errMsg string, cacheHit bool) {
	if errMsg != "" {
		n.complete(id, callOutcome{err: errors.New(errMsg)})
		return
	}
	n.complete(id, callOutcome{result: result, cacheHit: cacheHit})
}

// complete is the single completion path. Deleting the entry from the
// pending map under the lock is what makes completion exactly-once.
func (n *ConnectedNode) complete(id string, outcome callOutcome) {
	n.mu.Lock()
	call, ok := n.pending[id]
	if ok {
		delete(n.pending, id)
	}
	n.mu.Unlock()
	if !ok {
		return
	}
	call.timer.Stop()
	call.done <- outcome
}

// Close marks the node closed, fails all in-flight calls promptly and closes
// the socket. Safe to call more than once and concurrently with dispatches.
func (n *ConnectedNode) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	pending := n.pending
	n.pending = map[string]*pendingCall{}
	n.mu.Unlock()

	n.SetState(StateDisconnected)
	for _, call := range pending {
		call.timer.Stop()
		call.done <- callOutcome{err: ErrConnectionClosed}
	}
	_ = n.conn.Close()
}

func (n *ConnectedNode) Closed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// RecordOutcome folds one routed call into the session counters. Latency is
// capped before entering the EMA to resist outlier skew; the first sample
// seeds the EMA directly. Timeouts and transport failures carry no latency
// sample and only count as errors.
func (n *ConnectedNode) RecordOutcome(latency time.Duration, isErr, haveLatency, cacheHit bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.perf.RequestsHandled++
	if isErr {
		n.perf.Errors++
	}
	if haveLatency {
		ms := float64(latency.Milliseconds())
		if ms > latencyCapMs {
			ms = latencyCapMs
		}
		if n.perf.EmaLatencyMs == 0 {
			// first sample seeds the EMA
			n.perf.EmaLatencyMs = ms
		} else {
			n.perf.EmaLatencyMs = n.perf.EmaLatencyMs*(1-emaAlpha) + ms*emaAlpha
		}
	}
	if !isErr {
		if cacheHit {
			n.perf.CacheHits++
		} else {
			n.perf.CacheMisses++
		}
	}
}

// SessionStats snapshots the session as a WalletStats row for merging.
func (n *ConnectedNode) SessionStats() *db.WalletStats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return &db.WalletStats{
		Wallet:                 n.Wallet,
		RequestsHandled:        n.perf.RequestsHandled,
		EmaLatencyMs:           n.perf.EmaLatencyMs,
		CacheHits:              n.perf.CacheHits,
		CacheMisses:            n.perf.CacheMisses,
		Errors:                 n.perf.Errors,
		FirstConnectAt:         n.ConnectedAt,
		LastKnownSourceAddress: n.SourceAddress,
		GeoLabel:               n.GeoLabel,
	}
}

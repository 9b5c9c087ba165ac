package hub

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry owns the operator→connection map. All access goes through its
// methods; there is no shared mutable map anywhere else.
type Registry struct {
	mu     sync.RWMutex
	nodes  map[string]*ConnectedNode
	logger *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		nodes:  map[string]*ConnectedNode{},
		logger: logger.With(zap.String("who", "Registry")),
	}
}

func walletKey(wallet string) string {
	return strings.ToLower(wallet)
}

// Take removes and returns the current connection for a wallet, if any. The
// caller owns closing and flushing it. Used on reconnect so the previous
// session is flushed before the new connection is admitted.
func (r *Registry) Take(wallet string) *ConnectedNode {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := walletKey(wallet)
	node := r.nodes[key]
	if node != nil {
		delete(r.nodes, key)
	}
	return node
}

// Admit installs a node as the one active connection for its wallet.
func (r *Registry) Admit(node *ConnectedNode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[walletKey(node.Wallet)] = node
}

// Drop removes the wallet mapping only if it still points at node. Returns
// false when a newer connection has already superseded it, in which case the
// caller must not flush (the supersede path did).
func (r *Registry) Drop(node *ConnectedNode) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := walletKey(node.Wallet)
	if r.nodes[key] != node {
		return false
	}
	delete(r.nodes, key)
	return true
}

// Get returns the active connection for a wallet, or nil.
func (r *Registry) Get(wallet string) *ConnectedNode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nodes[walletKey(wallet)]
}

// List snapshots all live connections.
func (r *Registry) List() []*ConnectedNode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nodes := make([]*ConnectedNode, 0, len(r.nodes))
	for _, node := range r.nodes {
		nodes = append(nodes, node)
	}
	return nodes
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Eligible returns the routable candidate set: registered-active connections
// whose last heartbeat is within the ping window.
func (r *Registry) Eligible(now time.Time, pingWindow time.Duration) []*ConnectedNode {
	all := r.List()
	eligible := make([]*ConnectedNode, 0, len(all))
	for _, node := range all {
		if node.Eligible(now, pingWindow) {
			eligible = append(eligible, node)
		}
	}
	return eligible
}

package chain

import (
	"context"
	"sync"
	"time"
)

// CachedVerifier wraps another Verifier with a coarse TTL cache so the hub
// does not hammer the chain RPC on every reconnect. Not-found results are
// cached too; an operator who bonds mid-window shows up after one TTL.
type CachedVerifier struct {
	inner Verifier
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]cachedLookup

	now func() time.Time
}

type cachedLookup struct {
	info    *OperatorInfo
	err     error
	fetched time.Time
}

func NewCachedVerifier(inner Verifier, ttl time.Duration) *CachedVerifier {
	return &CachedVerifier{
		inner:   inner,
		ttl:     ttl,
		entries: map[string]cachedLookup{},
		now:     time.Now,
	}
}

func (v *CachedVerifier) Lookup(ctx context.Context, operator string) (*OperatorInfo, error) {
	v.mu.Lock()
	entry, ok := v.entries[operator]
	v.mu.Unlock()
	if ok && v.now().Sub(entry.fetched) < v.ttl {
		return entry.info, entry.err
	}

	info, err := v.inner.Lookup(ctx, operator)
	if err != nil && err != ErrOperatorNotFound {
		// Transient chain errors are not cached; a stale hit beats an error.
		if ok {
			return entry.info, entry.err
		}
		return nil, err
	}
	v.mu.Lock()
	v.entries[operator] = cachedLookup{info: info, err: err, fetched: v.now()}
	v.mu.Unlock()
	return info, err
}

package agent

import (
	"sync"
	"time"
)

// Endpoint is one candidate relay hub.
type Endpoint struct {
	URL    string `yaml:"url" json:"url"`
	Region string `yaml:"region" json:"region"`
}

// Failover tracks which relay endpoint the agent is on and how long to wait
// before the next attempt. Consecutive failures back off exponentially;
// enough of them against one endpoint advances to the next in the ordered
// list, wrapping, with a fresh failure counter for the new target.
type Failover struct {
	mu          sync.Mutex
	endpoints   []Endpoint
	idx         int
	failures    int
	base        time.Duration
	cap         time.Duration
	maxFailures int
}

func NewFailover(endpoints []Endpoint, base, cap time.Duration, maxFailures int) *Failover {
	return &Failover{
		endpoints:   endpoints,
		base:        base,
		cap:         cap,
		maxFailures: maxFailures,
	}
}

func (f *Failover) Current() Endpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endpoints[f.idx]
}

// RecordFailure notes a failed attempt against the current endpoint and
// returns how long to wait before the next one.
func (f *Failover) RecordFailure() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures++
	delay := f.base << (f.failures - 1)
	if delay > f.cap || delay <= 0 {
		delay = f.cap
	}
	if f.failures >= f.maxFailures {
		f.advanceLocked()
	}
	return delay
}

// RecordSuccess resets the backoff after a working connection.
func (f *Failover) RecordSuccess() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = 0
}

// Advance rotates to the next endpoint immediately, e.g. when a live link
// went silent without an explicit close.
func (f *Failover) Advance() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advanceLocked()
}

func (f *Failover) advanceLocked() {
	f.idx = (f.idx + 1) % len(f.endpoints)
	f.failures = 0
}

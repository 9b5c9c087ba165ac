package agent

import "time"

// Methods that must never be served stale, no matter what TTL configuration
// says: anything that submits or simulates a transaction, polls signature
// status, or estimates fees.
var neverCache = map[string]struct{}{
	"sendTransaction":              {},
	"simulateTransaction":          {},
	"getSignatureStatuses":         {},
	"getFeeForMessage":             {},
	"getRecentPrioritizationFees":  {},
	"requestAirdrop":               {},
	"isBlockhashValid":             {},
	"signatureSubscribe":           {},
	"sendBundle":                   {},
	"simulateBundle":               {},
	"getLatestBlockhashAndContext": {},
}

// Per-method TTLs tuned to how fast the underlying data changes: sub-second
// for slot/blockhash queries, seconds for account state, minutes for
// epoch-level and immutable data.
var methodTTLs = map[string]time.Duration{
	"getSlot":                 400 * time.Millisecond,
	"getLatestBlockhash":      400 * time.Millisecond,
	"getBlockHeight":          400 * time.Millisecond,
	"getRecentPerformance":    2 * time.Second,
	"getBalance":              2 * time.Second,
	"getAccountInfo":          2 * time.Second,
	"getMultipleAccounts":     2 * time.Second,
	"getTokenAccountBalance":  2 * time.Second,
	"getTokenAccountsByOwner": 5 * time.Second,
	"getProgramAccounts":      5 * time.Second,
	"getSupply":               30 * time.Second,
	"getEpochInfo":            30 * time.Second,
	"getClusterNodes":         time.Minute,
	"getBlock":                2 * time.Minute,
	"getTransaction":          2 * time.Minute,
	"getBlockTime":            2 * time.Minute,
	"getEpochSchedule":        5 * time.Minute,
	"getInflationRate":        5 * time.Minute,
	"getVersion":              5 * time.Minute,
	"getGenesisHash":          10 * time.Minute,
}

const defaultTTL = 5 * time.Second

// Cacheable classifies a method before dispatch.
func Cacheable(method string) bool {
	_, denied := neverCache[method]
	return !denied
}

// TTLFor returns the freshness window for a cacheable method.
func TTLFor(method string) time.Duration {
	if ttl, ok := methodTTLs[method]; ok {
		return ttl
	}
	return defaultTTL
}

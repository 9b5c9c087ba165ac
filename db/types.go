package db

import "time"

// WalletStats holds the durable, cumulative counters for an operator wallet.
// All counters are monotonically non-decreasing across the wallet's lifetime;
// merges from a live session never move a counter downward.
type WalletStats struct {
	Wallet                 string    `json:"wallet"`
	RequestsHandled        uint64    `json:"requests_handled"`
	EmaLatencyMs           float64   `json:"ema_latency_ms"`
	CacheHits              uint64    `json:"cache_hits"`
	CacheMisses            uint64    `json:"cache_misses"`
	Errors                 uint64    `json:"errors"`
	TotalUptimeSeconds     uint64    `json:"total_uptime_seconds"`
	FirstConnectAt         time.Time `json:"first_connect_at"`
	LastDisconnectAt       time.Time `json:"last_disconnect_at"`
	LastKnownSourceAddress string    `json:"last_known_source_address"`
	GeoLabel               string    `json:"geo_label,omitempty"`
}

// GlobalStats is the single durable network-wide counter row.
type GlobalStats struct {
	TotalBytesServed  uint64    `json:"total_bytes_served"`
	TotalRequests     uint64    `json:"total_requests"`
	TotalErrors       uint64    `json:"total_errors"`
	TrackingStartedAt time.Time `json:"tracking_started_at"`
}

// Merge folds a live session snapshot into the stored stats. Counters take
// the maximum of stored and session values. The latency EMA follows the
// session once it has seen traffic, since the session was seeded from the
// stored value at connect time. Uptime is not touched here; it is added
// exactly once on disconnect via AddUptime.
func (w *WalletStats) Merge(session *WalletStats) {
	w.RequestsHandled = maxUint64(w.RequestsHandled, session.RequestsHandled)
	w.CacheHits = maxUint64(w.CacheHits, session.CacheHits)
	w.CacheMisses = maxUint64(w.CacheMisses, session.CacheMisses)
	w.Errors = maxUint64(w.Errors, session.Errors)
	if session.RequestsHandled > 0 {
		w.EmaLatencyMs = session.EmaLatencyMs
	}
	if w.FirstConnectAt.IsZero() {
		w.FirstConnectAt = session.FirstConnectAt
	}
	if session.GeoLabel != "" {
		w.GeoLabel = session.GeoLabel
	}
}

// AddUptime records a completed session of the given duration. Callers must
// invoke this exactly once per session, on disconnect.
func (w *WalletStats) AddUptime(d time.Duration) {
	if d > 0 {
		w.TotalUptimeSeconds += uint64(d.Seconds())
	}
}

// ResetForNewSource clears the performance counters that belong to the
// physical node rather than the wallet. A wallet reconnecting from a new
// source address must not inherit the previous machine's penalties. Returns
// true if a reset was applied.
func (w *WalletStats) ResetForNewSource(sourceAddress string) bool {
	if w.LastKnownSourceAddress == "" || w.LastKnownSourceAddress == sourceAddress {
		return false
	}
	w.EmaLatencyMs = 0
	w.Errors = 0
	return true
}

func maxUint64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

package hub

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rpcmesh/rpcmesh/db"
)

// Recorder owns the durable stats. Wallet rows are written after every
// routed call and swept periodically as a safety net; the global row is
// accumulated in memory and flushed on an interval and at shutdown. A write
// failure on the primary store is retried against the flat-file fallback so
// stats are never silently lost.
type Recorder struct {
	store        db.Store
	fallbackPath string
	registry     *Registry
	logger       *zap.Logger
	cfg          *Config

	mu       sync.Mutex
	global   db.GlobalStats
	fallback db.Store

	// walletMu serializes every load-merge-save on wallet rows. Without it
	// a persist that loaded its row before a concurrent disconnect flush
	// would write the stale row back, losing the uptime increment.
	walletMu sync.Mutex
}

func NewRecorder(store db.Store, fallbackPath string, registry *Registry, cfg *Config, logger *zap.Logger) *Recorder {
	rec := &Recorder{
		store:        store,
		fallbackPath: fallbackPath,
		registry:     registry,
		logger:       logger.With(zap.String("who", "StatsRecorder")),
		cfg:          cfg,
	}
	saved, err := store.GetGlobalStats()
	if err == nil {
		rec.global = *saved
	} else {
		rec.global = db.GlobalStats{TrackingStartedAt: time.Now()}
	}
	return rec
}

// RecordRequest accounts one completed (or failed) routed request.
func (rec *Recorder) RecordRequest(bytesServed int, isErr bool) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.global.TotalRequests++
	if isErr {
		rec.global.TotalErrors++
	} else {
		rec.global.TotalBytesServed += uint64(bytesServed)
	}
}

// GlobalSnapshot returns the current in-memory global counters.
func (rec *Recorder) GlobalSnapshot() db.GlobalStats {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.global
}

// PersistWallet merges the node's live session into the stored wallet row.
func (rec *Recorder) PersistWallet(node *ConnectedNode) {
	rec.walletMu.Lock()
	defer rec.walletMu.Unlock()
	stored := rec.loadOrInit(node.Wallet)
	stored.Merge(node.SessionStats())
	rec.saveWallet(stored)
}

// FlushDisconnect finalizes a session: merge counters, add the session
// uptime exactly once, record disconnect time and source address.
func (rec *Recorder) FlushDisconnect(node *ConnectedNode, now time.Time) {
	rec.walletMu.Lock()
	defer rec.walletMu.Unlock()
	stored := rec.loadOrInit(node.Wallet)
	stored.Merge(node.SessionStats())
	stored.AddUptime(now.Sub(node.ConnectedAt))
	stored.LastDisconnectAt = now
	stored.LastKnownSourceAddress = node.SourceAddress
	rec.saveWallet(stored)
}

// SeedStats loads the wallet row for a connecting node, applying the
// new-source-address reset before the session counters are seeded from it.
func (rec *Recorder) SeedStats(wallet, sourceAddress string, now time.Time) *db.WalletStats {
	rec.walletMu.Lock()
	defer rec.walletMu.Unlock()
	stored := rec.loadOrInit(wallet)
	if stored.FirstConnectAt.IsZero() {
		stored.FirstConnectAt = now
	}
	if stored.ResetForNewSource(sourceAddress) {
		rec.logger.Info("source address changed, resetting performance counters",
			zap.String("wallet", wallet), zap.String("source", sourceAddress))
	}
	stored.LastKnownSourceAddress = sourceAddress
	rec.saveWallet(stored)
	return stored
}

func (rec *Recorder) loadOrInit(wallet string) *db.WalletStats {
	stored, err := rec.store.GetWalletStats(wallet)
	if err == nil {
		return stored
	}
	if err != db.ErrNotFound {
		rec.logger.Warn("failed to load wallet stats", zap.String("wallet", wallet), zap.Error(err))
		if fb := rec.fallbackStore(); fb != nil {
			if stored, err := fb.GetWalletStats(wallet); err == nil {
				return stored
			}
		}
	}
	return &db.WalletStats{Wallet: wallet}
}

func (rec *Recorder) saveWallet(stats *db.WalletStats) {
	if err := rec.store.SaveWalletStats(stats); err != nil {
		rec.logger.Error("failed to persist wallet stats", zap.String("wallet", stats.Wallet), zap.Error(err))
		if fb := rec.fallbackStore(); fb != nil {
			if err := fb.SaveWalletStats(stats); err != nil {
				rec.logger.Error("fallback wallet stats write failed", zap.Error(err))
			}
		}
	}
}

func (rec *Recorder) flushGlobal() {
	snapshot := rec.GlobalSnapshot()
	if err := rec.store.SaveGlobalStats(&snapshot); err != nil {
		rec.logger.Error("failed to persist global stats", zap.Error(err))
		if fb := rec.fallbackStore(); fb != nil {
			if err := fb.SaveGlobalStats(&snapshot); err != nil {
				rec.logger.Error("fallback global stats write failed", zap.Error(err))
			}
		}
	}
}

// fallbackStore lazily opens the flat-file fallback. Opened at most once; if
// the primary already is the file store this returns nil.
func (rec *Recorder) fallbackStore() db.Store {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.fallback != nil {
		return rec.fallback
	}
	if rec.fallbackPath == "" {
		return nil
	}
	if _, isFile := rec.store.(*db.FileStore); isFile {
		return nil
	}
	fb, err := db.NewFileStore(rec.fallbackPath)
	if err != nil {
		rec.logger.Error("failed to open fallback stats store", zap.Error(err))
		return nil
	}
	rec.fallback = fb
	return fb
}

// Run drives the periodic flush timers until ctx is done, then performs the
// final shutdown flush. Neither timer blocks the request hot path.
func (rec *Recorder) Run(ctx context.Context) {
	globalTicker := time.NewTicker(rec.cfg.GlobalFlushEvery)
	walletTicker := time.NewTicker(rec.cfg.WalletFlushEvery)
	defer globalTicker.Stop()
	defer walletTicker.Stop()

	for {
		select {
		case <-globalTicker.C:
			rec.flushGlobal()
		case <-walletTicker.C:
			for _, node := range rec.registry.List() {
				rec.PersistWallet(node)
			}
		case <-ctx.Done():
			rec.FlushAll()
			return
		}
	}
}

// FlushAll finalizes every live session and persists the global row. Called
// on graceful shutdown; sessions still connected get their uptime recorded
// here, the same as on socket close. Dropping the node from the registry
// first makes the flush exactly-once even when FlushAll runs twice or races
// a concurrent disconnect handler.
func (rec *Recorder) FlushAll() {
	now := time.Now()
	for _, node := range rec.registry.List() {
		if rec.registry.Drop(node) {
			rec.FlushDisconnect(node, now)
		}
	}
	rec.flushGlobal()
}

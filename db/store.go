package db

import (
	"errors"

	"go.uber.org/zap"
)

var ErrNotFound = errors.New("not found")

// Store is the durable stats backend. Both implementations (bbolt and the
// flat-file fallback) carry identical semantics; the application never cares
// which one it is talking to.
type Store interface {
	GetWalletStats(wallet string) (*WalletStats, error)
	SaveWalletStats(stats *WalletStats) error
	ListWalletStats() ([]WalletStats, error)
	GetGlobalStats() (*GlobalStats, error)
	SaveGlobalStats(stats *GlobalStats) error
	Close() error
}

type Config struct {
	Path         string `yaml:"path" env:"DB_PATH" env-description:"Path to stats database file" env-default:"data/stats.db"`
	FallbackPath string `yaml:"fallbackPath" env:"DB_FALLBACK_PATH" env-description:"Path to flat-file stats fallback" env-default:"data/stats.json"`
}

// Open returns the primary bbolt store, or the flat-file fallback if the
// primary cannot be opened. Stats must never be silently lost, so a broken
// primary is a downgrade, not a failure.
func Open(cfg *Config, logger *zap.Logger) (Store, error) {
	store, err := NewBoltStore(cfg.Path)
	if err == nil {
		return store, nil
	}
	logger.Warn("primary stats store unavailable, using flat-file fallback",
		zap.String("path", cfg.Path), zap.Error(err))
	return NewFileStore(cfg.FallbackPath)
}

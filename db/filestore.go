package db

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// FileStore is the flat-file fallback backend. The whole dataset is one JSON
// document rewritten atomically on every save; fine for the fallback role
// where durability matters more than throughput.
type FileStore struct {
	mu   sync.Mutex
	path string
	data fileData
}

type fileData struct {
	Wallets map[string]WalletStats `json:"wallets"`
	Global  *GlobalStats           `json:"global,omitempty"`
}

func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path: path,
		data: fileData{Wallets: map[string]WalletStats{}},
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, err
	}
	if s.data.Wallets == nil {
		s.data.Wallets = map[string]WalletStats{}
	}
	return s, nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *FileStore) SaveWalletStats(stats *WalletStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Wallets[walletKey(stats.Wallet)] = *stats
	return s.flushLocked()
}

func (s *FileStore) GetWalletStats(wallet string) (*WalletStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats, ok := s.data.Wallets[walletKey(wallet)]
	if !ok {
		return nil, ErrNotFound
	}
	return &stats, nil
}

func (s *FileStore) ListWalletStats() ([]WalletStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var statsList []WalletStats
	for _, stats := range s.data.Wallets {
		statsList = append(statsList, stats)
	}
	return statsList, nil
}

func (s *FileStore) SaveGlobalStats(stats *GlobalStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *stats
	s.data.Global = &copied
	return s.flushLocked()
}

func (s *FileStore) GetGlobalStats() (*GlobalStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.Global == nil {
		return nil, ErrNotFound
	}
	copied := *s.data.Global
	return &copied, nil
}

// flushLocked writes the dataset to a temp file and renames it into place so
// a crash mid-write cannot truncate previously saved stats.
func (s *FileStore) flushLocked() error {
	raw, err := json.MarshalIndent(&s.data, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

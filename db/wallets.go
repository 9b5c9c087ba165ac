package db

import (
	"encoding/json"
	"strings"

	bolt "go.etcd.io/bbolt"
)

var walletsBucketName = []byte("WalletStats")

// walletKey normalizes the durable row key; operators may register with any
// address casing and must always land on the same row.
func walletKey(wallet string) string {
	return strings.ToLower(wallet)
}

func setupWalletsBucket(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(walletsBucketName)
		return err
	})
}

func (s *BoltStore) SaveWalletStats(stats *WalletStats) error {
	key := []byte(walletKey(stats.Wallet))
	value, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(walletsBucketName)
		return bucket.Put(key, value)
	})
}

func (s *BoltStore) GetWalletStats(wallet string) (*WalletStats, error) {
	var stats WalletStats
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(walletsBucketName)
		value := bucket.Get([]byte(walletKey(wallet)))
		if value == nil {
			return ErrNotFound
		}
		return json.Unmarshal(value, &stats)
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (s *BoltStore) ListWalletStats() ([]WalletStats, error) {
	var statsList []WalletStats
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(walletsBucketName)
		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var stats WalletStats
			err := json.Unmarshal(v, &stats)
			if err != nil {
				return err
			}
			statsList = append(statsList, stats)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return statsList, nil
}

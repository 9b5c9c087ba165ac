package db

import (
	"encoding/json"

	bolt "go.etcd.io/bbolt"
)

var globalBucketName = []byte("Global")
var globalStatsKey = []byte("stats")

func setupGlobalBucket(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(globalBucketName)
		return err
	})
}

func (s *BoltStore) SaveGlobalStats(stats *GlobalStats) error {
	value, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(globalBucketName)
		return bucket.Put(globalStatsKey, value)
	})
}

func (s *BoltStore) GetGlobalStats() (*GlobalStats, error) {
	var stats GlobalStats
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(globalBucketName)
		value := bucket.Get(globalStatsKey)
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

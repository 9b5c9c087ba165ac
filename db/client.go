package db

import (
	bolt "go.etcd.io/bbolt"
)

// BoltStore is the primary stats backend, one bbolt file per hub process.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(dbPath string) (*BoltStore, error) {
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = setupWalletsBucket(db)
	if err != nil {
		return nil, err
	}
	err = setupGlobalBucket(db)
	if err != nil {
		return nil, err
	}
	return &BoltStore{db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

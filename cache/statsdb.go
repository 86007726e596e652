package cache

import (
	"encoding/json"
	"fmt"
	"time"

	imagevault "github.com/wolfeidau/image-vault"
	"go.etcd.io/bbolt"
)

var bucketAccessStats = []byte("access_stats")

// AccessStat is one hash's persisted access statistics.
type AccessStat struct {
	Count        int64     `json:"count"`
	LastAccessed time.Time `json:"last_accessed"`
}

// StatsDB persists per-entry access statistics in bbolt so they survive
// restarts. It is strictly an overlay over the filesystem-derived index:
// the cache works without it, and losing the database loses statistics
// only.
type StatsDB struct {
	db *bbolt.DB
}

// OpenStatsDB opens (or creates) the access-statistics ledger at path.
func OpenStatsDB(path string) (*StatsDB, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening stats db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAccessStats)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating stats bucket: %w", err)
	}
	return &StatsDB{db: db}, nil
}

// Close closes the ledger.
func (s *StatsDB) Close() error {
	return s.db.Close()
}

// Touch increments the access counter for a hash and records the access
// time.
func (s *StatsDB) Touch(h imagevault.Hash, at time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketAccessStats)

		var stat AccessStat
		if val := bucket.Get(h[:]); val != nil {
			if err := json.Unmarshal(val, &stat); err != nil {
				return fmt.Errorf("decoding stat: %w", err)
			}
		}
		stat.Count++
		stat.LastAccessed = at

		data, err := json.Marshal(stat)
		if err != nil {
			return fmt.Errorf("encoding stat: %w", err)
		}
		return bucket.Put(h[:], data)
	})
}

// Get returns the persisted statistics for a hash, reporting whether any
// exist.
func (s *StatsDB) Get(h imagevault.Hash) (AccessStat, bool, error) {
	var stat AccessStat
	found := false

	err := s.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketAccessStats).Get(h[:])
		if val == nil {
			return nil
		}
		found = true
		return json.Unmarshal(val, &stat)
	})
	if err != nil {
		return AccessStat{}, false, fmt.Errorf("reading stat: %w", err)
	}
	return stat, found, nil
}

// Delete removes the statistics for a hash. Removing a missing hash is
// not an error.
func (s *StatsDB) Delete(h imagevault.Hash) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAccessStats).Delete(h[:])
	})
}

// Package store provides the embedded, single-writer persisted store for
// the platform: one bbolt file, one bucket per entity kind. This is the
// idiomatic Go analogue of the spec's "BEGIN IMMEDIATE ... single writer,
// concurrent readers" requirement, adopted from the BoltDB storage layer
// documented in cuemby/warren's pkg/storage: db.Update serializes writes,
// db.View serves concurrent reads, and every value is JSON-encoded.
package store

import (
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names. One bucket per entity kind named in the spec, plus a meta
// bucket that Open creates but no package reads or writes (the event replay
// cursor is the events bucket's own sequence; see NextSequence).
const (
	BucketAgents       = "agents"
	BucketAccounts     = "accounts"
	BucketTransactions = "transactions"
	BucketEscrows      = "escrows"
	BucketTasks        = "tasks"
	BucketBids         = "bids"
	BucketAssets       = "assets"
	BucketDisputes     = "disputes"
	BucketVotes        = "votes"
	BucketFeedback     = "feedback"
	BucketEvents       = "events"
	BucketMeta         = "meta"
)

var allBuckets = []string{
	BucketAgents,
	BucketAccounts,
	BucketTransactions,
	BucketEscrows,
	BucketTasks,
	BucketBids,
	BucketAssets,
	BucketDisputes,
	BucketVotes,
	BucketFeedback,
	BucketEvents,
	BucketMeta,
}

// Store wraps a single bbolt database file.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the database file at path and
// ensures every bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// View runs fn inside a read-only transaction. Concurrent View calls never
// block each other or a concurrent Update.
func (s *Store) View(fn func(tx *bolt.Tx) error) error {
	return s.db.View(fn)
}

// Update runs fn inside a read-write transaction. Callers needing the
// platform's single serialized write lane should go through
// Coordinator.Execute instead of calling Update directly, so writes are
// queued rather than contending on bbolt's own single-writer lock.
func (s *Store) Update(fn func(tx *bolt.Tx) error) error {
	return s.db.Update(fn)
}

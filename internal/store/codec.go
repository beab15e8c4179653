package store

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// PutJSON JSON-encodes v and stores it under key in bucket, overwriting
// any existing value (upsert, matching the teacher corpus's bbolt usage:
// create and update share one code path).
func PutJSON(tx *bolt.Tx, bucket, key string, v interface{}) error {
	b := tx.Bucket([]byte(bucket))
	if b == nil {
		return fmt.Errorf("bucket %q does not exist", bucket)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", bucket, key, err)
	}
	return b.Put([]byte(key), raw)
}

// GetJSON decodes the value stored under key into v. Returns found=false,
// nil error if the key does not exist.
func GetJSON(tx *bolt.Tx, bucket, key string, v interface{}) (found bool, err error) {
	b := tx.Bucket([]byte(bucket))
	if b == nil {
		return false, fmt.Errorf("bucket %q does not exist", bucket)
	}
	raw := b.Get([]byte(key))
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", bucket, key, err)
	}
	return true, nil
}

// DeleteKey removes key from bucket. Idempotent: no error if the key is
// already absent.
func DeleteKey(tx *bolt.Tx, bucket, key string) error {
	b := tx.Bucket([]byte(bucket))
	if b == nil {
		return fmt.Errorf("bucket %q does not exist", bucket)
	}
	return b.Delete([]byte(key))
}

// ForEach streams every key/value pair in bucket through fn in key order.
// fn receives the raw JSON bytes; callers decode the type they expect.
func ForEach(tx *bolt.Tx, bucket string, fn func(key string, raw []byte) error) error {
	b := tx.Bucket([]byte(bucket))
	if b == nil {
		return fmt.Errorf("bucket %q does not exist", bucket)
	}
	return b.ForEach(func(k, v []byte) error {
		return fn(string(k), v)
	})
}

// NextSequence returns a monotonically increasing integer scoped to
// bucket, using bbolt's native auto-increment counter. Used for the event
// log's stable replay cursor.
func NextSequence(tx *bolt.Tx, bucket string) (uint64, error) {
	b := tx.Bucket([]byte(bucket))
	if b == nil {
		return 0, fmt.Errorf("bucket %q does not exist", bucket)
	}
	return b.NextSequence()
}

// CountKeys returns the number of keys currently in bucket, used by the
// ledger's derived-on-demand aggregates (spec explicitly forbids cached
// counters).
func CountKeys(tx *bolt.Tx, bucket string) (int, error) {
	b := tx.Bucket([]byte(bucket))
	if b == nil {
		return 0, fmt.Errorf("bucket %q does not exist", bucket)
	}
	n := 0
	err := b.ForEach(func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}

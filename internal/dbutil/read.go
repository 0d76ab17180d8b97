package dbutil

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

func GetByTableKey(db *bolt.DB, table string, key []byte, pointer interface{}) error {
	if err := db.View(func(tx *bolt.Tx) error {
		return GetByTableKeyTx(tx, table, key, pointer)
	}); err != nil {
		return fmt.Errorf("transaction (View) failed: %w", err)
	}
	return nil
}

func GetByTableKeyTx(tx *bolt.Tx, table string, key []byte, pointer interface{}) error {
	b := tx.Bucket([]byte(table))
	if b == nil {
		return ErrNotFound
	}
	v := b.Get(key)
	if v == nil {
		return ErrNotFound
	}
	if err := cbor.Unmarshal(v, pointer); err != nil {
		return fmt.Errorf("cbor.Unmarshal failed: %w", err)
	}
	return nil
}

// GetSaveable fills pointer from the bucket and key it reports.
func GetSaveable(db *bolt.DB, pointer Saveable) error {
	return GetByTableKey(db, pointer.DBTable(), pointer.DBKey(), pointer)
}

// ForEachPrefix decodes every value whose key starts with prefix, in key
// order. An empty prefix visits the whole bucket.
func ForEachPrefix[T any](db *bolt.DB, table string, prefix []byte, f func(key []byte, v T) error) error {
	if err := db.View(func(tx *bolt.Tx) error {
		return ForEachPrefixTx(tx, table, prefix, f)
	}); err != nil {
		return fmt.Errorf("transaction (View) failed: %w", err)
	}
	return nil
}

func ForEachPrefixTx[T any](tx *bolt.Tx, table string, prefix []byte, f func(key []byte, v T) error) error {
	b := tx.Bucket([]byte(table))
	if b == nil {
		return nil
	}
	c := b.Cursor()
	k, v := c.First()
	if len(prefix) > 0 {
		k, v = c.Seek(prefix)
	}
	for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var val T
		if err := cbor.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("cbor.Unmarshal of key %q failed: %w", k, err)
		}
		if err := f(k, val); err != nil {
			return fmt.Errorf("f failed: %w", err)
		}
	}
	return nil
}

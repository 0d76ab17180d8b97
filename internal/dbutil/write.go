package dbutil

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

func UpsertTableKeyValue(db *bolt.DB, table string, key []byte, val interface{}) error {
	if err := db.Update(func(tx *bolt.Tx) error {
		return UpsertTableKeyValueTx(tx, table, key, val)
	}); err != nil {
		return fmt.Errorf("transaction (Update) failed: %w", err)
	}
	return nil
}

func UpsertTableKeyValueTx(tx *bolt.Tx, table string, key []byte, val interface{}) error {
	b, err := tx.CreateBucketIfNotExists([]byte(table))
	if err != nil {
		return fmt.Errorf("tx.CreateBucketIfNotExists failed: %w", err)
	}
	valEnc, err := cbor.Marshal(val)
	if err != nil {
		return fmt.Errorf("cbor.Marshal failed: %w", err)
	}
	if err := b.Put(key, valEnc); err != nil {
		return fmt.Errorf("cannot save item with key %q to database: %w", key, err)
	}
	return nil
}

func UpsertSaveable(db *bolt.DB, item Saveable) error {
	return UpsertTableKeyValue(db, item.DBTable(), item.DBKey(), item)
}

// InsertSaveable stores item unless its key is already taken.
func InsertSaveable(db *bolt.DB, item Saveable) error {
	if err := db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(item.DBTable()))
		if err != nil {
			return fmt.Errorf("tx.CreateBucketIfNotExists failed: %w", err)
		}
		if v := b.Get(item.DBKey()); v != nil {
			return ErrKeyExists
		}
		return UpsertTableKeyValueTx(tx, item.DBTable(), item.DBKey(), item)
	}); err != nil {
		return fmt.Errorf("transaction (Update) failed: %w", err)
	}
	return nil
}

func DeleteByTableKey(db *bolt.DB, table string, key []byte) error {
	if err := db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(table))
		if b == nil {
			return nil
		}
		if err := b.Delete(key); err != nil {
			return fmt.Errorf("cannot delete item with key %q: %w", key, err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("transaction (Update) failed: %w", err)
	}
	return nil
}

// Package dbutil stores CBOR-encoded values in bbolt buckets.
package dbutil

import (
	"errors"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrKeyExists = errors.New("key already exists")
)

// Saveable is a value that knows its own bucket and key.
type Saveable interface {
	DBTable() string
	DBKey() []byte
}

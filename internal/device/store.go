package device

import (
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"go.pairlink.org/internal/dbutil"
)

// Record is what is remembered about a remote device between runs.
type Record struct {
	ID       string
	Name     string
	Type     string
	Paired   bool
	LastSeen time.Time
}

func (r Record) DBTable() string {
	return "devices"
}

func (r Record) DBKey() []byte {
	return []byte(r.ID)
}

func loadRecord(db *bolt.DB, id string) (Record, bool, error) {
	rec := Record{ID: id}
	err := dbutil.GetSaveable(db, &rec)
	if errors.Is(err, dbutil.ErrNotFound) {
		return Record{ID: id}, false, nil
	}
	if err != nil {
		return Record{ID: id}, false, fmt.Errorf("failed to load device %s: %w", id, err)
	}
	return rec, true, nil
}

// Records returns every remembered device in id order.
func Records(db *bolt.DB) ([]Record, error) {
	var recs []Record
	err := dbutil.ForEachPrefix(db, Record{}.DBTable(), nil, func(key []byte, rec Record) error {
		recs = append(recs, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read devices: %w", err)
	}
	return recs, nil
}

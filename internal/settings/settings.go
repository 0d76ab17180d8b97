// Package settings provides scoped boolean configuration with schema
// defaults and change watches, persisted in bbolt.
package settings

import (
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"

	"go.pairlink.org/internal/dbutil"
)

const table = "settings"

// Schema maps each key of a scope to its default value.
type Schema map[string]bool

type setting struct {
	Scope string
	Key   string
	Value bool
}

func (s setting) DBTable() string {
	return table
}

func (s setting) DBKey() []byte {
	return []byte(s.Scope + "/" + s.Key)
}

// Store owns the watches of every scope so that two Settings values for the
// same scope observe each other's writes.
type Store struct {
	db       *bolt.DB
	mu       sync.Mutex
	nextID   int
	watchers map[string]map[int]func(bool)
}

func NewStore(db *bolt.DB) *Store {
	return &Store{
		db:       db,
		watchers: make(map[string]map[int]func(bool)),
	}
}

// Scope returns the settings of one scope, for example
// "<device-id>/connectivity_report" or "plugin/background".
func (s *Store) Scope(scope string, schema Schema) *Settings {
	return &Settings{store: s, scope: scope, schema: schema}
}

type Settings struct {
	store  *Store
	scope  string
	schema Schema
}

func (s *Settings) Scope() string {
	return s.scope
}

func (s *Settings) def(key string) bool {
	def, ok := s.schema[key]
	if !ok {
		panic(fmt.Sprintf("settings: key %q is not in the schema of %q", key, s.scope))
	}
	return def
}

// Bool returns the stored value, or the schema default when nothing is
// stored or the database cannot be read.
func (s *Settings) Bool(key string) bool {
	def := s.def(key)
	v, err := s.lookup(key)
	if err != nil {
		return def
	}
	return v
}

func (s *Settings) lookup(key string) (bool, error) {
	rec := setting{Scope: s.scope, Key: key}
	if err := dbutil.GetSaveable(s.store.db, &rec); err != nil {
		return false, err
	}
	return rec.Value, nil
}

// SetBool stores a value and, if it changed, calls the watches of the key
// on the calling goroutine.
func (s *Settings) SetBool(key string, value bool) error {
	old := s.Bool(key)
	if err := dbutil.UpsertSaveable(s.store.db, setting{Scope: s.scope, Key: key, Value: value}); err != nil {
		return fmt.Errorf("failed to save setting %s/%s: %w", s.scope, key, err)
	}
	if old != value {
		s.store.notify(s.scope+"/"+key, value)
	}
	return nil
}

// Reset removes the stored value so the schema default applies again.
func (s *Settings) Reset(key string) error {
	old := s.Bool(key)
	if err := dbutil.DeleteByTableKey(s.store.db, table, setting{Scope: s.scope, Key: key}.DBKey()); err != nil {
		return fmt.Errorf("failed to reset setting %s/%s: %w", s.scope, key, err)
	}
	if def := s.def(key); old != def {
		s.store.notify(s.scope+"/"+key, def)
	}
	return nil
}

// IsSet reports whether a value is stored for key.
func (s *Settings) IsSet(key string) bool {
	s.def(key)
	_, err := s.lookup(key)
	return err == nil
}

// Watch calls f with the new value whenever key changes. The returned
// function removes the watch and may be called more than once.
func (s *Settings) Watch(key string, f func(bool)) (unwatch func()) {
	s.def(key)
	return s.store.watch(s.scope+"/"+key, f)
}

func (s *Store) watch(path string, f func(bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	if s.watchers[path] == nil {
		s.watchers[path] = make(map[int]func(bool))
	}
	s.watchers[path][id] = f
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.watchers[path], id)
			if len(s.watchers[path]) == 0 {
				delete(s.watchers, path)
			}
		})
	}
}

func (s *Store) notify(path string, value bool) {
	s.mu.Lock()
	fs := make([]func(bool), 0, len(s.watchers[path]))
	for _, f := range s.watchers[path] {
		fs = append(fs, f)
	}
	s.mu.Unlock()
	for _, f := range fs {
		f(value)
	}
}

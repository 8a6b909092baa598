// Package store provides snapshot storage backends for HabitLoop.
//
// Persistence is two whole documents: the user table and a small runtime
// metadata record. Every save overwrites the full document; there are no
// partial writes, and last-complete-write-wins is acceptable because all
// mutation is serialized by the flow layer.
package store

import (
	"sync"

	"github.com/jroos/habitloop/internal/models"
)

// Store is the durable snapshot store consumed by the flow layer.
type Store interface {
	// LoadUsers returns the persisted user table, or an empty map if no
	// snapshot has been written yet.
	LoadUsers() (map[string]*models.UserRecord, error)

	// SaveUsers overwrites the persisted user table with the given snapshot.
	SaveUsers(users map[string]*models.UserRecord) error

	// LoadRuntime returns the persisted runtime document, or nil if absent.
	LoadRuntime() (*models.RuntimeState, error)

	// SaveRuntime overwrites the persisted runtime document.
	SaveRuntime(rt *models.RuntimeState) error

	// Close releases any underlying resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets a SQLite file path as the store DSN.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets a PostgreSQL connection string as the store DSN.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// InMemoryStore keeps snapshots in process memory. It backs tests and
// runs without any database configured.
type InMemoryStore struct {
	mu      sync.Mutex
	users   []byte
	runtime []byte
}

// NewInMemoryStore creates an empty in-memory snapshot store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) LoadUsers() (map[string]*models.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return decodeUsers(s.users)
}

func (s *InMemoryStore) SaveUsers(users map[string]*models.UserRecord) error {
	data, err := encodeUsers(users)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = data
	return nil
}

func (s *InMemoryStore) LoadRuntime() (*models.RuntimeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return decodeRuntime(s.runtime)
}

func (s *InMemoryStore) SaveRuntime(rt *models.RuntimeState) error {
	data, err := encodeRuntime(rt)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runtime = data
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

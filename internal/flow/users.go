// Package flow implements the conversational state machine, the daily
// check-in accounting and the user/runtime state managers for HabitLoop.
package flow

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jroos/habitloop/internal/models"
	"github.com/jroos/habitloop/internal/store"
)

// Seed carries channel-linkage fields known at contact time. GetOrCreate
// merges previously-unset fields from the seed without overwriting ones
// already stored.
type Seed struct {
	TelegramChatID int64
	WhatsAppNumber string
}

// UserManager is the single-writer gate over the user table. All
// mutation goes through Mutate, which holds one process-wide lock for
// the duration of the change plus the durable snapshot write. Outbound
// I/O must never happen inside a Mutate callback.
type UserManager struct {
	mu    sync.Mutex
	store store.Store
	users map[string]*models.UserRecord
	now   func() time.Time
}

// NewUserManager loads the persisted user table and wraps it.
func NewUserManager(st store.Store) (*UserManager, error) {
	users, err := st.LoadUsers()
	if err != nil {
		return nil, fmt.Errorf("failed to load user table: %w", err)
	}
	slog.Info("UserManager loaded user table", "users", len(users))
	return &UserManager{store: st, users: users, now: time.Now}, nil
}

// SetClock overrides the wall clock, for tests.
func (m *UserManager) SetClock(now func() time.Time) {
	m.now = now
}

// Get returns a deep copy of a user record, or false if unknown.
func (m *UserManager) Get(id string) (*models.UserRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, false
	}
	return u.Clone(), true
}

// IDs returns all known identity keys in stable order.
func (m *UserManager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.users))
	for id := range m.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Mutate runs fn against the user record for id, creating the record
// with defaults if absent and merging unset channel-linkage fields from
// seed. The full snapshot is written durably before Mutate returns, so
// callers can safely notify the user afterwards (write-then-notify).
func (m *UserManager) Mutate(id string, seed Seed, fn func(u *models.UserRecord) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		u = models.NewUserRecord(id, m.now())
		m.users[id] = u
		slog.Info("UserManager created user record", "id", id)
	}
	mergeSeed(u, seed)

	if err := fn(u); err != nil {
		return err
	}
	u.UpdatedAt = m.now()

	if err := m.store.SaveUsers(m.users); err != nil {
		// A transient save failure must not crash processing; the most
		// recent mutation may be lost on restart.
		slog.Error("UserManager snapshot save failed", "error", err, "id", id)
		return fmt.Errorf("failed to persist user snapshot: %w", err)
	}
	return nil
}

func mergeSeed(u *models.UserRecord, seed Seed) {
	if u.TelegramChatID == 0 && seed.TelegramChatID != 0 {
		u.TelegramChatID = seed.TelegramChatID
	}
	if u.WhatsAppNumber == "" && seed.WhatsAppNumber != "" {
		u.WhatsAppNumber = seed.WhatsAppNumber
	}
}

package flow

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jroos/habitloop/internal/models"
	"github.com/jroos/habitloop/internal/store"
)

// RuntimeManager owns the small runtime metadata document: per-job
// heartbeats and aggregate send counters. Persistence failures here are
// logged and swallowed; runtime metadata is observability, never on the
// correctness path.
type RuntimeManager struct {
	mu    sync.Mutex
	store store.Store
	state *models.RuntimeState
}

// NewRuntimeManager loads the persisted runtime document or starts fresh.
func NewRuntimeManager(st store.Store) (*RuntimeManager, error) {
	state, err := st.LoadRuntime()
	if err != nil {
		return nil, fmt.Errorf("failed to load runtime state: %w", err)
	}
	if state == nil {
		state = models.NewRuntimeState()
	}
	return &RuntimeManager{store: st, state: state}, nil
}

// RecordJob stores the last run and status for a named job.
func (m *RuntimeManager) RecordJob(name, status string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Jobs[name] = models.JobStatus{LastRun: at, LastStatus: status}
	m.persistLocked()
}

// JobStatus returns the last recorded status for a named job.
func (m *RuntimeManager) JobStatus(name string) (models.JobStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.state.Jobs[name]
	return st, ok
}

// CountSend records the outcome of one outbound send attempt.
func (m *RuntimeManager) CountSend(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.state.SendError++
	} else {
		m.state.SendSuccess++
	}
	m.persistLocked()
}

// Snapshot returns a copy of the runtime document for reporting.
func (m *RuntimeManager) Snapshot() models.RuntimeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.state
	cp.Jobs = make(map[string]models.JobStatus, len(m.state.Jobs))
	for name, st := range m.state.Jobs {
		cp.Jobs[name] = st
	}
	return cp
}

func (m *RuntimeManager) persistLocked() {
	if err := m.store.SaveRuntime(m.state); err != nil {
		slog.Error("RuntimeManager snapshot save failed", "error", err)
	}
}

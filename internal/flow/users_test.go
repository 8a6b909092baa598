package flow

import (
	"errors"
	"testing"
	"time"

	"github.com/jroos/habitloop/internal/models"
	"github.com/jroos/habitloop/internal/store"
)

// failingStore wraps the in-memory store and fails user saves on demand.
type failingStore struct {
	*store.InMemoryStore
	failSaves bool
	saveCount int
}

func (s *failingStore) SaveUsers(users map[string]*models.UserRecord) error {
	if s.failSaves {
		return errors.New("disk full")
	}
	s.saveCount++
	return s.InMemoryStore.SaveUsers(users)
}

func newTestUserManager(t *testing.T) (*UserManager, *failingStore) {
	t.Helper()
	st := &failingStore{InMemoryStore: store.NewInMemoryStore()}
	m, err := NewUserManager(st)
	if err != nil {
		t.Fatalf("NewUserManager failed: %v", err)
	}
	return m, st
}

func TestMutateCreatesWithDefaults(t *testing.T) {
	m, _ := newTestUserManager(t)

	err := m.Mutate("telegram:7", Seed{TelegramChatID: 7}, func(u *models.UserRecord) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}

	u, ok := m.Get("telegram:7")
	if !ok {
		t.Fatal("user should exist after Mutate")
	}
	if u.AMTime != models.DefaultAMTime || u.PMTime != models.DefaultPMTime {
		t.Errorf("new user times = %s/%s, want defaults %s/%s", u.AMTime, u.PMTime, models.DefaultAMTime, models.DefaultPMTime)
	}
	if u.TelegramChatID != 7 {
		t.Errorf("seed chat ID not applied, got %d", u.TelegramChatID)
	}
	if u.Onboarded {
		t.Error("new user must not be onboarded")
	}
}

func TestSeedMergeNeverOverwrites(t *testing.T) {
	m, _ := newTestUserManager(t)

	if err := m.Mutate("telegram:7", Seed{TelegramChatID: 7}, func(u *models.UserRecord) error { return nil }); err != nil {
		t.Fatal(err)
	}
	// A later contact with different linkage fills only unset fields.
	if err := m.Mutate("telegram:7", Seed{TelegramChatID: 999, WhatsAppNumber: "4915112345678"}, func(u *models.UserRecord) error { return nil }); err != nil {
		t.Fatal(err)
	}

	u, _ := m.Get("telegram:7")
	if u.TelegramChatID != 7 {
		t.Errorf("existing chat ID overwritten: %d", u.TelegramChatID)
	}
	if u.WhatsAppNumber != "4915112345678" {
		t.Errorf("unset WhatsApp number not merged: %q", u.WhatsAppNumber)
	}
}

func TestMutatePersistsBeforeReturn(t *testing.T) {
	m, st := newTestUserManager(t)

	if err := m.Mutate("telegram:7", Seed{}, func(u *models.UserRecord) error {
		u.Name = "Dana"
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if st.saveCount != 1 {
		t.Fatalf("expected 1 snapshot save, got %d", st.saveCount)
	}

	// A fresh manager over the same store must see the change.
	reloaded, err := NewUserManager(st)
	if err != nil {
		t.Fatal(err)
	}
	u, ok := reloaded.Get("telegram:7")
	if !ok || u.Name != "Dana" {
		t.Errorf("persisted user not reloaded, ok=%v user=%+v", ok, u)
	}
}

func TestMutateSaveFailureSurfaces(t *testing.T) {
	m, st := newTestUserManager(t)
	st.failSaves = true

	err := m.Mutate("telegram:7", Seed{}, func(u *models.UserRecord) error {
		u.Name = "Dana"
		return nil
	})
	if err == nil {
		t.Fatal("expected error when snapshot save fails")
	}
	// In-memory mutation survives; only durability is degraded.
	if u, ok := m.Get("telegram:7"); !ok || u.Name != "Dana" {
		t.Error("in-memory state should retain the mutation")
	}
}

func TestGetReturnsIsolatedCopy(t *testing.T) {
	m, _ := newTestUserManager(t)
	if err := m.Mutate("telegram:7", Seed{}, func(u *models.UserRecord) error {
		u.EnsureDay("2026-08-10")
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	u, _ := m.Get("telegram:7")
	u.Name = "tampered"
	u.Days["2026-08-10"].AMPromptSent = true

	again, _ := m.Get("telegram:7")
	if again.Name == "tampered" {
		t.Error("Get must return a copy, not the live record")
	}
	if again.Days["2026-08-10"].AMPromptSent {
		t.Error("nested day logs must be deep-copied")
	}
}

func TestIDsStableOrder(t *testing.T) {
	m, _ := newTestUserManager(t)
	for _, id := range []string{"whatsapp:491511", "telegram:2", "telegram:10"} {
		if err := m.Mutate(id, Seed{}, func(u *models.UserRecord) error { return nil }); err != nil {
			t.Fatal(err)
		}
	}
	ids := m.IDs()
	want := []string{"telegram:10", "telegram:2", "whatsapp:491511"}
	if len(ids) != len(want) {
		t.Fatalf("IDs = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("IDs = %v, want %v", ids, want)
		}
	}
}

func TestRuntimeManagerJobAndCounters(t *testing.T) {
	st := store.NewInMemoryStore()
	m, err := NewRuntimeManager(st)
	if err != nil {
		t.Fatal(err)
	}

	at := time.Date(2026, 8, 20, 7, 0, 0, 0, time.UTC)
	m.RecordJob("tick", "ok", at)

	got, ok := m.JobStatus("tick")
	if !ok || got.LastStatus != "ok" || !got.LastRun.Equal(at) {
		t.Errorf("JobStatus = %+v ok=%v", got, ok)
	}

	m.CountSend(nil)
	m.CountSend(errors.New("boom"))
	snap := m.Snapshot()
	if snap.SendSuccess != 1 || snap.SendError != 1 {
		t.Errorf("counters = %d/%d, want 1/1", snap.SendSuccess, snap.SendError)
	}

	// Snapshot is a copy.
	snap.Jobs["tick"] = models.JobStatus{LastStatus: "tampered"}
	if fresh := m.Snapshot(); fresh.Jobs["tick"].LastStatus != "ok" {
		t.Error("Snapshot must not expose internal maps")
	}

	// Runtime state is durable across managers.
	reloaded, err := NewRuntimeManager(st)
	if err != nil {
		t.Fatal(err)
	}
	if s := reloaded.Snapshot(); s.SendSuccess != 1 {
		t.Errorf("reloaded SendSuccess = %d, want 1", s.SendSuccess)
	}
}

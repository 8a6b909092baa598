package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jroos/habitloop/internal/flow"
	"github.com/jroos/habitloop/internal/models"
	"github.com/jroos/habitloop/internal/store"
)

// mockSender records outbound sends for one channel.
type mockSender struct {
	channel models.Channel
	sent    []mockSend
	err     error
}

type mockSend struct {
	to   string
	body string
}

func (m *mockSender) Channel() models.Channel { return m.channel }

func (m *mockSender) SendMessage(ctx context.Context, to string, body string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, mockSend{to: to, body: body})
	return nil
}

func newTestDispatcher(t *testing.T, senders ...Sender) (*Dispatcher, *flow.UserManager, *flow.RuntimeManager) {
	t.Helper()
	st := store.NewInMemoryStore()
	users, err := flow.NewUserManager(st)
	if err != nil {
		t.Fatal(err)
	}
	runtime, err := flow.NewRuntimeManager(st)
	if err != nil {
		t.Fatal(err)
	}
	return New(users, runtime, senders...), users, runtime
}

func seedUser(t *testing.T, users *flow.UserManager, id string, onboarded bool) {
	t.Helper()
	err := users.Mutate(id, flow.Seed{TelegramChatID: 42}, func(u *models.UserRecord) error {
		u.Name = "Dana"
		u.AMTime = "07:00"
		u.PMTime = "21:00"
		u.Onboarded = onboarded
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestTickFiresDueSlotExactlyOnce(t *testing.T) {
	tg := &mockSender{channel: models.ChannelTelegram}
	d, users, _ := newTestDispatcher(t, tg)
	seedUser(t, users, "telegram:42", true)

	at := time.Date(2026, 8, 20, 7, 0, 0, 0, time.UTC)
	// The scheduler can re-run a tick inside the same minute; the prompt
	// still goes out once.
	for i := 0; i < 120; i++ {
		d.Tick(context.Background(), at)
	}

	if len(tg.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(tg.sent))
	}
	if tg.sent[0].to != "42" {
		t.Errorf("sent to %q, want 42", tg.sent[0].to)
	}

	u, _ := users.Get("telegram:42")
	if !u.Day("2026-08-20").AMPromptSent {
		t.Error("AM prompt flag not set")
	}
	if u.PendingIntent != models.IntentAwaitingAM {
		t.Errorf("pending intent = %q, want awaiting AM", u.PendingIntent)
	}
}

func TestTickSkipsOffMinuteAndUnonboarded(t *testing.T) {
	tg := &mockSender{channel: models.ChannelTelegram}
	d, users, _ := newTestDispatcher(t, tg)
	seedUser(t, users, "telegram:42", true)
	seedUser(t, users, "telegram:43", false)

	// Wrong minute for everyone.
	d.Tick(context.Background(), time.Date(2026, 8, 20, 7, 1, 0, 0, time.UTC))
	if len(tg.sent) != 0 {
		t.Fatalf("off-minute tick sent %d messages", len(tg.sent))
	}

	// Right minute: only the onboarded user fires.
	d.Tick(context.Background(), time.Date(2026, 8, 20, 7, 0, 0, 0, time.UTC))
	if len(tg.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(tg.sent))
	}
}

func TestLastScheduledPromptWins(t *testing.T) {
	tg := &mockSender{channel: models.ChannelTelegram}
	d, users, _ := newTestDispatcher(t, tg)
	seedUser(t, users, "telegram:42", true)

	d.Tick(context.Background(), time.Date(2026, 8, 20, 7, 0, 0, 0, time.UTC))
	d.Tick(context.Background(), time.Date(2026, 8, 20, 21, 0, 0, 0, time.UTC))

	u, _ := users.Get("telegram:42")
	if u.PendingIntent != models.IntentAwaitingPM {
		t.Errorf("pending intent = %q, want awaiting PM after the PM prompt", u.PendingIntent)
	}
	if len(tg.sent) != 2 {
		t.Errorf("sent %d messages, want 2", len(tg.sent))
	}
}

func TestForceSlotBypassesClockButNotFlag(t *testing.T) {
	tg := &mockSender{channel: models.ChannelTelegram}
	d, users, _ := newTestDispatcher(t, tg)
	seedUser(t, users, "telegram:42", true)
	d.SetClock(func() time.Time {
		return time.Date(2026, 8, 20, 12, 34, 0, 0, time.UTC)
	})

	fired, err := d.ForceSlot(context.Background(), "telegram:42", models.SlotAM)
	if err != nil || !fired {
		t.Fatalf("first force: fired=%v err=%v", fired, err)
	}
	fired, err = d.ForceSlot(context.Background(), "telegram:42", models.SlotAM)
	if err != nil {
		t.Fatal(err)
	}
	if fired {
		t.Error("second force of the same slot must not fire")
	}
	if len(tg.sent) != 1 {
		t.Errorf("sent %d messages, want 1", len(tg.sent))
	}
}

func TestDeliveryFansOutIndependently(t *testing.T) {
	tg := &mockSender{channel: models.ChannelTelegram, err: errors.New("telegram down")}
	wa := &mockSender{channel: models.ChannelWhatsApp}
	d, users, runtime := newTestDispatcher(t, tg, wa)

	err := users.Mutate("telegram:42", flow.Seed{TelegramChatID: 42, WhatsAppNumber: "4915112345678"}, func(u *models.UserRecord) error {
		u.Name = "Dana"
		u.AMTime = "07:00"
		u.PMTime = "21:00"
		u.Onboarded = true
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	d.Tick(context.Background(), time.Date(2026, 8, 20, 7, 0, 0, 0, time.UTC))

	if len(wa.sent) != 1 {
		t.Fatalf("WhatsApp should still receive when Telegram fails, sent=%d", len(wa.sent))
	}
	snap := runtime.Snapshot()
	if snap.SendSuccess != 1 || snap.SendError != 1 {
		t.Errorf("send counters = %d/%d, want 1/1", snap.SendSuccess, snap.SendError)
	}
}

func TestRunWeeklyStoresAndDelivers(t *testing.T) {
	tg := &mockSender{channel: models.ChannelTelegram}
	d, users, runtime := newTestDispatcher(t, tg)
	seedUser(t, users, "telegram:42", true)
	seedUser(t, users, "telegram:43", false)

	// One full day inside the window.
	if err := users.Mutate("telegram:42", flow.Seed{}, func(u *models.UserRecord) error {
		flow.RecordReply(u, "2026-08-19", models.SlotAM, "plan", time.Now())
		flow.RecordReply(u, "2026-08-19", models.SlotPM, "done", time.Now())
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	now := time.Date(2026, 8, 23, 18, 0, 0, 0, time.UTC)
	d.RunWeekly(context.Background(), now)

	if len(tg.sent) != 1 {
		t.Fatalf("weekly sent %d messages, want 1 (unonboarded user skipped)", len(tg.sent))
	}

	u, _ := users.Get("telegram:42")
	snap, ok := u.Weeks[models.WeekKey(now)]
	if !ok {
		t.Fatal("week snapshot not stored")
	}
	if snap.TotalDays != 1 || snap.FullDays != 1 || snap.RatePercent != 100 {
		t.Errorf("snapshot = %+v", snap)
	}

	if st, ok := runtime.JobStatus(JobWeekly); !ok || st.LastStatus != "ok" {
		t.Errorf("weekly job status = %+v ok=%v", st, ok)
	}
}

// countingStore counts user-snapshot writes.
type countingStore struct {
	*store.InMemoryStore
	userSaves int
}

func (s *countingStore) SaveUsers(users map[string]*models.UserRecord) error {
	s.userSaves++
	return s.InMemoryStore.SaveUsers(users)
}

func TestIdleTickDoesNotRewriteSnapshot(t *testing.T) {
	st := &countingStore{InMemoryStore: store.NewInMemoryStore()}
	users, err := flow.NewUserManager(st)
	if err != nil {
		t.Fatal(err)
	}
	runtime, err := flow.NewRuntimeManager(st)
	if err != nil {
		t.Fatal(err)
	}
	tg := &mockSender{channel: models.ChannelTelegram}
	d := New(users, runtime, tg)
	seedUser(t, users, "telegram:42", true)
	base := st.userSaves

	// Off-minute ticks must not touch the user snapshot at all.
	for i := 0; i < 120; i++ {
		d.Tick(context.Background(), time.Date(2026, 8, 20, 7, 1, 0, 0, time.UTC))
	}
	if st.userSaves != base {
		t.Fatalf("idle ticks wrote %d snapshots", st.userSaves-base)
	}

	// Repeated due-minute ticks write once, for the firing itself.
	for i := 0; i < 120; i++ {
		d.Tick(context.Background(), time.Date(2026, 8, 20, 7, 0, 0, 0, time.UTC))
	}
	if st.userSaves != base+1 {
		t.Errorf("due-minute ticks wrote %d snapshots, want 1", st.userSaves-base)
	}
	if len(tg.sent) != 1 {
		t.Errorf("sent %d messages, want 1", len(tg.sent))
	}
}

func TestWeeklySnapshotImmutableWithinWeek(t *testing.T) {
	tg := &mockSender{channel: models.ChannelTelegram}
	d, users, _ := newTestDispatcher(t, tg)
	seedUser(t, users, "telegram:42", true)

	if err := users.Mutate("telegram:42", flow.Seed{}, func(u *models.UserRecord) error {
		flow.RecordReply(u, "2026-08-19", models.SlotAM, "plan", time.Now())
		flow.RecordReply(u, "2026-08-19", models.SlotPM, "done", time.Now())
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	// Saturday and Sunday of the same ISO week.
	first := time.Date(2026, 8, 22, 18, 0, 0, 0, time.UTC)
	second := time.Date(2026, 8, 23, 18, 0, 0, 0, time.UTC)
	if models.WeekKey(first) != models.WeekKey(second) {
		t.Fatal("test dates must share an ISO week")
	}

	d.RunWeekly(context.Background(), first)

	// New data after the scheduled run; a forced re-run in the same
	// week must not rewrite the stored snapshot.
	if err := users.Mutate("telegram:42", flow.Seed{}, func(u *models.UserRecord) error {
		flow.RecordReply(u, "2026-08-20", models.SlotAM, "plan", time.Now())
		flow.RecordReply(u, "2026-08-20", models.SlotPM, "done", time.Now())
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	d.SetClock(func() time.Time { return second })
	if err := d.ForceWeekly(context.Background(), "telegram:42"); err != nil {
		t.Fatal(err)
	}

	u, _ := users.Get("telegram:42")
	snap := u.Weeks[models.WeekKey(first)]
	if snap == nil {
		t.Fatal("week snapshot missing")
	}
	if snap.TotalDays != 1 || snap.ToDate != "2026-08-22" {
		t.Errorf("stored snapshot rewritten: %+v", snap)
	}
	if len(tg.sent) != 2 {
		t.Errorf("sent %d weekly messages, want 2", len(tg.sent))
	}
}

func TestCheckHeartbeat(t *testing.T) {
	d, _, runtime := newTestDispatcher(t)
	now := time.Date(2026, 8, 20, 7, 10, 0, 0, time.UTC)

	// No tick recorded yet: nothing to judge.
	if !d.CheckHeartbeat(now) {
		t.Error("heartbeat check before first tick should pass")
	}

	runtime.RecordJob(JobTick, "ok", now.Add(-2*time.Minute))
	if !d.CheckHeartbeat(now) {
		t.Error("fresh heartbeat should pass")
	}

	runtime.RecordJob(JobTick, "ok", now.Add(-HeartbeatMaxAge-time.Minute))
	if d.CheckHeartbeat(now) {
		t.Error("stale heartbeat should fail")
	}
	if st, ok := runtime.JobStatus(JobWatchdog); !ok || st.LastStatus != "missed-heartbeat" {
		t.Errorf("watchdog status = %+v ok=%v", st, ok)
	}
}

func TestTickRecordsHeartbeat(t *testing.T) {
	d, _, runtime := newTestDispatcher(t)
	now := time.Date(2026, 8, 20, 7, 0, 0, 0, time.UTC)
	d.Tick(context.Background(), now)

	st, ok := runtime.JobStatus(JobTick)
	if !ok || st.LastStatus != "ok" || !st.LastRun.Equal(now) {
		t.Errorf("tick heartbeat = %+v ok=%v", st, ok)
	}
}

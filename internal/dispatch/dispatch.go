// Package dispatch implements the time-driven side of HabitLoop: the
// minute-granularity prompt dispatcher, the weekly report job and the
// scheduler liveness watchdog.
//
// The dispatcher never owns timing. A cron job calls Tick with the
// current wall clock; tests call it with whatever clock they like.
package dispatch

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/jroos/habitloop/internal/flow"
	"github.com/jroos/habitloop/internal/models"
)

// Job names recorded in the runtime document.
const (
	JobTick     = "tick"
	JobWeekly   = "weekly_report"
	JobWatchdog = "watchdog"
)

// TickPeriod is the scheduling granularity of the prompt dispatcher.
const TickPeriod = time.Minute

// HeartbeatMaxAge is how stale the tick heartbeat may be before the
// watchdog reports a missed heartbeat.
const HeartbeatMaxAge = 6 * TickPeriod

// Sender is the outbound half of a channel adapter.
type Sender interface {
	Channel() models.Channel
	SendMessage(ctx context.Context, to string, body string) error
}

// target is one (channel, address) delivery destination for a user.
type target struct {
	channel models.Channel
	address string
}

// Dispatcher scans all users on every tick and fires due prompts
// exactly once per slot per day. Delivery fans out to every channel
// linked to the user with independent outcomes.
type Dispatcher struct {
	users   *flow.UserManager
	runtime *flow.RuntimeManager
	senders map[models.Channel]Sender
	now     func() time.Time
}

// New creates a dispatcher over the given senders.
func New(users *flow.UserManager, runtime *flow.RuntimeManager, senders ...Sender) *Dispatcher {
	byChannel := make(map[models.Channel]Sender, len(senders))
	for _, s := range senders {
		byChannel[s.Channel()] = s
	}
	return &Dispatcher{users: users, runtime: runtime, senders: byChannel, now: time.Now}
}

// SetClock overrides the wall clock used by the manual trigger paths,
// for tests. Tick and RunWeekly always receive their clock explicitly.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// Tick evaluates every user against the wall clock and fires any due
// slot prompts. It records a heartbeat when done.
//
// Dueness is pre-checked on a read copy so an idle tick never takes the
// write path: without the pre-check every tick would rewrite the users
// snapshot for every user. fire re-checks everything under the lock.
func (d *Dispatcher) Tick(ctx context.Context, now time.Time) {
	date := models.DateKey(now)
	clock := models.ClockKey(now)

	for _, id := range d.users.IDs() {
		u, ok := d.users.Get(id)
		if !ok || !u.Onboarded {
			continue
		}
		for _, slot := range []models.Slot{models.SlotAM, models.SlotPM} {
			if u.SlotTime(slot) != clock {
				continue
			}
			if promptAlreadySent(u.Day(date), slot) {
				continue
			}
			s := slot
			fired, err := d.fire(ctx, id, s, date, func(u *models.UserRecord) bool {
				return u.SlotTime(s) == clock
			})
			if err != nil {
				slog.Error("Dispatcher slot firing failed", "error", err, "id", id, "slot", s)
				continue
			}
			if fired {
				slog.Info("Dispatcher fired slot prompt", "id", id, "slot", s, "date", date)
			}
		}
	}

	d.runtime.RecordJob(JobTick, "ok", now)
}

func promptAlreadySent(dl *models.DayLog, slot models.Slot) bool {
	if dl == nil {
		return false
	}
	if slot == models.SlotAM {
		return dl.AMPromptSent
	}
	return dl.PMPromptSent
}

// ForceSlot fires a slot prompt for one user immediately, bypassing the
// time-equality check. The onboarded gate and the at-most-once flag
// still apply. Implements flow.DebugTriggers.
func (d *Dispatcher) ForceSlot(ctx context.Context, id string, slot models.Slot) (bool, error) {
	return d.fire(ctx, id, slot, models.DateKey(d.now()), nil)
}

// fire performs the check-flag/decide/set-flag sequence atomically
// under the user lock, persists, and only then delivers. due == nil
// means the manual trigger path.
func (d *Dispatcher) fire(ctx context.Context, id string, slot models.Slot, date string, due func(*models.UserRecord) bool) (bool, error) {
	var body string
	var targets []target
	fired := false

	err := d.users.Mutate(id, flow.Seed{}, func(u *models.UserRecord) error {
		if !u.Onboarded {
			return nil
		}
		if due != nil && !due(u) {
			return nil
		}
		if !flow.RecordPrompt(u, date, slot) {
			return nil
		}
		// A newly fired prompt unconditionally takes over the pending
		// intent: last-scheduled-wins.
		if slot == models.SlotAM {
			u.PendingIntent = models.IntentAwaitingAM
		} else {
			u.PendingIntent = models.IntentAwaitingPM
		}
		fired = true
		body = flow.PromptText(u, slot)
		targets = linkedTargets(u)
		return nil
	})
	if err != nil {
		return false, err
	}
	if fired {
		d.deliver(ctx, id, body, targets)
	}
	return fired, nil
}

// RunWeekly computes, stores and delivers the weekly report for every
// onboarded user. A failure for one user never blocks the rest.
func (d *Dispatcher) RunWeekly(ctx context.Context, now time.Time) {
	for _, id := range d.users.IDs() {
		if err := d.weeklyFor(ctx, id, now); err != nil {
			slog.Error("Dispatcher weekly report failed for user", "error", err, "id", id)
		}
	}
	d.runtime.RecordJob(JobWeekly, "ok", now)
}

// ForceWeekly delivers the weekly report for one user immediately.
// Implements flow.DebugTriggers.
func (d *Dispatcher) ForceWeekly(ctx context.Context, id string) error {
	return d.weeklyFor(ctx, id, d.now())
}

func (d *Dispatcher) weeklyFor(ctx context.Context, id string, now time.Time) error {
	var body string
	var targets []target
	generated := false

	err := d.users.Mutate(id, flow.Seed{}, func(u *models.UserRecord) error {
		if !u.Onboarded {
			return nil
		}
		if u.Weeks == nil {
			u.Weeks = make(map[string]*models.WeekSnapshot)
		}
		// A stored snapshot is immutable: a forced re-run in the same
		// week re-delivers it instead of overwriting it.
		key := models.WeekKey(now)
		snap := flow.ComputeWeekSnapshot(u, now)
		if existing, ok := u.Weeks[key]; ok {
			snap = *existing
		} else {
			u.Weeks[key] = &snap
		}
		generated = true
		body = flow.WeeklyReportText(u, snap)
		targets = linkedTargets(u)
		return nil
	})
	if err != nil {
		return err
	}
	if generated {
		d.deliver(ctx, id, body, targets)
	}
	return nil
}

// CheckHeartbeat inspects the tick heartbeat and reports a missed one.
// It only surfaces the fault; nothing is restarted. Returns false when
// the heartbeat is stale.
func (d *Dispatcher) CheckHeartbeat(now time.Time) bool {
	st, ok := d.runtime.JobStatus(JobTick)
	if !ok {
		// Tick has not run yet; nothing to judge.
		return true
	}
	age := now.Sub(st.LastRun)
	if age > HeartbeatMaxAge {
		slog.Error("Dispatcher tick heartbeat missed", "age", age, "last_run", st.LastRun)
		d.runtime.RecordJob(JobWatchdog, "missed-heartbeat", now)
		return false
	}
	d.runtime.RecordJob(JobWatchdog, "ok", now)
	return true
}

// deliver fans a message out to every linked channel. Outcomes are
// independent: one channel failing is logged and counted, the rest
// still get the message. Never called while the user lock is held.
func (d *Dispatcher) deliver(ctx context.Context, id, body string, targets []target) {
	if len(targets) == 0 {
		slog.Warn("Dispatcher has no linked channels for user", "id", id)
		return
	}
	for _, t := range targets {
		sender, ok := d.senders[t.channel]
		if !ok {
			slog.Warn("Dispatcher has no sender for channel", "channel", t.channel, "id", id)
			continue
		}
		err := sender.SendMessage(ctx, t.address, body)
		d.runtime.CountSend(err)
		if err != nil {
			slog.Error("Dispatcher send failed", "error", err, "channel", t.channel, "id", id)
			continue
		}
		slog.Debug("Dispatcher send succeeded", "channel", t.channel, "id", id)
	}
}

func linkedTargets(u *models.UserRecord) []target {
	var targets []target
	if u.TelegramChatID != 0 {
		targets = append(targets, target{models.ChannelTelegram, strconv.FormatInt(u.TelegramChatID, 10)})
	}
	if u.WhatsAppNumber != "" {
		targets = append(targets, target{models.ChannelWhatsApp, u.WhatsAppNumber})
	}
	return targets
}

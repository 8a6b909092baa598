// Package models defines the core data structures for HabitLoop.
//
// It contains the per-user record with its conversational state, the
// per-day check-in logs with streak statistics, and the runtime metadata
// document used for job heartbeats and send counters.
package models

import (
	"fmt"
	"time"
)

// Channel identifies a chat transport a user can be reached on.
type Channel string

const (
	// ChannelTelegram is the long-polling Telegram transport.
	ChannelTelegram Channel = "telegram"
	// ChannelWhatsApp is the WhatsApp transport (Twilio webhook or whatsmeow).
	ChannelWhatsApp Channel = "whatsapp"
)

// IdentityKey builds the stable identity key for a channel address,
// e.g. "telegram:123456" or "whatsapp:15551234567".
func IdentityKey(ch Channel, address string) string {
	return fmt.Sprintf("%s:%s", ch, address)
}

// OnboardingStep tracks progress through the linear onboarding flow.
type OnboardingStep string

const (
	StepNone     OnboardingStep = ""
	StepName     OnboardingStep = "name"
	StepTimezone OnboardingStep = "timezone"
	StepHabits   OnboardingStep = "habits"
	StepAMTime   OnboardingStep = "am_time"
	StepPMTime   OnboardingStep = "pm_time"
)

// PendingIntent is the single outstanding expectation for what the next
// free-text message means. Only one intent is outstanding at a time; a
// newly fired prompt overwrites any prior intent (last-scheduled-wins).
type PendingIntent string

const (
	IntentNone       PendingIntent = ""
	IntentSetGoals   PendingIntent = "set_goals"
	IntentAwaitingAM PendingIntent = "awaiting_am"
	IntentAwaitingPM PendingIntent = "awaiting_pm"
)

// Slot is one of the two fixed daily check-in moments.
type Slot string

const (
	SlotAM Slot = "am"
	SlotPM Slot = "pm"
)

// Default check-in times assigned to a freshly created user.
const (
	DefaultAMTime = "07:00"
	DefaultPMTime = "21:00"
)

// CheckinEntry is a single free-text check-in reply.
type CheckinEntry struct {
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

// DayLog holds the check-in state for one user on one calendar date.
// The prompt-sent flags are monotone: once true they are never reset,
// which is the at-most-once delivery guarantee for that slot and date.
// Counted latches once streak accounting has processed the date.
type DayLog struct {
	AM           *CheckinEntry `json:"am,omitempty"`
	PM           *CheckinEntry `json:"pm,omitempty"`
	AMPromptSent bool          `json:"am_prompt_sent"`
	PMPromptSent bool          `json:"pm_prompt_sent"`
	Counted      bool          `json:"counted"`
}

// StreakStats aggregates discipline statistics for a user.
// BestStreak is always >= CurrentStreak; all updates happen through
// the day-close accounting, exactly once per counted date.
type StreakStats struct {
	TotalDaysCounted int `json:"total_days_counted"`
	FullDays         int `json:"full_days"`
	CurrentStreak    int `json:"current_streak"`
	BestStreak       int `json:"best_streak"`
}

// WeekSnapshot is an immutable weekly summary appended by the weekly job.
type WeekSnapshot struct {
	FromDate    string    `json:"from_date"`
	ToDate      string    `json:"to_date"`
	TotalDays   int       `json:"total_days"`
	FullDays    int       `json:"full_days"`
	RatePercent int       `json:"rate_percent"`
	GeneratedAt time.Time `json:"generated_at"`
}

// UserRecord is the durable state for one end user. Records are created
// lazily on first contact and never deleted.
type UserRecord struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Timezone string `json:"timezone"` // display only, not used for triggering
	Mission  string `json:"mission"`
	AMTime   string `json:"am_time"` // "HH:MM", 24-hour
	PMTime   string `json:"pm_time"`

	OnboardingStep OnboardingStep `json:"onboarding_step"`
	PendingIntent  PendingIntent  `json:"pending_intent"`
	Onboarded      bool           `json:"onboarded"`

	// Channel linkage. Zero values mean the channel is not linked.
	TelegramChatID int64  `json:"telegram_chat_id,omitempty"`
	WhatsAppNumber string `json:"whatsapp_number,omitempty"`

	Days   map[string]*DayLog       `json:"days"`  // keyed by "YYYY-MM-DD"
	Streak StreakStats              `json:"streak"`
	Weeks  map[string]*WeekSnapshot `json:"weeks"` // keyed by ISO week, e.g. "2026-W35"

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewUserRecord creates a user with defaults applied.
func NewUserRecord(id string, now time.Time) *UserRecord {
	return &UserRecord{
		ID:        id,
		AMTime:    DefaultAMTime,
		PMTime:    DefaultPMTime,
		Days:      make(map[string]*DayLog),
		Weeks:     make(map[string]*WeekSnapshot),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Day returns the DayLog for a date, or nil if none exists.
func (u *UserRecord) Day(date string) *DayLog {
	if u.Days == nil {
		return nil
	}
	return u.Days[date]
}

// EnsureDay returns the DayLog for a date, creating it if absent.
func (u *UserRecord) EnsureDay(date string) *DayLog {
	if u.Days == nil {
		u.Days = make(map[string]*DayLog)
	}
	dl, ok := u.Days[date]
	if !ok {
		dl = &DayLog{}
		u.Days[date] = dl
	}
	return dl
}

// SlotTime returns the configured wall-clock time for a slot.
func (u *UserRecord) SlotTime(slot Slot) string {
	if slot == SlotAM {
		return u.AMTime
	}
	return u.PMTime
}

// Clone returns a deep copy of the record, safe to read outside the
// store lock.
func (u *UserRecord) Clone() *UserRecord {
	cp := *u
	cp.Days = make(map[string]*DayLog, len(u.Days))
	for date, dl := range u.Days {
		d := *dl
		if dl.AM != nil {
			am := *dl.AM
			d.AM = &am
		}
		if dl.PM != nil {
			pm := *dl.PM
			d.PM = &pm
		}
		cp.Days[date] = &d
	}
	cp.Weeks = make(map[string]*WeekSnapshot, len(u.Weeks))
	for key, ws := range u.Weeks {
		w := *ws
		cp.Weeks[key] = &w
	}
	return &cp
}

// DateKey formats a time as the calendar-date key used by Days.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// ClockKey formats a time as the "HH:MM" wall-clock key compared against
// the configured slot times on every scheduler tick.
func ClockKey(t time.Time) string {
	return t.Format("15:04")
}

// WeekKey formats a time as the ISO-week key used by Weeks.
func WeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// Response represents an inbound message received on a channel.
type Response struct {
	Channel Channel `json:"channel"`
	From    string  `json:"from"` // channel-level address (chat ID or phone number)
	Body    string  `json:"body"`
	Time    int64   `json:"time"` // unix seconds
}

// JobStatus records the last observed run of a scheduled job.
type JobStatus struct {
	LastRun    time.Time `json:"last_run"`
	LastStatus string    `json:"last_status"`
}

// RuntimeState is the small runtime metadata snapshot document: job
// heartbeats plus aggregate send counters. It is persisted whole, like
// the user table.
type RuntimeState struct {
	Jobs        map[string]JobStatus `json:"jobs"`
	SendSuccess int64                `json:"send_success"`
	SendError   int64                `json:"send_error"`
}

// NewRuntimeState creates an empty runtime document.
func NewRuntimeState() *RuntimeState {
	return &RuntimeState{Jobs: make(map[string]JobStatus)}
}

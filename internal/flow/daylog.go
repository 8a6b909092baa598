package flow

import (
	"math"
	"time"

	"github.com/jroos/habitloop/internal/models"
)

// RecordPrompt marks a slot's prompt as sent for a date, creating the
// day log if absent. It returns true only when the flag transitions
// false to true; callers must skip delivery on false. The flag is
// monotone, which is the at-most-once guarantee per slot per day.
func RecordPrompt(u *models.UserRecord, date string, slot models.Slot) bool {
	dl := u.EnsureDay(date)
	switch slot {
	case models.SlotAM:
		if dl.AMPromptSent {
			return false
		}
		dl.AMPromptSent = true
	case models.SlotPM:
		if dl.PMPromptSent {
			return false
		}
		dl.PMPromptSent = true
	}
	return true
}

// RecordReply stores a check-in reply for a date and slot and clears any
// pending intent. A PM reply closes the day, which is the only trigger
// for streak accounting.
func RecordReply(u *models.UserRecord, date string, slot models.Slot, text string, at time.Time) {
	dl := u.EnsureDay(date)
	entry := &models.CheckinEntry{Text: text, Time: at}
	if slot == models.SlotAM {
		dl.AM = entry
	} else {
		dl.PM = entry
	}
	u.PendingIntent = models.IntentNone
	if slot == models.SlotPM {
		CloseDay(u, date)
	}
}

// pendingReplyDate returns the date a check-in reply belongs to: the
// most recent date whose slot prompt went out and has no reply yet.
// A reply that arrives after midnight still lands on the day it was
// asked about; the fallback is the receipt date, used when no prompt is
// outstanding (manual intents set without a prompt).
func pendingReplyDate(u *models.UserRecord, slot models.Slot, fallback string) string {
	best := ""
	for date, dl := range u.Days {
		var open bool
		if slot == models.SlotAM {
			open = dl.AMPromptSent && dl.AM == nil
		} else {
			open = dl.PMPromptSent && dl.PM == nil
		}
		if open && date > best {
			best = date
		}
	}
	if best == "" {
		return fallback
	}
	return best
}

// CloseDay runs streak accounting for a date, at most once per date per
// user: the Counted latch makes repeated calls no-ops. A full day (both
// entries present) extends the streak; a counted partial day resets it.
func CloseDay(u *models.UserRecord, date string) {
	dl := u.Day(date)
	if dl == nil || dl.Counted {
		return
	}
	u.Streak.TotalDaysCounted++
	if dl.AM != nil && dl.PM != nil {
		u.Streak.FullDays++
		u.Streak.CurrentStreak++
		if u.Streak.CurrentStreak > u.Streak.BestStreak {
			u.Streak.BestStreak = u.Streak.CurrentStreak
		}
	} else {
		u.Streak.CurrentStreak = 0
	}
	dl.Counted = true
}

// ComputeWeekSnapshot summarizes the trailing 7 calendar dates ending at
// asOf. Pure over the stored logs; it does not touch streak state.
func ComputeWeekSnapshot(u *models.UserRecord, asOf time.Time) models.WeekSnapshot {
	from := asOf.AddDate(0, 0, -6)
	total, full := 0, 0
	for i := 0; i < 7; i++ {
		dl := u.Day(models.DateKey(from.AddDate(0, 0, i)))
		if dl == nil {
			continue
		}
		total++
		if dl.AM != nil && dl.PM != nil {
			full++
		}
	}
	rate := 0
	if total > 0 {
		rate = int(math.Round(100 * float64(full) / float64(total)))
	}
	return models.WeekSnapshot{
		FromDate:    models.DateKey(from),
		ToDate:      models.DateKey(asOf),
		TotalDays:   total,
		FullDays:    full,
		RatePercent: rate,
		GeneratedAt: asOf,
	}
}

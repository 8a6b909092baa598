package flow

import (
	"fmt"

	"github.com/jroos/habitloop/internal/models"
)

// User-facing message templates. Everything the bot says lives here so
// the engine, dispatcher and responder stay consistent in voice.

const (
	msgAskName     = "Welcome to HabitLoop! 🌱 I'll check in with you every morning and evening. First things first: what should I call you?"
	msgAskTimezone = "Nice to meet you, %s! What timezone are you in? (Just a label like \"Europe/Berlin\", I only display it.)"
	msgAskHabits   = "Got it. Now tell me about your mission: which habits or goals are you working on?"
	msgAskAMTime   = "Great mission. When should I send your morning check-in? Reply with a 24-hour time like 07:00."
	msgAskPMTime   = "Morning check-in set to %s. And your evening check-in? (24-hour time, e.g. 21:00.)"
	msgBadTime     = "That doesn't look like a valid 24-hour time. Try something like 07:30 or 21:15."

	msgOnboarded = "You're all set, %s! ✅ I'll ping you at %s and %s every day. Reply \"status\" any time to see your streak."

	msgReonboard = "Okay, let's start over. Your logs and streaks are safe. What should I call you?"

	msgAskMission   = "Alright, what's your updated mission?"
	msgMissionSaved = "Mission updated. 💪"

	msgFinishOnboardingFirst = "Let's finish setting you up first. Just answer the last question above."
	msgNotOnboarded          = "We haven't set you up yet. Send \"start\" and we'll get going."

	msgAMPrompt = "Good morning, %s! ☀️ What's your plan for today? One or two lines is plenty."
	msgPMPrompt = "Evening check-in, %s 🌙 How did today go against your mission?"

	msgAMLogged = "Logged. Go make it happen! 🚀"

	msgInternalFault = "Hmm, something went sideways on my end. Your message is safe. Try again in a minute, or send \"status\"."
)

// StatusSummary renders the status reply shown to an onboarded user.
func StatusSummary(u *models.UserRecord) string {
	mission := u.Mission
	if mission == "" {
		mission = "(not set)"
	}
	return fmt.Sprintf(
		"Here's where you stand, %s:\n"+
			"• Timezone: %s\n"+
			"• Check-ins: %s / %s\n"+
			"• Mission: %s\n"+
			"• Current streak: %d\n"+
			"• Best streak: %d\n"+
			"• Full days: %d",
		u.Name, u.Timezone, u.AMTime, u.PMTime, mission,
		u.Streak.CurrentStreak, u.Streak.BestStreak, u.Streak.FullDays)
}

// PromptText renders the scheduled prompt for a slot.
func PromptText(u *models.UserRecord, slot models.Slot) string {
	if slot == models.SlotAM {
		return fmt.Sprintf(msgAMPrompt, u.Name)
	}
	return fmt.Sprintf(msgPMPrompt, u.Name)
}

// pmLoggedText acknowledges an evening reply with the updated streak.
func pmLoggedText(u *models.UserRecord) string {
	if u.Streak.CurrentStreak > 0 {
		return fmt.Sprintf("Day closed, that's a %d-day streak! 🔥 Rest well.", u.Streak.CurrentStreak)
	}
	return "Day closed. Tomorrow is a fresh start, see you in the morning."
}

// WeeklyReportText renders the weekly summary message.
func WeeklyReportText(u *models.UserRecord, snap models.WeekSnapshot) string {
	return fmt.Sprintf(
		"📊 Weekly report for %s (%s → %s)\n"+
			"Days with a log: %d\n"+
			"Full days (both check-ins): %d\n"+
			"Execution rate: %d%%\n"+
			"Current streak: %d · Best: %d",
		u.Name, snap.FromDate, snap.ToDate,
		snap.TotalDays, snap.FullDays, snap.RatePercent,
		u.Streak.CurrentStreak, u.Streak.BestStreak)
}

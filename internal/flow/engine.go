package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jroos/habitloop/internal/models"
)

// DebugTriggers fires scheduled deliveries on demand, bypassing the
// time-equality check. The dispatcher implements this; the engine only
// invokes it for the debug commands.
type DebugTriggers interface {
	// ForceSlot fires the slot prompt for a user. It returns false when
	// the slot prompt was already sent today.
	ForceSlot(ctx context.Context, userID string, slot models.Slot) (bool, error)

	// ForceWeekly computes and delivers the weekly report for a user.
	ForceWeekly(ctx context.Context, userID string) error
}

// Engine is the channel-agnostic conversational core. Every inbound
// message from every channel goes through HandleMessage, which returns
// the single reply to send back on the originating channel.
type Engine struct {
	users     *UserManager
	responder *Responder
	triggers  DebugTriggers
	now       func() time.Time
}

// NewEngine creates the engine over a user manager and coach responder.
func NewEngine(users *UserManager, responder *Responder) *Engine {
	return &Engine{users: users, responder: responder, now: time.Now}
}

// SetDebugTriggers wires the dispatcher's manual trigger path.
func (e *Engine) SetDebugTriggers(t DebugTriggers) {
	e.triggers = t
}

// SetClock overrides the wall clock, for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

type command int

const (
	cmdNone command = iota
	cmdStart
	cmdReonboard
	cmdMission
	cmdStatus
	cmdForceAM
	cmdForcePM
	cmdForceWeekly
)

// parseCommand recognizes the channel-level command surface. Anything
// unrecognized is free text and falls through the routing priority.
func parseCommand(text string) command {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "start", "/start", "hi", "hello":
		return cmdStart
	case "reonboard", "/reonboard", "restart", "/restart":
		return cmdReonboard
	case "mission", "/mission", "update mission":
		return cmdMission
	case "status", "/status":
		return cmdStatus
	case "force am", "/forceam":
		return cmdForceAM
	case "force pm", "/forcepm":
		return cmdForcePM
	case "force weekly", "/forceweekly":
		return cmdForceWeekly
	default:
		return cmdNone
	}
}

// HandleMessage routes one inbound message and returns the reply.
// Routing priority: command, then active onboarding step, then pending
// intent, then the coach responder. The user mutation and its snapshot
// write complete before this function returns; the coach call happens
// outside the store lock.
func (e *Engine) HandleMessage(ctx context.Context, id string, seed Seed, text string) (string, error) {
	cmd := parseCommand(text)
	now := e.now()
	slog.Debug("Engine handling message", "id", id, "command", cmd != cmdNone, "body_length", len(text))

	switch cmd {
	case cmdForceAM, cmdForcePM, cmdForceWeekly:
		return e.handleForce(ctx, id, cmd)
	}

	var reply string
	var needCoach bool
	var name, mission string
	err := e.users.Mutate(id, seed, func(u *models.UserRecord) error {
		reply, needCoach = e.route(u, cmd, strings.TrimSpace(text), now)
		name, mission = u.Name, u.Mission
		return nil
	})
	if err != nil {
		slog.Error("Engine mutation failed", "error", err, "id", id)
		return msgInternalFault, err
	}

	if needCoach {
		reply = e.responder.Reply(ctx, name, mission, text)
	}
	return reply, nil
}

// route applies the routing priority under the store lock. The boolean
// result requests a coach reply, produced by the caller after the lock
// is released.
func (e *Engine) route(u *models.UserRecord, cmd command, text string, now time.Time) (string, bool) {
	switch cmd {
	case cmdStart:
		if u.Onboarded {
			return StatusSummary(u), false
		}
		u.OnboardingStep = models.StepName
		u.PendingIntent = models.IntentNone
		return msgAskName, false

	case cmdReonboard:
		// Historical logs and streaks survive re-onboarding.
		u.Onboarded = false
		u.OnboardingStep = models.StepName
		u.PendingIntent = models.IntentNone
		return msgReonboard, false

	case cmdMission:
		if u.OnboardingStep != models.StepNone {
			return msgFinishOnboardingFirst, false
		}
		u.PendingIntent = models.IntentSetGoals
		return msgAskMission, false

	case cmdStatus:
		if !u.Onboarded {
			return msgNotOnboarded, false
		}
		return StatusSummary(u), false
	}

	if u.OnboardingStep != models.StepNone {
		return e.advanceOnboarding(u, text), false
	}
	if u.PendingIntent != models.IntentNone {
		return e.consumeIntent(u, text, now), false
	}
	return "", true
}

// advanceOnboarding moves the linear onboarding flow one step. The two
// time steps are the only validation loop: invalid input re-prompts the
// same step without advancing.
func (e *Engine) advanceOnboarding(u *models.UserRecord, text string) string {
	switch u.OnboardingStep {
	case models.StepName:
		u.Name = text
		u.OnboardingStep = models.StepTimezone
		return fmt.Sprintf(msgAskTimezone, u.Name)

	case models.StepTimezone:
		u.Timezone = text
		u.OnboardingStep = models.StepHabits
		return msgAskHabits

	case models.StepHabits:
		u.Mission = text
		u.OnboardingStep = models.StepAMTime
		return msgAskAMTime

	case models.StepAMTime:
		norm, ok := models.NormalizeClock(text)
		if !ok {
			return msgBadTime
		}
		u.AMTime = norm
		u.OnboardingStep = models.StepPMTime
		return fmt.Sprintf(msgAskPMTime, u.AMTime)

	case models.StepPMTime:
		norm, ok := models.NormalizeClock(text)
		if !ok {
			return msgBadTime
		}
		u.PMTime = norm
		u.OnboardingStep = models.StepNone
		u.Onboarded = true
		slog.Info("Engine onboarding completed", "id", u.ID, "am", u.AMTime, "pm", u.PMTime)
		return fmt.Sprintf(msgOnboarded, u.Name, u.AMTime, u.PMTime)
	}

	// Unreachable while the step enum stays closed; recover anyway.
	slog.Error("Engine unknown onboarding step", "id", u.ID, "step", u.OnboardingStep)
	u.OnboardingStep = models.StepNone
	return msgInternalFault
}

// consumeIntent resolves the single outstanding intent with this
// message. Intents are never queued: whatever is pending now is what
// this message answers.
func (e *Engine) consumeIntent(u *models.UserRecord, text string, now time.Time) string {
	intent := u.PendingIntent
	u.PendingIntent = models.IntentNone
	switch intent {
	case models.IntentSetGoals:
		u.Mission = text
		return msgMissionSaved
	case models.IntentAwaitingAM:
		RecordReply(u, pendingReplyDate(u, models.SlotAM, models.DateKey(now)), models.SlotAM, text, now)
		return msgAMLogged
	case models.IntentAwaitingPM:
		RecordReply(u, pendingReplyDate(u, models.SlotPM, models.DateKey(now)), models.SlotPM, text, now)
		return pmLoggedText(u)
	}
	slog.Error("Engine unknown pending intent", "id", u.ID, "intent", intent)
	return msgInternalFault
}

// handleForce services the debug trigger commands. The onboarded gate
// still applies; only the time-equality check is bypassed.
func (e *Engine) handleForce(ctx context.Context, id string, cmd command) (string, error) {
	if e.triggers == nil {
		return msgInternalFault, fmt.Errorf("debug triggers not configured")
	}
	u, ok := e.users.Get(id)
	if !ok || !u.Onboarded {
		return msgNotOnboarded, nil
	}

	switch cmd {
	case cmdForceAM, cmdForcePM:
		slot := models.SlotAM
		label := "Morning"
		if cmd == cmdForcePM {
			slot = models.SlotPM
			label = "Evening"
		}
		fired, err := e.triggers.ForceSlot(ctx, id, slot)
		if err != nil {
			return msgInternalFault, err
		}
		if !fired {
			return fmt.Sprintf("%s check-in was already sent today.", label), nil
		}
		return fmt.Sprintf("%s check-in fired, check your messages.", label), nil

	default:
		if err := e.triggers.ForceWeekly(ctx, id); err != nil {
			return msgInternalFault, err
		}
		return "Weekly report sent.", nil
	}
}

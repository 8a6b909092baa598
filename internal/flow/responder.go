package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jroos/habitloop/internal/genai"
)

// coachPersona is the fixed instruction sent with every generation
// request. The persona never varies per user; user context goes in the
// user prompt.
const coachPersona = "You are Loop, a warm, concise habit coach inside a chat bot. " +
	"Encourage the user toward their stated mission, keep replies under 80 words, " +
	"never invent data about their progress, and end with one small concrete nudge."

// Responder produces a reply for unstructured input. With no generation
// client configured it answers deterministically; with one configured,
// any failure still produces a deterministic fallback. It never returns
// an empty string.
type Responder struct {
	client genai.ClientInterface
}

// NewResponder creates a responder. client may be nil.
func NewResponder(client genai.ClientInterface) *Responder {
	return &Responder{client: client}
}

// Reply returns coach text for a free-form message.
func (r *Responder) Reply(ctx context.Context, name, mission, text string) string {
	if r.client == nil {
		return r.templateReply(mission)
	}

	userPrompt := fmt.Sprintf("User name: %s\nUser mission: %s\nUser message: %s", name, mission, text)
	out, err := r.client.Generate(ctx, coachPersona, userPrompt)
	if err != nil {
		slog.Warn("Responder generation failed, using fallback", "error", err)
		return r.fallbackReply(text)
	}
	return strings.TrimSpace(out)
}

// templateReply is the deterministic answer used when no generation
// collaborator is configured.
func (r *Responder) templateReply(mission string) string {
	if mission == "" {
		return "I hear you! Tell me your mission with \"mission\" and I'll keep you on track. " +
			"Meanwhile, pick one small thing you can finish in the next hour."
	}
	return fmt.Sprintf("I hear you! Keep your mission in sight: %s. "+
		"Pick one small step toward it you can finish in the next hour.", mission)
}

// fallbackReply echoes the user's text and gives one concrete next
// action. It shields the user from collaborator failures.
func (r *Responder) fallbackReply(text string) string {
	return fmt.Sprintf("I couldn't think that one through right now, but I saved what you said: %q. "+
		"Try sending \"status\" to see where you stand, and keep going.", text)
}

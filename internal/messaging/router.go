package messaging

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/jroos/habitloop/internal/flow"
	"github.com/jroos/habitloop/internal/models"
)

// Router is the single channel-agnostic inbound path: every service's
// response stream feeds the same engine, and the reply goes back out on
// the service it arrived on. Per-channel code stops at transport
// translation.
type Router struct {
	engine   *flow.Engine
	services []Service
}

// NewRouter creates a router over the engine.
func NewRouter(engine *flow.Engine) *Router {
	return &Router{engine: engine}
}

// AddService registers a channel service with the router.
func (r *Router) AddService(svc Service) {
	r.services = append(r.services, svc)
}

// Start launches one consuming goroutine per registered service.
func (r *Router) Start(ctx context.Context) {
	for _, svc := range r.services {
		go r.consume(ctx, svc)
	}
	slog.Info("Router started", "services", len(r.services))
}

func (r *Router) consume(ctx context.Context, svc Service) {
	for {
		select {
		case resp, ok := <-svc.Responses():
			if !ok {
				slog.Debug("Router responses channel closed", "channel", svc.Channel())
				return
			}
			reply := r.HandleSync(ctx, resp)
			if reply == "" {
				continue
			}
			if err := svc.SendMessage(ctx, resp.From, reply); err != nil {
				slog.Error("Router reply send failed", "error", err, "channel", resp.Channel, "from", resp.From)
			}
		case <-ctx.Done():
			slog.Debug("Router stopping due to context cancellation", "channel", svc.Channel())
			return
		}
	}
}

// HandleSync routes one inbound message and returns the reply without
// sending it. The Twilio webhook uses this to produce its synchronous
// response; the polling loops send the result themselves.
func (r *Router) HandleSync(ctx context.Context, resp models.Response) string {
	key := models.IdentityKey(resp.Channel, resp.From)
	seed := seedFor(resp.Channel, resp.From)

	reply, err := r.engine.HandleMessage(ctx, key, seed, resp.Body)
	if err != nil {
		// The engine already substituted an in-persona reply; the error
		// is for the logs.
		slog.Error("Router message handling failed", "error", err, "channel", resp.Channel, "from", resp.From)
	}
	return reply
}

// seedFor translates a channel address into the channel-linkage fields
// stored on first contact.
func seedFor(ch models.Channel, from string) flow.Seed {
	switch ch {
	case models.ChannelTelegram:
		chatID, err := strconv.ParseInt(from, 10, 64)
		if err != nil {
			slog.Warn("Router could not parse Telegram chat ID", "from", from, "error", err)
			return flow.Seed{}
		}
		return flow.Seed{TelegramChatID: chatID}
	case models.ChannelWhatsApp:
		return flow.Seed{WhatsAppNumber: from}
	default:
		return flow.Seed{}
	}
}

package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/jroos/habitloop/internal/models"
	"github.com/jroos/habitloop/internal/whatsapp"
)

// WhatsAppService implements Service over a direct Whatsmeow
// connection. Inbound messages arrive as client events and are pumped
// onto the response stream for the router.
type WhatsAppService struct {
	client    *whatsapp.Client
	responses chan models.Response
	mu        sync.RWMutex
	stopped   bool
}

// NewWhatsAppService creates a Whatsmeow-backed WhatsApp service.
func NewWhatsAppService(client *whatsapp.Client) *WhatsAppService {
	return &WhatsAppService{
		client:    client,
		responses: make(chan models.Response, DefaultChannelBufferSize),
	}
}

// Channel identifies this service as the WhatsApp transport.
func (s *WhatsAppService) Channel() models.Channel {
	return models.ChannelWhatsApp
}

// ValidateAndCanonicalizeRecipient reduces a phone number to its
// digits and rejects anything implausibly short.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	digits := phoneNumberRegex.ReplaceAllString(recipient, "")
	if len(digits) < minPhoneDigits {
		return "", fmt.Errorf("invalid phone number %q", recipient)
	}
	return digits, nil
}

// SendMessage sends a WhatsApp message via the Whatsmeow client.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendMessage validation error", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonical, body); err != nil {
		slog.Error("WhatsAppService SendMessage failed", "error", err, "to", canonical)
		return err
	}
	slog.Debug("WhatsAppService message sent", "to", canonical, "body_length", len(body))
	return nil
}

// Start registers the event handler that feeds inbound messages onto
// the response stream.
func (s *WhatsAppService) Start(ctx context.Context) error {
	s.client.GetClient().AddEventHandler(s.handleEvent)
	slog.Info("WhatsAppService event handler registered")
	return nil
}

func (s *WhatsAppService) handleEvent(evt interface{}) {
	msg, ok := evt.(*events.Message)
	if !ok {
		return
	}
	if msg.Info.IsFromMe || msg.Info.IsGroup {
		return
	}

	body := msg.Message.GetConversation()
	if body == "" {
		if ext := msg.Message.GetExtendedTextMessage(); ext != nil {
			body = ext.GetText()
		}
	}
	if body == "" {
		// Media, reactions and other non-text payloads.
		return
	}

	from, err := s.ValidateAndCanonicalizeRecipient(msg.Info.Sender.User)
	if err != nil {
		slog.Warn("WhatsAppService inbound sender rejected", "sender", msg.Info.Sender.User, "error", err)
		return
	}

	resp := models.Response{
		Channel: models.ChannelWhatsApp,
		From:    from,
		Body:    body,
		Time:    msg.Info.Timestamp.Unix(),
	}

	select {
	case s.responses <- resp:
		slog.Debug("WhatsAppService inbound message forwarded", "from", from)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService responses channel blocked, dropping message", "from", from)
	}
}

// Stop disconnects the client and closes the response stream.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	s.client.Disconnect()
	close(s.responses)
	slog.Info("WhatsAppService stopped")
	return nil
}

// Responses returns the stream of incoming messages.
func (s *WhatsAppService) Responses() <-chan models.Response {
	return s.responses
}

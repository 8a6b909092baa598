package messaging

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/jroos/habitloop/internal/models"
	"github.com/jroos/habitloop/internal/twiliowhatsapp"
)

// phoneNumberRegex strips everything but digits from a phone number.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// minPhoneDigits is the shortest recipient number accepted.
const minPhoneDigits = 6

// TwilioService implements Service over the Twilio WhatsApp API.
// Inbound messages arrive via webhook rather than polling, so Start is
// a no-op; the webhook handler answers each message synchronously with
// a single TwiML reply.
type TwilioService struct {
	sender    twiliowhatsapp.Sender
	responses chan models.Response
	mu        sync.RWMutex
	stopped   bool
}

// NewTwilioService creates a Twilio-backed WhatsApp service.
func NewTwilioService(sender twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{
		sender:    sender,
		responses: make(chan models.Response, DefaultChannelBufferSize),
	}
}

// Channel identifies this service as the WhatsApp transport.
func (s *TwilioService) Channel() models.Channel {
	return models.ChannelWhatsApp
}

// ValidateAndCanonicalizeRecipient reduces a phone number to its
// digits and rejects anything implausibly short.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	digits := phoneNumberRegex.ReplaceAllString(recipient, "")
	if len(digits) < minPhoneDigits {
		return "", fmt.Errorf("invalid phone number %q", recipient)
	}
	return digits, nil
}

// SendMessage sends a WhatsApp message via the Twilio API.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}
	if err := s.sender.SendMessage(ctx, canonical, body); err != nil {
		slog.Error("TwilioService SendMessage failed", "error", err, "to", canonical)
		return err
	}
	slog.Debug("TwilioService message sent", "to", canonical, "body_length", len(body))
	return nil
}

// Start is a no-op: inbound traffic arrives on the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	slog.Info("TwilioService ready (webhook driven)")
	return nil
}

// Stop closes the response stream.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.responses)
	slog.Info("TwilioService stopped")
	return nil
}

// Responses returns the stream of incoming messages. The Twilio flow
// answers inside the webhook, so this stream normally stays empty; it
// exists to satisfy Service.
func (s *TwilioService) Responses() <-chan models.Response {
	return s.responses
}

// twimlResponse is the minimal TwiML document Twilio expects back from
// a message webhook.
type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message,omitempty"`
}

// WebhookHandler returns an HTTP handler for Twilio's inbound message
// webhook. The respond callback produces the reply text; the handler
// wraps it in TwiML so the reply rides back on the HTTP response
// instead of a separate API call.
func (s *TwilioService) WebhookHandler(respond func(ctx context.Context, resp models.Response) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			slog.Error("TwilioService webhook form parse failed", "error", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		from := r.FormValue("From") // "whatsapp:+1234567890"
		body := r.FormValue("Body")

		canonical, err := s.ValidateAndCanonicalizeRecipient(from)
		if err != nil {
			slog.Warn("TwilioService webhook sender rejected", "from", from, "error", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		resp := models.Response{
			Channel: models.ChannelWhatsApp,
			From:    canonical,
			Body:    body,
			Time:    time.Now().Unix(),
		}
		slog.Debug("TwilioService webhook message received", "from", canonical)

		reply := respond(r.Context(), resp)

		out, err := xml.Marshal(twimlResponse{Message: reply})
		if err != nil {
			slog.Error("TwilioService TwiML marshal failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(xml.Header)); err != nil {
			slog.Error("TwilioService webhook write failed", "error", err)
			return
		}
		if _, err := w.Write(out); err != nil {
			slog.Error("TwilioService webhook write failed", "error", err)
		}
	}
}

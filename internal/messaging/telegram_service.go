package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/jroos/habitloop/internal/models"
)

// TelegramPollTimeout is the long-poll timeout passed to getUpdates.
const TelegramPollTimeout = 30 // seconds

// TelegramService implements Service over the Telegram Bot API using
// long polling. Recipient addresses are chat IDs in decimal form.
type TelegramService struct {
	bot       *tgbotapi.BotAPI
	responses chan models.Response
	mu        sync.RWMutex
	stopped   bool
}

// NewTelegramService creates a Telegram service for the given bot token.
func NewTelegramService(token string) (*TelegramService, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token must be provided")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}
	slog.Info("Telegram bot authorized", "username", bot.Self.UserName)
	return &TelegramService{
		bot:       bot,
		responses: make(chan models.Response, DefaultChannelBufferSize),
	}, nil
}

// Channel identifies this service as the Telegram transport.
func (s *TelegramService) Channel() models.Channel {
	return models.ChannelTelegram
}

// ValidateAndCanonicalizeRecipient accepts a decimal chat ID
// (negative IDs address group chats).
func (s *TelegramService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid Telegram chat ID %q: %w", recipient, err)
	}
	return strconv.FormatInt(chatID, 10), nil
}

// SendMessage sends a text message to a chat.
func (s *TelegramService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TelegramService SendMessage validation error", "error", err, "to", to)
		return err
	}
	chatID, _ := strconv.ParseInt(canonical, 10, 64)

	if _, err := s.bot.Send(tgbotapi.NewMessage(chatID, body)); err != nil {
		slog.Error("TelegramService SendMessage failed", "error", err, "to", canonical)
		return fmt.Errorf("failed to send message to chat %s: %w", canonical, err)
	}
	slog.Debug("TelegramService message sent", "to", canonical, "body_length", len(body))
	return nil
}

// Start begins the long-polling update loop.
func (s *TelegramService) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = TelegramPollTimeout
	updates := s.bot.GetUpdatesChan(u)

	go func() {
		defer slog.Info("TelegramService update loop stopped")
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				s.handleUpdate(update)
			case <-ctx.Done():
				s.bot.StopReceivingUpdates()
				return
			}
		}
	}()

	slog.Info("TelegramService polling started")
	return nil
}

func (s *TelegramService) handleUpdate(update tgbotapi.Update) {
	if update.Message == nil || update.Message.Text == "" {
		// Skip edits, stickers, media.
		return
	}

	resp := models.Response{
		Channel: models.ChannelTelegram,
		From:    strconv.FormatInt(update.Message.Chat.ID, 10),
		Body:    update.Message.Text,
		Time:    int64(update.Message.Date),
	}

	select {
	case s.responses <- resp:
		slog.Debug("TelegramService inbound message forwarded", "from", resp.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TelegramService responses channel blocked, dropping message", "from", resp.From)
	}
}

// Stop halts polling and closes the response stream.
func (s *TelegramService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	s.bot.StopReceivingUpdates()
	close(s.responses)
	slog.Info("TelegramService stopped")
	return nil
}

// Responses returns the stream of incoming messages.
func (s *TelegramService) Responses() <-chan models.Response {
	return s.responses
}

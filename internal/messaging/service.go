// Package messaging provides the channel adapter abstraction and the
// inbound message router for HabitLoop.
package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/jroos/habitloop/internal/models"
)

// Constants for service configuration.
const (
	// DefaultChannelBufferSize defines the buffer size for response channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the timeout for non-blocking channel operations.
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned by sends after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service defines a pluggable channel adapter. It carries inbound
// messages as a stream and performs outbound sends; all business logic
// lives behind the router.
type Service interface {
	// Channel identifies the transport this service speaks.
	Channel() models.Channel

	// ValidateAndCanonicalizeRecipient validates and canonicalizes a
	// recipient identifier for this channel.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins background processing (polling or event handling).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Responses returns the stream of incoming messages.
	Responses() <-chan models.Response
}

// Package messaging connects WhatsApp transports to the conversation dispatcher.
package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/sebashdez96/biotecza-bot/internal/models"
)

// Constants for service configuration
const (
	// DefaultChannelBufferSize defines the buffer size of inbound channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds a blocked send on an inbound channel
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned by sends on a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service defines a pluggable reply delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a phone number.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendReply delivers one reply directive to a recipient.
	SendReply(ctx context.Context, to string, reply models.Reply) error

	// Start begins any background processing.
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error
}

// InboundSource is implemented by transports that push inbound messages on a
// channel instead of receiving them through an HTTP webhook.
type InboundSource interface {
	Inbound() <-chan models.InboundMessage
}

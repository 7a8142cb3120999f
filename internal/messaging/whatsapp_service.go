package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sebashdez96/biotecza-bot/internal/models"
	"github.com/sebashdez96/biotecza-bot/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// MediaRefPrefix marks MediaRefs that point at a whatsmeow message id.
const MediaRefPrefix = "whatsmeow:"

// WhatsAppService implements Service and InboundSource using a direct
// whatsmeow session. Replies are rendered as text.
type WhatsAppService struct {
	client  whatsapp.EventClient
	inbound chan models.InboundMessage
	mu      sync.RWMutex
	started bool
	stopped bool
}

// Compile-time checks for WhatsAppService.
var (
	_ Service       = (*WhatsAppService)(nil)
	_ InboundSource = (*WhatsAppService)(nil)
)

// NewWhatsAppService creates a WhatsAppService wrapping client.
func NewWhatsAppService(client whatsapp.EventClient) *WhatsAppService {
	return &WhatsAppService{
		client:  client,
		inbound: make(chan models.InboundMessage, DefaultChannelBufferSize),
	}
}

// ValidateAndCanonicalizeRecipient canonicalizes a phone number or JID user part.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(recipient)
}

// Start registers the event handler. Calling it twice is a no-op.
func (s *WhatsAppService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrServiceStopped
	}
	if s.started {
		return nil
	}
	s.started = true
	s.client.OnEvent(s.handleEvent)
	slog.Debug("WhatsAppService event handler registered")
	return nil
}

// Stop disconnects the client and closes the inbound channel.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.inbound)
	s.client.Disconnect()
	slog.Info("WhatsAppService stopped and channel closed")
	return nil
}

// Inbound returns the channel of received messages.
func (s *WhatsAppService) Inbound() <-chan models.InboundMessage {
	return s.inbound
}

// SendReply renders reply as text and sends it.
func (s *WhatsAppService) SendReply(ctx context.Context, to string, reply models.Reply) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	if err := reply.Validate(); err != nil {
		return fmt.Errorf("invalid reply: %w", err)
	}
	if err := s.client.SendMessage(ctx, canonicalTo, RenderText(reply)); err != nil {
		slog.Error("WhatsAppService.SendReply error", "error", err, "to", canonicalTo)
		return err
	}
	return nil
}

func (s *WhatsAppService) handleEvent(evt any) {
	switch v := evt.(type) {
	case *events.Message:
		s.handleIncomingMessage(v)
	default:
		slog.Debug("WhatsAppService ignoring event type", "type", getEventType(v))
	}
}

// handleIncomingMessage forwards direct text and image messages.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}

	msg := models.InboundMessage{
		ID:   string(evt.Info.ID),
		From: evt.Info.Sender.User,
		Time: evt.Info.Timestamp.UTC(),
	}
	switch {
	case evt.Message.GetConversation() != "":
		msg.Kind = models.InboundText
		msg.Text = evt.Message.GetConversation()
	case evt.Message.GetExtendedTextMessage().GetText() != "":
		msg.Kind = models.InboundText
		msg.Text = evt.Message.GetExtendedTextMessage().GetText()
	case evt.Message.GetImageMessage() != nil:
		msg.Kind = models.InboundImage
		msg.Text = evt.Message.GetImageMessage().GetCaption()
		msg.MediaRef = MediaRefPrefix + string(evt.Info.ID)
	default:
		slog.Debug("WhatsAppService ignoring unsupported message", "from", evt.Info.Sender.User)
		return
	}
	msg.Text = strings.TrimSpace(msg.Text)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	select {
	case s.inbound <- msg:
		slog.Debug("WhatsAppService incoming message forwarded", "from", msg.From, "id", msg.ID)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService inbound channel blocked, dropping message", "from", msg.From, "timeout", DefaultChannelTimeout)
	}
}

// getEventType returns a string representation of the event type for logging
func getEventType(evt any) string {
	switch evt.(type) {
	case *events.Message:
		return "Message"
	case *events.Receipt:
		return "Receipt"
	case *events.Presence:
		return "Presence"
	case *events.Connected:
		return "Connected"
	case *events.Disconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

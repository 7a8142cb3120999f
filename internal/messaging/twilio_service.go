package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sebashdez96/biotecza-bot/internal/models"
	"github.com/sebashdez96/biotecza-bot/internal/twiliowhatsapp"
)

// ErrMissingTwilioFields is returned for webhook forms without a sender or message sid.
var ErrMissingTwilioFields = errors.New("twilio webhook missing required fields")

// TwilioService implements Service using the Twilio API. Interactive replies
// are rendered as text.
type TwilioService struct {
	client  twiliowhatsapp.Sender
	mu      sync.RWMutex
	stopped bool
}

// Compile-time check that TwilioService implements Service.
var _ Service = (*TwilioService)(nil)

// NewTwilioService creates a TwilioService wrapping client.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{client: client}
}

// ValidateAndCanonicalizeRecipient accepts "whatsapp:+52..." and bare numbers alike.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(recipient)
}

// Start is a no-op for Twilio; inbound messages arrive through the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop marks the service stopped.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

// SendReply renders reply as text and sends it via Twilio.
func (s *TwilioService) SendReply(ctx context.Context, to string, reply models.Reply) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendReply validation error", "error", err, "to", to)
		return err
	}
	if err := reply.Validate(); err != nil {
		return fmt.Errorf("invalid reply: %w", err)
	}

	if err := s.client.SendMessage(ctx, canonicalTo, RenderText(reply)); err != nil {
		return err
	}
	slog.Debug("TwilioService.SendReply sent", "to", canonicalTo, "kind", reply.Kind())
	return nil
}

// ParseTwilioForm converts a Twilio webhook form into an inbound message.
// The first media attachment, if any, becomes the MediaRef.
func ParseTwilioForm(form url.Values) (models.InboundMessage, error) {
	msg := models.InboundMessage{
		ID:   form.Get("MessageSid"),
		From: form.Get("From"),
		Text: strings.TrimSpace(form.Get("Body")),
		Kind: models.InboundText,
		Time: time.Now().UTC(),
	}
	if msg.ID == "" || msg.From == "" {
		return models.InboundMessage{}, ErrMissingTwilioFields
	}

	if n, _ := strconv.Atoi(form.Get("NumMedia")); n > 0 {
		msg.MediaRef = form.Get("MediaUrl0")
		msg.Kind = models.InboundImage
	}
	if payload := form.Get("ButtonPayload"); payload != "" {
		msg.Text = payload
		msg.Kind = models.InboundButton
	}
	return msg, nil
}

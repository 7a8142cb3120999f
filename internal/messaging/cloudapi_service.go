package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sebashdez96/biotecza-bot/internal/cloudapi"
	"github.com/sebashdez96/biotecza-bot/internal/models"
)

// CloudAPIService implements Service using the Meta WhatsApp Cloud API, which
// renders buttons and lists natively.
type CloudAPIService struct {
	client  cloudapi.Sender
	mu      sync.RWMutex
	stopped bool
}

// Compile-time check that CloudAPIService implements Service.
var _ Service = (*CloudAPIService)(nil)

// NewCloudAPIService creates a CloudAPIService wrapping client.
func NewCloudAPIService(client cloudapi.Sender) *CloudAPIService {
	return &CloudAPIService{client: client}
}

// ValidateAndCanonicalizeRecipient canonicalizes to the 52 form the Cloud API delivers to.
func (s *CloudAPIService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(recipient)
}

// Start is a no-op; inbound messages arrive through the webhook.
func (s *CloudAPIService) Start(ctx context.Context) error {
	return nil
}

// Stop marks the service stopped.
func (s *CloudAPIService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

// SendReply sends reply as a text, button or list message.
func (s *CloudAPIService) SendReply(ctx context.Context, to string, reply models.Reply) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("CloudAPIService.SendReply validation error", "error", err, "to", to)
		return err
	}
	if err := s.client.Send(ctx, canonicalTo, reply); err != nil {
		return err
	}
	slog.Debug("CloudAPIService.SendReply sent", "to", canonicalTo, "kind", reply.Kind())
	return nil
}

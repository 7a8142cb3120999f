package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sebashdez96/biotecza-bot/internal/conversation"
	"github.com/sebashdez96/biotecza-bot/internal/models"
	"github.com/sebashdez96/biotecza-bot/internal/store"
)

// DefaultApologyMessage is sent when a message could not be processed.
const DefaultApologyMessage = "⚠️ Tuvimos un problema al procesar tu mensaje. Por favor intenta de nuevo en unos momentos."

// Dispatcher runs one inbound message through the conversation state machine.
type Dispatcher interface {
	Handle(ctx context.Context, phone string, in conversation.Input) ([]models.Reply, error)
}

// Compile-time check that conversation.Dispatcher satisfies Dispatcher.
var _ Dispatcher = (*conversation.Dispatcher)(nil)

// InboundHandler routes inbound messages from a transport to the dispatcher
// and delivers the produced replies back through the same transport.
type InboundHandler struct {
	svc        Service
	dispatcher Dispatcher
	dedup      store.DedupRepo
	apology    string
}

// InboundHandlerOption configures an InboundHandler.
type InboundHandlerOption func(*InboundHandler)

// WithDedupRepo drops provider redeliveries by message id.
func WithDedupRepo(repo store.DedupRepo) InboundHandlerOption {
	return func(h *InboundHandler) { h.dedup = repo }
}

// WithApologyMessage replaces DefaultApologyMessage.
func WithApologyMessage(msg string) InboundHandlerOption {
	return func(h *InboundHandler) { h.apology = msg }
}

// NewInboundHandler creates an InboundHandler.
func NewInboundHandler(svc Service, dispatcher Dispatcher, opts ...InboundHandlerOption) *InboundHandler {
	h := &InboundHandler{
		svc:        svc,
		dispatcher: dispatcher,
		apology:    DefaultApologyMessage,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Process handles one inbound message. It returns an error only when the
// message should be redelivered by the provider: the dedup claim or the
// transition failed. Reply delivery failures are logged, since the transition
// is already committed and a redelivery would apply it twice.
func (h *InboundHandler) Process(ctx context.Context, msg models.InboundMessage) error {
	if err := msg.Validate(); err != nil {
		slog.Debug("InboundHandler.Process: ignoring message", "id", msg.ID, "reason", err)
		return nil
	}

	phone, err := h.svc.ValidateAndCanonicalizeRecipient(msg.From)
	if err != nil {
		slog.Warn("InboundHandler.Process: invalid sender", "error", err, "from", msg.From)
		return nil
	}

	if h.dedup != nil {
		first, err := h.dedup.RecordInbound(msg.ID, phone)
		if err != nil {
			slog.Error("InboundHandler.Process: dedup record failed", "error", err, "id", msg.ID)
			return fmt.Errorf("failed to record inbound message %s: %w", msg.ID, err)
		}
		if !first {
			slog.Info("InboundHandler.Process: duplicate message dropped", "id", msg.ID, "phone", phone)
			return nil
		}
	}

	replies, err := h.dispatcher.Handle(ctx, phone, conversation.Input{Text: msg.Text, MediaRef: msg.MediaRef})
	if err != nil {
		slog.Error("InboundHandler.Process: dispatch failed", "error", err, "id", msg.ID, "phone", phone)
		if h.dedup != nil {
			if relErr := h.dedup.ReleaseInbound(msg.ID); relErr != nil {
				slog.Error("InboundHandler.Process: dedup release failed", "error", relErr, "id", msg.ID)
			}
		}
		if sendErr := h.svc.SendReply(ctx, phone, models.TextReply{Body: h.apology}); sendErr != nil {
			slog.Error("InboundHandler.Process: apology send failed", "error", sendErr, "phone", phone)
		}
		return fmt.Errorf("failed to dispatch message %s: %w", msg.ID, err)
	}

	for i, reply := range replies {
		if err := h.svc.SendReply(ctx, phone, reply); err != nil {
			slog.Error("InboundHandler.Process: reply delivery failed, skipping the rest",
				"error", err, "phone", phone, "index", i, "total", len(replies))
			break
		}
	}

	if h.dedup != nil {
		if err := h.dedup.MarkProcessed(msg.ID); err != nil {
			slog.Warn("InboundHandler.Process: mark processed failed", "error", err, "id", msg.ID)
		}
	}
	slog.Debug("InboundHandler.Process: message handled", "id", msg.ID, "phone", phone, "replies", len(replies))
	return nil
}

// Start consumes src until it is closed or ctx is cancelled.
func (h *InboundHandler) Start(ctx context.Context, src InboundSource) {
	slog.Info("InboundHandler starting inbound processing")

	go func() {
		defer slog.Info("InboundHandler stopped inbound processing")

		for {
			select {
			case msg, ok := <-src.Inbound():
				if !ok {
					slog.Debug("InboundHandler inbound channel closed")
					return
				}
				if err := h.Process(ctx, msg); err != nil {
					slog.Error("InboundHandler failed to process message", "error", err, "id", msg.ID)
				}

			case <-ctx.Done():
				slog.Debug("InboundHandler stopping due to context cancellation")
				return
			}
		}
	}()
}

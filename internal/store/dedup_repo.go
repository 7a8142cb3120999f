package store

import (
	"time"
)

// DedupRecord represents an inbound message deduplication record.
type DedupRecord struct {
	MessageID   string     `json:"message_id"`
	Phone       string     `json:"phone"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo de-duplicates provider redeliveries by message id. WhatsApp
// providers deliver at least once, and adding to the cart is not idempotent.
type DedupRepo interface {
	// IsDuplicate reports whether the message id has been recorded.
	IsDuplicate(messageID string) (bool, error)

	// RecordInbound claims a message id. It returns false when the id was
	// already recorded.
	RecordInbound(messageID, phone string) (bool, error)

	// MarkProcessed sets the processed_at timestamp for a message.
	MarkProcessed(messageID string) error

	// ReleaseInbound forgets an unprocessed message id so that a redelivery
	// of a message whose transition failed is handled again.
	ReleaseInbound(messageID string) error

	// PruneInbound deletes records received before cutoff and returns how
	// many were removed. Providers stop redelivering long before any sane
	// retention period ends.
	PruneInbound(cutoff time.Time) (int64, error)
}

package store

import (
	"time"
)

// Compile-time check that SQLiteStore implements DedupRepo.
var _ DedupRepo = (*SQLiteStore)(nil)

func (s *SQLiteStore) IsDuplicate(messageID string) (bool, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM inbound_dedup WHERE message_id = ?`, messageID).Scan(&n); err != nil {
		return false, unavailable("dedup check", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) RecordInbound(messageID, phone string) (bool, error) {
	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO inbound_dedup (message_id, phone, received_at) VALUES (?, ?, ?)`,
		messageID, phone, time.Now().UTC(),
	)
	if err != nil {
		return false, unavailable("record inbound", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, unavailable("record inbound rows affected", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) MarkProcessed(messageID string) error {
	if _, err := s.db.Exec(`UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`, time.Now().UTC(), messageID); err != nil {
		return unavailable("mark processed", err)
	}
	return nil
}

func (s *SQLiteStore) ReleaseInbound(messageID string) error {
	if _, err := s.db.Exec(`DELETE FROM inbound_dedup WHERE message_id = ? AND processed_at IS NULL`, messageID); err != nil {
		return unavailable("release inbound", err)
	}
	return nil
}

func (s *SQLiteStore) PruneInbound(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM inbound_dedup WHERE received_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, unavailable("prune inbound", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, unavailable("prune inbound rows affected", err)
	}
	return n, nil
}

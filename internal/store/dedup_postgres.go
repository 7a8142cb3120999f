package store

import (
	"database/sql"
	"errors"
	"time"
)

// Compile-time check that PostgresStore implements DedupRepo.
var _ DedupRepo = (*PostgresStore)(nil)

func (s *PostgresStore) IsDuplicate(messageID string) (bool, error) {
	var id string
	err := s.db.QueryRow(`SELECT message_id FROM inbound_dedup WHERE message_id = $1`, messageID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("dedup check", err)
	}
	return true, nil
}

func (s *PostgresStore) RecordInbound(messageID, phone string) (bool, error) {
	result, err := s.db.Exec(
		`INSERT INTO inbound_dedup (message_id, phone, received_at) VALUES ($1, $2, $3) ON CONFLICT (message_id) DO NOTHING`,
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

func (s *PostgresStore) MarkProcessed(messageID string) error {
	_, err := s.db.Exec(
		`UPDATE inbound_dedup SET processed_at = $1 WHERE message_id = $2`,
		time.Now().UTC(), messageID,
	)
	if err != nil {
		return unavailable("mark processed", err)
	}
	return nil
}

func (s *PostgresStore) ReleaseInbound(messageID string) error {
	_, err := s.db.Exec(
		`DELETE FROM inbound_dedup WHERE message_id = $1 AND processed_at IS NULL`,
		messageID,
	)
	if err != nil {
		return unavailable("release inbound", err)
	}
	return nil
}

func (s *PostgresStore) PruneInbound(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM inbound_dedup WHERE received_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, unavailable("prune inbound", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, unavailable("prune inbound rows affected", err)
	}
	return n, nil
}

package store

import (
	"database/sql"
	"fmt"
	"time"
)

// HasProcessedEvent reports whether the given external event ID has already
// been recorded, making webhook redelivery a no-op.
func (s *Store) HasProcessedEvent(eventID string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM webhook_events WHERE id = ?`, eventID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check processed event: %w", err)
	}
	return n > 0, nil
}

// RecordEvent marks an external event as processed. Recording the same event
// twice is harmless; the second insert is ignored.
func (s *Store) RecordEvent(ev WebhookEvent) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO webhook_events (id, type, customer_id, created, outcome, processed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Type, ev.CustomerID, ev.Created, ev.Outcome, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// LatestEventTS returns the `created` timestamp of the newest recorded event
// for a customer, or 0 if none exists. Used to drop out-of-order deliveries.
func (s *Store) LatestEventTS(customerID string) (int64, error) {
	if customerID == "" {
		return 0, nil
	}
	var ts sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(created) FROM webhook_events WHERE customer_id = ?`, customerID).Scan(&ts)
	if err != nil {
		return 0, fmt.Errorf("latest event timestamp: %w", err)
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}

// PruneEvents deletes processed-event records older than the retention
// window. Returns the number of rows removed.
func (s *Store) PruneEvents(olderThan time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM webhook_events WHERE processed_at < ?`, olderThan.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune events rows affected: %w", err)
	}
	return n, nil
}

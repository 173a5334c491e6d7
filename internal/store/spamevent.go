package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/warmup-engine/internal/model"
)

// SpamEventStore persists spam-folder detections and recovery outcomes.
type SpamEventStore struct {
	db *sql.DB
}

// NewSpamEventStore returns a spam event store backed by db.
func NewSpamEventStore(db *sql.DB) *SpamEventStore {
	return &SpamEventStore{db: db}
}

// Record inserts a detection. The (recipient, provider message) pair is
// unique so re-scanning the same spam folder never duplicates events.
// Returns false when the event already existed.
func (s *SpamEventStore) Record(ctx context.Context, e *model.SpamEvent) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO spam_events (message_id, recipient_id, sender_id, provider_msg_id, subject, detected_at, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (recipient_id, provider_msg_id) DO NOTHING`,
		e.MessageID, e.RecipientID, e.SenderID, e.ProviderMsgID, e.Subject, e.DetectedAt, model.SpamDetected)
	if err != nil {
		return false, fmt.Errorf("record spam event: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Pending returns detections still awaiting recovery, bounded by the
// attempt budget so a permanently failing message cannot loop forever.
func (s *SpamEventStore) Pending(ctx context.Context, maxAttempts int) ([]*model.SpamEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message_id, recipient_id, sender_id, provider_msg_id, subject,
		        detected_at, recovered_at, status, recovery_attempts, last_attempt_at, error
		 FROM spam_events
		 WHERE status = 'detected' AND recovery_attempts < $1
		 ORDER BY detected_at ASC`,
		maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("query pending spam events: %w", err)
	}
	defer rows.Close()

	var out []*model.SpamEvent
	for rows.Next() {
		var e model.SpamEvent
		if err := rows.Scan(&e.ID, &e.MessageID, &e.RecipientID, &e.SenderID, &e.ProviderMsgID,
			&e.Subject, &e.DetectedAt, &e.RecoveredAt, &e.Status, &e.RecoveryAttempts,
			&e.LastAttemptAt, &e.Error); err != nil {
			return nil, fmt.Errorf("scan spam event: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// MarkRecovered closes an event after the message was moved back to inbox.
func (s *SpamEventStore) MarkRecovered(ctx context.Context, id int64, at time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE spam_events
		 SET status = 'recovered', recovered_at = $2, recovery_attempts = recovery_attempts + 1,
		     last_attempt_at = $2
		 WHERE id = $1`,
		id, at); err != nil {
		return fmt.Errorf("mark spam event %d recovered: %w", id, err)
	}
	return nil
}

// MarkAttemptFailed records a failed recovery attempt. Once the attempt
// count reaches maxAttempts the event moves to its terminal failed state.
func (s *SpamEventStore) MarkAttemptFailed(ctx context.Context, id int64, cause string, at time.Time, maxAttempts int) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE spam_events
		 SET recovery_attempts = recovery_attempts + 1,
		     last_attempt_at = $2,
		     error = $3,
		     status = CASE WHEN recovery_attempts + 1 >= $4 THEN 'failed' ELSE status END
		 WHERE id = $1`,
		id, at, cause, maxAttempts); err != nil {
		return fmt.Errorf("mark spam event %d attempt failed: %w", id, err)
	}
	return nil
}

// StatsBySenderSince returns detection and recovery counts for one
// sender since the cutoff, for the score's spam component.
func (s *SpamEventStore) StatsBySenderSince(ctx context.Context, senderID int64, since time.Time) (detected, recovered int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(recovered_at)
		 FROM spam_events WHERE sender_id = $1 AND detected_at >= $2`,
		senderID, since).Scan(&detected, &recovered)
	if err != nil {
		return 0, 0, fmt.Errorf("spam stats for sender %d: %w", senderID, err)
	}
	return detected, recovered, nil
}

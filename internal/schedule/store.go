package schedule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/warmup-engine/internal/model"
)

// ErrPlanStarted is returned when a plan replacement is requested after
// the day's plan has already begun sending.
var ErrPlanStarted = errors.New("plan already has sent entries")

// Store persists plan entries.
type Store struct {
	db *sql.DB
}

// NewStore returns a plan store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// HasPlan reports whether any plan entries exist for the sender on the
// given local date.
func (s *Store) HasPlan(ctx context.Context, senderID int64, localDate string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM plan_entries WHERE sender_id = $1 AND local_date = $2`,
		senderID, localDate).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count plan entries: %w", err)
	}
	return n > 0, nil
}

// UpsertPlan installs the day's plan for a sender. An existing plan is
// replaced only while none of its entries have been sent; once the first
// send happens the plan is immutable and ErrPlanStarted is returned.
func (s *Store) UpsertPlan(ctx context.Context, senderID int64, localDate string, entries []model.PlanEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin plan upsert: %w", err)
	}
	defer tx.Rollback()

	var sent int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM plan_entries WHERE sender_id = $1 AND local_date = $2 AND status = 'sent'`,
		senderID, localDate).Scan(&sent)
	if err != nil {
		return fmt.Errorf("check sent entries: %w", err)
	}
	if sent > 0 {
		return ErrPlanStarted
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM plan_entries WHERE sender_id = $1 AND local_date = $2`,
		senderID, localDate); err != nil {
		return fmt.Errorf("clear old plan: %w", err)
	}

	for _, e := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO plan_entries (sender_id, local_date, fire_at, band, status)
			 VALUES ($1, $2, $3, $4, $5)`,
			e.SenderID, e.LocalDate, e.FireAt, e.Band, model.PlanPending); err != nil {
			return fmt.Errorf("insert plan entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit plan: %w", err)
	}
	return nil
}

// DueEntries returns pending entries whose fire time falls inside
// [now-grace, now+window], oldest first. Entries older than the grace
// window are not returned; SkipExpired retires them.
func (s *Store) DueEntries(ctx context.Context, now time.Time, grace, window time.Duration) ([]model.PlanEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender_id, local_date, fire_at, band, status, attempts
		 FROM plan_entries
		 WHERE status = 'pending' AND fire_at >= $1 AND fire_at <= $2
		 ORDER BY fire_at ASC`,
		now.Add(-grace), now.Add(window))
	if err != nil {
		return nil, fmt.Errorf("query due entries: %w", err)
	}
	defer rows.Close()

	var entries []model.PlanEntry
	for rows.Next() {
		var e model.PlanEntry
		if err := rows.Scan(&e.ID, &e.SenderID, &e.LocalDate, &e.FireAt, &e.Band, &e.Status, &e.Attempts); err != nil {
			return nil, fmt.Errorf("scan due entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ClaimTx locks one pending entry for dispatch inside tx. The claimed
// return is false when another dispatcher already holds or finished it.
func (s *Store) ClaimTx(ctx context.Context, tx *sql.Tx, entryID int64) (*model.PlanEntry, bool, error) {
	var e model.PlanEntry
	err := tx.QueryRowContext(ctx,
		`SELECT id, sender_id, local_date, fire_at, band, status, attempts
		 FROM plan_entries
		 WHERE id = $1 AND status = 'pending'
		 FOR UPDATE SKIP LOCKED`,
		entryID).Scan(&e.ID, &e.SenderID, &e.LocalDate, &e.FireAt, &e.Band, &e.Status, &e.Attempts)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("claim entry %d: %w", entryID, err)
	}
	return &e, true, nil
}

// MarkSentTx moves a claimed entry to sent and links the stored message.
func (s *Store) MarkSentTx(ctx context.Context, tx *sql.Tx, entryID, messageID int64) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE plan_entries SET status = 'sent', message_id = $2, updated_at = NOW() WHERE id = $1`,
		entryID, messageID); err != nil {
		return fmt.Errorf("mark entry %d sent: %w", entryID, err)
	}
	return nil
}

// MarkFailed records a failed attempt. The entry stays pending so it can
// be retried until the day's failure budget is exhausted.
func (s *Store) MarkFailed(ctx context.Context, entryID int64, cause string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE plan_entries
		 SET attempts = attempts + 1, last_error = $2, updated_at = NOW()
		 WHERE id = $1`,
		entryID, cause); err != nil {
		return fmt.Errorf("mark entry %d failed: %w", entryID, err)
	}
	return nil
}

// FailEntry moves an entry to its terminal failed state.
func (s *Store) FailEntry(ctx context.Context, entryID int64, cause string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE plan_entries
		 SET status = 'failed', attempts = attempts + 1, last_error = $2, updated_at = NOW()
		 WHERE id = $1`,
		entryID, cause); err != nil {
		return fmt.Errorf("fail entry %d: %w", entryID, err)
	}
	return nil
}

// SkipExpired retires pending entries that fell more than grace behind
// now. Returns the number of entries skipped.
func (s *Store) SkipExpired(ctx context.Context, now time.Time, grace time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE plan_entries
		 SET status = 'skipped', last_error = 'missed fire window', updated_at = NOW()
		 WHERE status = 'pending' AND fire_at < $1`,
		now.Add(-grace))
	if err != nil {
		return 0, fmt.Errorf("skip expired entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// SkipEntry retires one poisoned entry, e.g. a fire time that a DST
// shift moved outside business hours.
func (s *Store) SkipEntry(ctx context.Context, entryID int64, reason string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE plan_entries
		 SET status = 'skipped', last_error = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'`,
		entryID, reason); err != nil {
		return fmt.Errorf("skip entry %d: %w", entryID, err)
	}
	return nil
}

// SkipRemaining retires every still-pending entry for a sender's day.
// Used when the day's failure budget is exhausted.
func (s *Store) SkipRemaining(ctx context.Context, senderID int64, localDate, reason string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE plan_entries
		 SET status = 'skipped', last_error = $3, updated_at = NOW()
		 WHERE sender_id = $1 AND local_date = $2 AND status = 'pending'`,
		senderID, localDate, reason)
	if err != nil {
		return 0, fmt.Errorf("skip remaining entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// AttemptsToday sums failed attempts across a sender's day, the input to
// the per-day failure budget.
func (s *Store) AttemptsToday(ctx context.Context, senderID int64, localDate string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(attempts), 0) FROM plan_entries
		 WHERE sender_id = $1 AND local_date = $2`,
		senderID, localDate).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sum attempts: %w", err)
	}
	return n, nil
}

// StatusCounts returns entry counts by status for a sender's day.
func (s *Store) StatusCounts(ctx context.Context, senderID int64, localDate string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM plan_entries
		 WHERE sender_id = $1 AND local_date = $2
		 GROUP BY status`,
		senderID, localDate)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// EntriesForDay returns a sender's full plan for one local date, for the
// status API.
func (s *Store) EntriesForDay(ctx context.Context, senderID int64, localDate string) ([]model.PlanEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender_id, local_date, fire_at, band, status, attempts
		 FROM plan_entries
		 WHERE sender_id = $1 AND local_date = $2
		 ORDER BY fire_at ASC`,
		senderID, localDate)
	if err != nil {
		return nil, fmt.Errorf("query day plan: %w", err)
	}
	defer rows.Close()

	var entries []model.PlanEntry
	for rows.Next() {
		var e model.PlanEntry
		if err := rows.Scan(&e.ID, &e.SenderID, &e.LocalDate, &e.FireAt, &e.Band, &e.Status, &e.Attempts); err != nil {
			return nil, fmt.Errorf("scan plan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Purge deletes terminal entries older than the cutoff. Pending entries
// are never purged.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM plan_entries
		 WHERE status IN ('sent', 'failed', 'skipped') AND fire_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge plan entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

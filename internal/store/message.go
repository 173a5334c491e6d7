package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/warmup-engine/internal/model"
)

// MessageStore persists sent warmup messages and their engagement marks.
type MessageStore struct {
	db *sql.DB
}

// NewMessageStore returns a message store backed by db.
func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

const messageColumns = `id, sender_id, plan_entry_id, recipient_address, subject, body,
	tracking_id, provider_msg_id, provider_thread_id, recipient_msg_id, recipient_thread_id,
	sent_at, processed_at, opened_at, starred_at, replied_at, star_due_at, reply_due_at,
	open_rate_target, reply_rate_target`

func scanMessage(row interface{ Scan(...any) error }) (*model.Message, error) {
	var m model.Message
	var providerMsgID, providerThreadID, recipMsgID, recipThreadID sql.NullString
	err := row.Scan(&m.ID, &m.SenderID, &m.PlanEntryID, &m.RecipientAddress, &m.Subject, &m.Body,
		&m.TrackingID, &providerMsgID, &providerThreadID, &recipMsgID, &recipThreadID,
		&m.SentAt, &m.ProcessedAt, &m.OpenedAt, &m.StarredAt, &m.RepliedAt,
		&m.StarDueAt, &m.ReplyDueAt, &m.OpenRateTarget, &m.ReplyRateTarget)
	if err != nil {
		return nil, err
	}
	m.ProviderMsgID = providerMsgID.String
	m.ProviderThreadID = providerThreadID.String
	m.RecipientMsgID = recipMsgID.String
	m.RecipientThreadID = recipThreadID.String
	return &m, nil
}

// InsertTx stores a sent message inside the dispatch transaction so the
// message row and the plan entry's sent mark commit together.
func (s *MessageStore) InsertTx(ctx context.Context, tx *sql.Tx, m *model.Message) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		`INSERT INTO messages (sender_id, plan_entry_id, recipient_address, subject, body,
			tracking_id, provider_msg_id, provider_thread_id, sent_at,
			open_rate_target, reply_rate_target)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		m.SenderID, m.PlanEntryID, m.RecipientAddress, m.Subject, m.Body,
		m.TrackingID, m.ProviderMsgID, m.ProviderThreadID, m.SentAt,
		m.OpenRateTarget, m.ReplyRateTarget).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	return id, nil
}

// Unprocessed returns messages the engagement simulator has not decided
// yet, at least minAge old so the mail has landed at the provider.
func (s *MessageStore) Unprocessed(ctx context.Context, now time.Time, minAge time.Duration, limit int) ([]*model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE processed_at IS NULL AND sent_at < $1
		 ORDER BY sent_at ASC
		 LIMIT $2`,
		now.Add(-minAge), limit)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// DueStars returns opened messages whose scheduled star time has passed.
func (s *MessageStore) DueStars(ctx context.Context, now time.Time) ([]*model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE star_due_at IS NOT NULL AND star_due_at <= $1 AND starred_at IS NULL
		 ORDER BY star_due_at ASC`,
		now)
	if err != nil {
		return nil, fmt.Errorf("query due stars: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// DueReplies returns opened messages whose scheduled reply time has passed.
func (s *MessageStore) DueReplies(ctx context.Context, now time.Time) ([]*model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE reply_due_at IS NOT NULL AND reply_due_at <= $1 AND replied_at IS NULL
		 ORDER BY reply_due_at ASC`,
		now)
	if err != nil {
		return nil, fmt.Errorf("query due replies: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func collectMessages(rows *sql.Rows) ([]*model.Message, error) {
	var out []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkProcessed stamps the engagement decision for a message: opened_at
// when the mail was opened (nil for a skip), the recipient-side provider
// ids, plus the deferred star and reply times drawn at open time.
func (s *MessageStore) MarkProcessed(ctx context.Context, id int64, openedAt, starDueAt, replyDueAt *time.Time, recipMsgID, recipThreadID string, now time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE messages
		 SET processed_at = $2, opened_at = $3, star_due_at = $4, reply_due_at = $5,
		     recipient_msg_id = $6, recipient_thread_id = $7
		 WHERE id = $1 AND processed_at IS NULL`,
		id, now, nullable(openedAt), nullable(starDueAt), nullable(replyDueAt),
		recipMsgID, recipThreadID); err != nil {
		return fmt.Errorf("mark message %d processed: %w", id, err)
	}
	return nil
}

// MarkStarred stamps a completed star action.
func (s *MessageStore) MarkStarred(ctx context.Context, id int64, at time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE messages SET starred_at = $2 WHERE id = $1 AND starred_at IS NULL`,
		id, at); err != nil {
		return fmt.Errorf("mark message %d starred: %w", id, err)
	}
	return nil
}

// MarkReplied stamps a completed reply.
func (s *MessageStore) MarkReplied(ctx context.Context, id int64, at time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE messages SET replied_at = $2 WHERE id = $1 AND replied_at IS NULL`,
		id, at); err != nil {
		return fmt.Errorf("mark message %d replied: %w", id, err)
	}
	return nil
}

// GetByTracking looks a message up by its tracking id, used to correlate
// inbound replies and spam hits back to the originating send.
func (s *MessageStore) GetByTracking(ctx context.Context, trackingID string) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE tracking_id = $1`, trackingID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message by tracking id: %w", err)
	}
	return m, nil
}

// GetBySenderThread finds the original send in a provider thread, used
// by the reply matcher to correlate an inbound reply.
func (s *MessageStore) GetBySenderThread(ctx context.Context, senderID int64, threadID string) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE sender_id = $1 AND provider_thread_id = $2
		 ORDER BY sent_at ASC LIMIT 1`,
		senderID, threadID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message by thread: %w", err)
	}
	return m, nil
}

// UnrepliedTo returns a sender's most recent sends to one recipient that
// have no reply stamped yet, newest first. The reply matcher scans these
// when a reply arrives outside the original provider thread.
func (s *MessageStore) UnrepliedTo(ctx context.Context, senderID int64, recipientAddr string, limit int) ([]*model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE sender_id = $1 AND recipient_address = $2 AND replied_at IS NULL
		 ORDER BY sent_at DESC
		 LIMIT $3`,
		senderID, recipientAddr, limit)
	if err != nil {
		return nil, fmt.Errorf("query unreplied messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// EngagementStats holds a sender's counts over the score window.
type EngagementStats struct {
	Sent    int
	Opened  int
	Replied int
}

// StatsSince returns send/open/reply counts for one sender since the
// cutoff, the raw input to the reputation score.
func (s *MessageStore) StatsSince(ctx context.Context, senderID int64, since time.Time) (EngagementStats, error) {
	var st EngagementStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COUNT(opened_at),
		        COUNT(replied_at)
		 FROM messages
		 WHERE sender_id = $1 AND sent_at >= $2`,
		senderID, since).Scan(&st.Sent, &st.Opened, &st.Replied)
	if err != nil {
		return EngagementStats{}, fmt.Errorf("message stats for sender %d: %w", senderID, err)
	}
	return st, nil
}

// SentToday counts a sender's sends on one local date via the plan link.
func (s *MessageStore) SentToday(ctx context.Context, senderID int64, localDate string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages m
		 JOIN plan_entries p ON p.id = m.plan_entry_id
		 WHERE m.sender_id = $1 AND p.local_date = $2`,
		senderID, localDate).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count today's sends: %w", err)
	}
	return n, nil
}

func nullable(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

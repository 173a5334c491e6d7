package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/warmup-engine/internal/model"
)

// MailboxStore persists mailbox accounts and their warmup state.
type MailboxStore struct {
	db *sql.DB
}

// NewMailboxStore returns a mailbox store backed by db.
func NewMailboxStore(db *sql.DB) *MailboxStore {
	return &MailboxStore{db: db}
}

const mailboxColumns = `id, email, provider, role, credentials, active, needs_reauth, tz,
	target, warmup_day, daily_limit, open_rate_target, reply_rate_target, score,
	last_advance_date, created_at, updated_at`

func scanMailbox(row interface{ Scan(...any) error }) (*model.Mailbox, error) {
	var m model.Mailbox
	var creds string
	err := row.Scan(&m.ID, &m.Email, &m.Provider, &m.Role, &creds, &m.Active, &m.NeedsReauth,
		&m.TZ, &m.Target, &m.WarmupDay, &m.DailyLimit, &m.OpenRateTarget, &m.ReplyRateTarget,
		&m.Score, &m.LastAdvanceDate, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if creds != "" && creds != "{}" {
		c, err := model.ParseCredentials(creds)
		if err != nil {
			return nil, fmt.Errorf("mailbox %d: %w", m.ID, err)
		}
		m.Credentials = c
	}
	return &m, nil
}

// Get returns one mailbox by id.
func (s *MailboxStore) Get(ctx context.Context, id int64) (*model.Mailbox, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+mailboxColumns+` FROM mailboxes WHERE id = $1`, id)
	m, err := scanMailbox(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("mailbox %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get mailbox %d: %w", id, err)
	}
	return m, nil
}

// GetByEmail returns one mailbox by address.
func (s *MailboxStore) GetByEmail(ctx context.Context, email string) (*model.Mailbox, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+mailboxColumns+` FROM mailboxes WHERE email = $1`, email)
	m, err := scanMailbox(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mailbox by email: %w", err)
	}
	return m, nil
}

func (s *MailboxStore) listByRole(ctx context.Context, role string, activeOnly bool) ([]*model.Mailbox, error) {
	q := `SELECT ` + mailboxColumns + ` FROM mailboxes WHERE role = $1`
	if activeOnly {
		q += ` AND active = TRUE AND needs_reauth = FALSE`
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q, role)
	if err != nil {
		return nil, fmt.Errorf("list %s mailboxes: %w", role, err)
	}
	defer rows.Close()

	var out []*model.Mailbox
	for rows.Next() {
		m, err := scanMailbox(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mailbox: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ActiveSenders returns the senders eligible for planning and dispatch.
func (s *MailboxStore) ActiveSenders(ctx context.Context) ([]*model.Mailbox, error) {
	return s.listByRole(ctx, model.RoleSender, true)
}

// ActiveRecipients returns the recipient pool available for sends.
func (s *MailboxStore) ActiveRecipients(ctx context.Context) ([]*model.Mailbox, error) {
	return s.listByRole(ctx, model.RoleRecipient, true)
}

// All returns every mailbox regardless of state, for the admin API.
func (s *MailboxStore) All(ctx context.Context) ([]*model.Mailbox, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+mailboxColumns+` FROM mailboxes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list mailboxes: %w", err)
	}
	defer rows.Close()

	var out []*model.Mailbox
	for rows.Next() {
		m, err := scanMailbox(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mailbox: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Create inserts a mailbox and returns its id.
func (s *MailboxStore) Create(ctx context.Context, m *model.Mailbox) (int64, error) {
	creds, err := m.Credentials.Marshal()
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO mailboxes (email, provider, role, credentials, active, tz, target,
			warmup_day, daily_limit, open_rate_target, reply_rate_target)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		m.Email, m.Provider, m.Role, creds, m.Active, m.TZ, m.Target,
		m.WarmupDay, m.DailyLimit, m.OpenRateTarget, m.ReplyRateTarget).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create mailbox: %w", err)
	}
	return id, nil
}

// UpdateCredentials stores a refreshed token bundle.
func (s *MailboxStore) UpdateCredentials(ctx context.Context, id int64, c model.Credentials) error {
	creds, err := c.Marshal()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE mailboxes SET credentials = $2, needs_reauth = FALSE, updated_at = NOW() WHERE id = $1`,
		id, creds); err != nil {
		return fmt.Errorf("update credentials for mailbox %d: %w", id, err)
	}
	return nil
}

// MarkNeedsReauth sidelines a mailbox whose refresh token is dead. The
// account is excluded from all work until a human re-authorizes it.
func (s *MailboxStore) MarkNeedsReauth(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE mailboxes SET needs_reauth = TRUE, updated_at = NOW() WHERE id = $1`,
		id); err != nil {
		return fmt.Errorf("mark mailbox %d needs reauth: %w", id, err)
	}
	return nil
}

// SetActive pauses or resumes a mailbox.
func (s *MailboxStore) SetActive(ctx context.Context, id int64, active bool) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE mailboxes SET active = $2, updated_at = NOW() WHERE id = $1`,
		id, active); err != nil {
		return fmt.Errorf("set mailbox %d active=%v: %w", id, active, err)
	}
	return nil
}

// AdvanceDay bumps a sender's warmup day and daily limit, guarded so two
// hosts advancing concurrently cannot double-advance: the update applies
// only if the row still holds the old day and has not advanced today.
func (s *MailboxStore) AdvanceDay(ctx context.Context, id int64, oldDay, newDay, newLimit int, today time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE mailboxes
		 SET warmup_day = $3, daily_limit = $4, last_advance_date = $5, updated_at = NOW()
		 WHERE id = $1 AND warmup_day = $2
		   AND (last_advance_date IS NULL OR last_advance_date < $5)`,
		id, oldDay, newDay, newLimit, today.Format("2006-01-02"))
	if err != nil {
		return false, fmt.Errorf("advance mailbox %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// UpdateScore stores a freshly computed reputation score.
func (s *MailboxStore) UpdateScore(ctx context.Context, id int64, score float64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE mailboxes SET score = $2, updated_at = NOW() WHERE id = $1`,
		id, score); err != nil {
		return fmt.Errorf("update score for mailbox %d: %w", id, err)
	}
	return nil
}

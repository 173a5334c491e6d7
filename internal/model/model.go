// Package model defines the persistent entities shared by every engine
// component: mailboxes, plan entries, sent messages and spam events.
package model

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Mailbox roles. Senders are warmed; recipients only engage.
const (
	RoleSender    = "sender"
	RoleRecipient = "recipient"
)

// Providers.
const (
	ProviderGmail = "gmail"
	ProviderOther = "other"
)

// PlanEntry statuses. Transitions are one-way: pending -> sent|failed|skipped.
const (
	PlanPending = "pending"
	PlanSent    = "sent"
	PlanFailed  = "failed"
	PlanSkipped = "skipped"
)

// SpamEvent statuses.
const (
	SpamDetected  = "detected"
	SpamRecovered = "recovered"
	SpamFailed    = "failed"
)

// Credentials is the typed OAuth token bundle. The engine treats it as
// opaque except for expiry checks; it is serialized to a single JSON
// column at the persistence edge and must never be logged.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	Scopes       []string  `json:"scopes"`
}

// Expired reports whether the access token has expired as of now, with a
// one-minute safety margin so a token never dies mid-request.
func (c Credentials) Expired(now time.Time) bool {
	if c.Expiry.IsZero() {
		return false
	}
	return !now.Before(c.Expiry.Add(-time.Minute))
}

// Marshal serializes the bundle for storage.
func (c Credentials) Marshal() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal credentials: %w", err)
	}
	return string(b), nil
}

// ParseCredentials deserializes a stored bundle.
func ParseCredentials(raw string) (Credentials, error) {
	var c Credentials
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return Credentials{}, fmt.Errorf("parse credentials: %w", err)
	}
	return c, nil
}

// Mailbox is an email account the system controls.
type Mailbox struct {
	ID          int64
	Email       string
	Provider    string
	Role        string
	Credentials Credentials
	Active      bool
	NeedsReauth bool
	TZ          string

	// Warmup state, meaningful for senders only.
	Target          int
	WarmupDay       int
	DailyLimit      int
	OpenRateTarget  float64
	ReplyRateTarget float64
	Score           float64
	LastAdvanceDate sql.NullTime

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsSender reports whether this mailbox is being warmed.
func (m *Mailbox) IsSender() bool { return m.Role == RoleSender }

// PlanEntry is one intended send: an absolute fire time inside the
// sender's business hours on one local calendar day.
type PlanEntry struct {
	ID        int64
	SenderID  int64
	LocalDate string // YYYY-MM-DD in the sender's zone
	FireAt    time.Time
	Band      string
	Status    string
	MessageID sql.NullInt64
	Attempts  int
	LastError sql.NullString
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one sent warmup email. The sender's engagement policy is
// snapshotted onto the row at send time so recipient-side simulation uses
// the rates that existed when the mail was produced.
type Message struct {
	ID               int64
	SenderID         int64
	PlanEntryID      int64
	RecipientAddress string
	Subject          string
	Body             string
	TrackingID       string
	ProviderMsgID    string
	ProviderThreadID string
	// RecipientMsgID/RecipientThreadID identify the recipient's copy of
	// the mail at the provider, captured when the open is simulated. The
	// star and reply actions need them because the recipient's copy has
	// different provider ids than the sender's.
	RecipientMsgID    string
	RecipientThreadID string
	SentAt            time.Time
	ProcessedAt       sql.NullTime
	OpenedAt          sql.NullTime
	StarredAt         sql.NullTime
	RepliedAt         sql.NullTime
	StarDueAt         sql.NullTime
	ReplyDueAt        sql.NullTime
	OpenRateTarget    float64
	ReplyRateTarget   float64
}

// SpamEvent records one detection of a warmup mail in a recipient's spam
// folder and the outcome of the recovery attempt.
type SpamEvent struct {
	ID               int64
	MessageID        sql.NullInt64
	RecipientID      int64
	SenderID         int64
	ProviderMsgID    string
	Subject          string
	DetectedAt       time.Time
	RecoveredAt      sql.NullTime
	Status           string
	RecoveryAttempts int
	LastAttemptAt    sql.NullTime
	Error            sql.NullString
}

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" -> "jo***@example.com".
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// NormalizeSubject strips any number of leading "Re:" prefixes so a reply
// subject can be matched against the original.
func NormalizeSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		lower := strings.ToLower(s)
		if !strings.HasPrefix(lower, "re:") {
			return s
		}
		s = strings.TrimSpace(s[3:])
	}
}

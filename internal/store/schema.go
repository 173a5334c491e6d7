// Package store holds the shared Postgres repositories for mailboxes,
// messages and spam events, plus the schema migration applied at startup.
package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema is the full DDL for the engine. Every statement is idempotent so
// the migration can run on every boot.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS mailboxes (
		id BIGSERIAL PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		provider TEXT NOT NULL DEFAULT 'gmail',
		role TEXT NOT NULL CHECK (role IN ('sender', 'recipient')),
		credentials JSONB NOT NULL DEFAULT '{}',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		needs_reauth BOOLEAN NOT NULL DEFAULT FALSE,
		tz TEXT NOT NULL DEFAULT 'UTC',
		target INTEGER NOT NULL DEFAULT 0,
		warmup_day INTEGER NOT NULL DEFAULT 0,
		daily_limit INTEGER NOT NULL DEFAULT 0,
		open_rate_target DOUBLE PRECISION NOT NULL DEFAULT 0.80,
		reply_rate_target DOUBLE PRECISION NOT NULL DEFAULT 0.30,
		score DOUBLE PRECISION NOT NULL DEFAULT 0,
		last_advance_date DATE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS plan_entries (
		id BIGSERIAL PRIMARY KEY,
		sender_id BIGINT NOT NULL REFERENCES mailboxes(id),
		local_date TEXT NOT NULL,
		fire_at TIMESTAMPTZ NOT NULL,
		band TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		message_id BIGINT,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_plan_entries_sender_date ON plan_entries(sender_id, local_date)`,
	`CREATE INDEX IF NOT EXISTS idx_plan_entries_status_fire ON plan_entries(status, fire_at)`,

	`CREATE TABLE IF NOT EXISTS messages (
		id BIGSERIAL PRIMARY KEY,
		sender_id BIGINT NOT NULL REFERENCES mailboxes(id),
		plan_entry_id BIGINT NOT NULL REFERENCES plan_entries(id),
		recipient_address TEXT NOT NULL,
		subject TEXT NOT NULL,
		body TEXT NOT NULL,
		tracking_id TEXT NOT NULL UNIQUE,
		provider_msg_id TEXT,
		provider_thread_id TEXT,
		recipient_msg_id TEXT,
		recipient_thread_id TEXT,
		sent_at TIMESTAMPTZ NOT NULL,
		processed_at TIMESTAMPTZ,
		opened_at TIMESTAMPTZ,
		starred_at TIMESTAMPTZ,
		replied_at TIMESTAMPTZ,
		star_due_at TIMESTAMPTZ,
		reply_due_at TIMESTAMPTZ,
		open_rate_target DOUBLE PRECISION NOT NULL DEFAULT 0.80,
		reply_rate_target DOUBLE PRECISION NOT NULL DEFAULT 0.30
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_sender_provider
		ON messages(sender_id, provider_msg_id) WHERE provider_msg_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_messages_sender_sent ON messages(sender_id, sent_at)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_unprocessed ON messages(processed_at) WHERE processed_at IS NULL`,

	`CREATE TABLE IF NOT EXISTS spam_events (
		id BIGSERIAL PRIMARY KEY,
		message_id BIGINT REFERENCES messages(id),
		recipient_id BIGINT NOT NULL REFERENCES mailboxes(id),
		sender_id BIGINT NOT NULL REFERENCES mailboxes(id),
		provider_msg_id TEXT NOT NULL,
		subject TEXT,
		detected_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		recovered_at TIMESTAMPTZ,
		status TEXT NOT NULL DEFAULT 'detected',
		recovery_attempts INTEGER NOT NULL DEFAULT 0,
		last_attempt_at TIMESTAMPTZ,
		error TEXT,
		UNIQUE (recipient_id, provider_msg_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_spam_events_status ON spam_events(status)`,
}

// Migrate applies the schema. Safe to run on every startup.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}

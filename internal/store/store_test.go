package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ignite/warmup-engine/internal/model"
)

func newMock(t *testing.T) (*MailboxStore, *MessageStore, *SpamEventStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewMailboxStore(db), NewMessageStore(db), NewSpamEventStore(db), mock
}

func TestAdvanceDayGuards(t *testing.T) {
	mailboxes, _, _, mock := newMock(t)
	today := time.Date(2025, 10, 7, 0, 0, 0, 0, time.UTC)

	// First advance applies.
	mock.ExpectExec(`UPDATE mailboxes`).
		WithArgs(int64(1), 3, 4, 12, "2025-10-07").
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := mailboxes.AdvanceDay(context.Background(), 1, 3, 4, 12, today)
	if err != nil {
		t.Fatalf("AdvanceDay: %v", err)
	}
	if !ok {
		t.Error("first advance should apply")
	}

	// A concurrent second advance matches zero rows.
	mock.ExpectExec(`UPDATE mailboxes`).
		WithArgs(int64(1), 3, 4, 12, "2025-10-07").
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = mailboxes.AdvanceDay(context.Background(), 1, 3, 4, 12, today)
	if err != nil {
		t.Fatalf("AdvanceDay: %v", err)
	}
	if ok {
		t.Error("second advance should be a no-op")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMarkProcessedSkip(t *testing.T) {
	_, messages, _, mock := newMock(t)
	now := time.Date(2025, 10, 6, 15, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE messages`).
		WithArgs(int64(9), now, nil, nil, nil, "", "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := messages.MarkProcessed(context.Background(), 9, nil, nil, nil, "", "", now); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMarkProcessedOpenWithDeferredActions(t *testing.T) {
	_, messages, _, mock := newMock(t)
	now := time.Date(2025, 10, 6, 15, 0, 0, 0, time.UTC)
	opened := now
	starDue := now.Add(60 * time.Second)
	replyDue := now.Add(12 * time.Minute)

	mock.ExpectExec(`UPDATE messages`).
		WithArgs(int64(9), now, opened, starDue, replyDue, "prov-r1", "thread-r1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := messages.MarkProcessed(context.Background(), 9, &opened, &starDue, &replyDue, "prov-r1", "thread-r1", now); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestStatsSince(t *testing.T) {
	_, messages, _, mock := newMock(t)
	since := time.Date(2025, 9, 6, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WithArgs(int64(2), since).
		WillReturnRows(sqlmock.NewRows([]string{"sent", "opened", "replied"}).AddRow(100, 82, 31))

	st, err := messages.StatsSince(context.Background(), 2, since)
	if err != nil {
		t.Fatalf("StatsSince: %v", err)
	}
	if st.Sent != 100 || st.Opened != 82 || st.Replied != 31 {
		t.Errorf("stats = %+v", st)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSpamEventRecordDedupes(t *testing.T) {
	_, _, spam, mock := newMock(t)
	detected := time.Date(2025, 10, 6, 16, 0, 0, 0, time.UTC)
	event := &model.SpamEvent{
		RecipientID:   5,
		SenderID:      2,
		ProviderMsgID: "prov-123",
		Subject:       "Quick question",
		DetectedAt:    detected,
	}

	mock.ExpectExec(`INSERT INTO spam_events`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	inserted, err := spam.Record(context.Background(), event)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !inserted {
		t.Error("first record should insert")
	}

	// Re-scan of the same folder hits the unique constraint.
	mock.ExpectExec(`INSERT INTO spam_events`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	inserted, err = spam.Record(context.Background(), event)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if inserted {
		t.Error("duplicate record should be a no-op")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSchemaKeepsMessagesUniquePerProvider(t *testing.T) {
	// A sender can hold each provider message id at most once, so a
	// crash-retry of a dispatch can never record the same send twice.
	for _, stmt := range Schema {
		if strings.Contains(stmt, "UNIQUE INDEX") &&
			strings.Contains(stmt, "messages(sender_id, provider_msg_id)") {
			return
		}
	}
	t.Error("messages schema lacks the unique (sender_id, provider_msg_id) index")
}

func TestSpamAttemptBudget(t *testing.T) {
	_, _, spam, mock := newMock(t)
	at := time.Date(2025, 10, 6, 17, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE spam_events`).
		WithArgs(int64(7), at, "modify failed: 503", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := spam.MarkAttemptFailed(context.Background(), 7, "modify failed: 503", at, 3); err != nil {
		t.Fatalf("MarkAttemptFailed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

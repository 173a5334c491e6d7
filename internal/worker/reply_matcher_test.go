package worker

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ignite/warmup-engine/internal/clock"
	"github.com/ignite/warmup-engine/internal/mailer"
	"github.com/ignite/warmup-engine/internal/model"
)

func testMatcher(t *testing.T) (*ReplyMatcher, sqlmock.Sqlmock, *fakeClient) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	fc := newFakeClient()
	clk := clock.FixedClock{T: time.Date(2025, 10, 6, 12, 0, 0, 0, time.UTC)}
	return NewReplyMatcher(db, staticFactory(fc), testConfig(), clk), mock, fc
}

var messageCols = []string{
	"id", "sender_id", "plan_entry_id", "recipient_address", "subject", "body",
	"tracking_id", "provider_msg_id", "provider_thread_id", "recipient_msg_id", "recipient_thread_id",
	"sent_at", "processed_at", "opened_at", "starred_at", "replied_at", "star_due_at", "reply_due_at",
	"open_rate_target", "reply_rate_target",
}

func unrepliedRow(id int64, subject string) *sqlmock.Rows {
	return sqlmock.NewRows(messageCols).AddRow(
		id, int64(1), int64(2), "rec@example.com", subject, "body",
		"trk-5", "pm-1", "th-1", "", "",
		time.Date(2025, 10, 6, 10, 0, 0, 0, time.UTC), nil, nil, nil, nil, nil, nil,
		0.8, 0.3)
}

func TestMatchOneFallsBackToSubject(t *testing.T) {
	m, mock, fc := testMatcher(t)

	// The reply landed in a new thread, so the thread lookup misses and
	// the normalized subject identifies the original send.
	mock.ExpectQuery(`provider_thread_id`).
		WithArgs(int64(1), "th-new").
		WillReturnRows(sqlmock.NewRows(messageCols))
	mock.ExpectQuery(`replied_at IS NULL`).
		WithArgs(int64(1), "rec@example.com", replyMatchWindow).
		WillReturnRows(unrepliedRow(5, "Quick question about onboarding"))
	mock.ExpectExec(`UPDATE messages SET replied_at`).
		WithArgs(int64(5), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	sender := &model.Mailbox{ID: 1, Email: "sender@example.com"}
	recipient := &model.Mailbox{ID: 2, Email: "rec@example.com"}
	in := mailer.InboundMail{
		ProviderMsgID:    "pm-9",
		ProviderThreadID: "th-new",
		Subject:          "Re: Re: quick question about onboarding",
	}

	if err := m.matchOne(context.Background(), fc, sender, recipient, in); err != nil {
		t.Fatalf("matchOne: %v", err)
	}
	if len(fc.read) != 1 || fc.read[0] != "pm-9" {
		t.Errorf("reply should be marked read, got %v", fc.read)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMatchOneLeavesUnrelatedMailAlone(t *testing.T) {
	m, mock, fc := testMatcher(t)

	mock.ExpectQuery(`provider_thread_id`).
		WithArgs(int64(1), "th-other").
		WillReturnRows(sqlmock.NewRows(messageCols))
	mock.ExpectQuery(`replied_at IS NULL`).
		WithArgs(int64(1), "rec@example.com", replyMatchWindow).
		WillReturnRows(unrepliedRow(5, "Quick question about onboarding"))

	sender := &model.Mailbox{ID: 1, Email: "sender@example.com"}
	recipient := &model.Mailbox{ID: 2, Email: "rec@example.com"}
	in := mailer.InboundMail{
		ProviderMsgID:    "pm-10",
		ProviderThreadID: "th-other",
		Subject:          "Totally unrelated newsletter",
	}

	if err := m.matchOne(context.Background(), fc, sender, recipient, in); err != nil {
		t.Fatalf("matchOne: %v", err)
	}
	if len(fc.read) != 0 {
		t.Errorf("unrelated mail must stay untouched, got reads %v", fc.read)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

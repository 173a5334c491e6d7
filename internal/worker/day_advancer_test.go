package worker

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ignite/warmup-engine/internal/clock"
	"github.com/ignite/warmup-engine/internal/model"
)

func testAdvancer(t *testing.T, clk clock.Clock) (*DayAdvancer, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewDayAdvancer(db, nil, testConfig(), clk), mock
}

func TestAdvanceRunsOnWeekend(t *testing.T) {
	clk := clock.FixedClock{T: time.Date(2025, 10, 4, 12, 0, 0, 0, time.UTC)} // Saturday
	a, mock := testAdvancer(t, clk)

	// Warmup days are calendar days: a sender last advanced on Friday
	// still moves to day 4 on Saturday even though nothing is planned.
	mock.ExpectExec(`UPDATE mailboxes`).
		WithArgs(int64(1), 3, 4, 5, "2025-10-04").
		WillReturnResult(sqlmock.NewResult(0, 1))

	sender := &model.Mailbox{
		ID: 1, Email: "s@example.com", TZ: "UTC", WarmupDay: 3, Target: 50,
		LastAdvanceDate: sql.NullTime{Time: time.Date(2025, 10, 3, 0, 0, 0, 0, time.UTC), Valid: true},
	}
	if err := a.advance(context.Background(), sender); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAdvanceSkipsAlreadyAdvancedToday(t *testing.T) {
	clk := clock.FixedClock{T: time.Date(2025, 10, 6, 12, 0, 0, 0, time.UTC)} // Monday
	a, mock := testAdvancer(t, clk)

	sender := &model.Mailbox{
		ID: 1, Email: "s@example.com", TZ: "UTC", WarmupDay: 4, Target: 50,
		LastAdvanceDate: sql.NullTime{Time: time.Date(2025, 10, 6, 0, 0, 0, 0, time.UTC), Valid: true},
	}
	if err := a.advance(context.Background(), sender); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAdvanceBumpsDayAndLimit(t *testing.T) {
	clk := clock.FixedClock{T: time.Date(2025, 10, 6, 12, 0, 0, 0, time.UTC)} // Monday
	a, mock := testAdvancer(t, clk)

	// Day 7 -> 8 crosses into phase 2: limit becomes 25% of 50.
	mock.ExpectExec(`UPDATE mailboxes`).
		WithArgs(int64(1), 7, 8, 12, "2025-10-06").
		WillReturnResult(sqlmock.NewResult(0, 1))

	sender := &model.Mailbox{ID: 1, Email: "s@example.com", TZ: "UTC", WarmupDay: 7, Target: 50}
	if err := a.advance(context.Background(), sender); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAdvanceLosingCASIsQuiet(t *testing.T) {
	clk := clock.FixedClock{T: time.Date(2025, 10, 6, 12, 0, 0, 0, time.UTC)}
	a, mock := testAdvancer(t, clk)

	mock.ExpectExec(`UPDATE mailboxes`).
		WithArgs(int64(1), 3, 4, 5, "2025-10-06").
		WillReturnResult(sqlmock.NewResult(0, 0))

	sender := &model.Mailbox{ID: 1, Email: "s@example.com", TZ: "UTC", WarmupDay: 3, Target: 50}
	if err := a.advance(context.Background(), sender); err != nil {
		t.Fatalf("advance should tolerate losing the conditional update: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ignite/warmup-engine/internal/clock"
	"github.com/ignite/warmup-engine/internal/config"
)

func testServer(t *testing.T) (*Server, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{}
	cfg.Server.Host = "localhost"
	cfg.Server.Port = 0
	clk := clock.FixedClock{T: time.Date(2025, 10, 6, 12, 0, 0, 0, time.UTC)}
	return NewServer(db, nil, cfg, clk), mock
}

func TestHealth(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestListMailboxesRedactsEmails(t *testing.T) {
	s, mock := testServer(t)

	cols := []string{"id", "email", "provider", "role", "credentials", "active", "needs_reauth", "tz",
		"target", "warmup_day", "daily_limit", "open_rate_target", "reply_rate_target", "score",
		"last_advance_date", "created_at", "updated_at"}
	now := time.Now()
	mock.ExpectQuery(`SELECT .+ FROM mailboxes ORDER BY id`).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(1, "warmup.sender@example.com", "gmail", "sender", "{}", true, false, "UTC",
				50, 10, 12, 0.8, 0.3, 78.5, nil, now, now))

	req := httptest.NewRequest(http.MethodGet, "/api/mailboxes", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var views []mailboxView
	if err := json.NewDecoder(rec.Body).Decode(&views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("got %d mailboxes", len(views))
	}
	if views[0].Email != "wa***@example.com" {
		t.Errorf("email not redacted: %q", views[0].Email)
	}
	if views[0].WarmupDay != 10 || views[0].Score != 78.5 {
		t.Errorf("sender fields wrong: %+v", views[0])
	}
}

func TestPauseMailbox(t *testing.T) {
	s, mock := testServer(t)

	cols := []string{"id", "email", "provider", "role", "credentials", "active", "needs_reauth", "tz",
		"target", "warmup_day", "daily_limit", "open_rate_target", "reply_rate_target", "score",
		"last_advance_date", "created_at", "updated_at"}
	now := time.Now()
	mock.ExpectQuery(`SELECT .+ FROM mailboxes WHERE id`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(3, "s@example.com", "gmail", "sender", "{}", true, false, "UTC",
				50, 1, 5, 0.8, 0.3, 0.0, nil, now, now))
	mock.ExpectExec(`UPDATE mailboxes SET active`).
		WithArgs(int64(3), false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := httptest.NewRequest(http.MethodPost, "/api/mailboxes/3/pause", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPlanBadID(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/mailboxes/abc/plan", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

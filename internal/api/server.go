// Package api exposes the admin and analytics HTTP surface: mailbox
// listing, pause/resume, score reports and today's plan.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/warmup-engine/internal/clock"
	"github.com/ignite/warmup-engine/internal/config"
	"github.com/ignite/warmup-engine/internal/model"
	"github.com/ignite/warmup-engine/internal/phase"
	"github.com/ignite/warmup-engine/internal/schedule"
	"github.com/ignite/warmup-engine/internal/store"
	"github.com/ignite/warmup-engine/internal/worker"
)

// Server is the admin HTTP server.
type Server struct {
	mailboxes *store.MailboxStore
	plans     *schedule.Store
	scores    *worker.ScoreWorker
	cfg       *config.Config
	clk       clock.Clock
	httpSrv   *http.Server
}

// NewServer builds the server.
func NewServer(db *sql.DB, scores *worker.ScoreWorker, cfg *config.Config, clk clock.Clock) *Server {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Server{
		mailboxes: store.NewMailboxStore(db),
		plans:     schedule.NewStore(db),
		scores:    scores,
		cfg:       cfg,
		clk:       clk,
	}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/mailboxes", s.handleListMailboxes)
		r.Post("/mailboxes/{id}/pause", s.handleSetActive(false))
		r.Post("/mailboxes/{id}/resume", s.handleSetActive(true))
		r.Get("/mailboxes/{id}/score", s.handleScore)
		r.Get("/mailboxes/{id}/plan", s.handlePlan)
		r.Get("/summary", s.handleSummary)
	})
	return r
}

// Start begins serving in the background.
func (s *Server) Start() {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpSrv = &http.Server{Addr: addr, Handler: s.Router()}
	go func() {
		log.Printf("[API] Listening on %s", addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[API] Server failed: %v", err)
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] Encode response failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type mailboxView struct {
	ID         int64   `json:"id"`
	Email      string  `json:"email"`
	Provider   string  `json:"provider"`
	Role       string  `json:"role"`
	Active     bool    `json:"active"`
	NeedsAuth  bool    `json:"needs_reauth"`
	TZ         string  `json:"tz"`
	WarmupDay  int     `json:"warmup_day,omitempty"`
	Phase      string  `json:"phase,omitempty"`
	DailyLimit int     `json:"daily_limit,omitempty"`
	Score      float64 `json:"score,omitempty"`
}

func (s *Server) handleListMailboxes(w http.ResponseWriter, r *http.Request) {
	all, err := s.mailboxes.All(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]mailboxView, 0, len(all))
	for _, m := range all {
		v := mailboxView{
			ID:        m.ID,
			Email:     model.RedactEmail(m.Email),
			Provider:  m.Provider,
			Role:      m.Role,
			Active:    m.Active,
			NeedsAuth: m.NeedsReauth,
			TZ:        m.TZ,
		}
		if m.IsSender() {
			v.WarmupDay = m.WarmupDay
			v.Phase = phase.Describe(m.WarmupDay)
			v.DailyLimit = m.DailyLimit
			v.Score = m.Score
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) mailboxFromPath(w http.ResponseWriter, r *http.Request) *model.Mailbox {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid mailbox id")
		return nil
	}
	mb, err := s.mailboxes.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil
	}
	return mb
}

func (s *Server) handleSetActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mb := s.mailboxFromPath(w, r)
		if mb == nil {
			return
		}
		if err := s.mailboxes.SetActive(r.Context(), mb.ID, active); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": mb.ID, "active": active})
	}
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	mb := s.mailboxFromPath(w, r)
	if mb == nil {
		return
	}
	if !mb.IsSender() {
		writeError(w, http.StatusBadRequest, "mailbox is not a sender")
		return
	}
	report, err := s.scores.Report(r.Context(), mb)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	mb := s.mailboxFromPath(w, r)
	if mb == nil {
		return
	}
	local, err := clock.NowIn(s.clk, mb.TZ)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	localDate := r.URL.Query().Get("date")
	if localDate == "" {
		localDate = local.Format("2006-01-02")
	}
	entries, err := s.plans.EntriesForDay(r.Context(), mb.ID, localDate)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	type entryView struct {
		ID       int64     `json:"id"`
		FireAt   time.Time `json:"fire_at"`
		Band     string    `json:"band"`
		Status   string    `json:"status"`
		Attempts int       `json:"attempts,omitempty"`
	}
	views := make([]entryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, entryView{ID: e.ID, FireAt: e.FireAt, Band: e.Band, Status: e.Status, Attempts: e.Attempts})
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": localDate, "entries": views})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	all, err := s.mailboxes.All(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	summary := struct {
		Senders     int     `json:"senders"`
		Recipients  int     `json:"recipients"`
		NeedsReauth int     `json:"needs_reauth"`
		AvgScore    float64 `json:"avg_score"`
	}{}
	scored := 0
	for _, m := range all {
		if m.NeedsReauth {
			summary.NeedsReauth++
		}
		if m.IsSender() {
			summary.Senders++
			if m.Score > 0 {
				summary.AvgScore += m.Score
				scored++
			}
		} else {
			summary.Recipients++
		}
	}
	if scored > 0 {
		summary.AvgScore /= float64(scored)
	}
	writeJSON(w, http.StatusOK, summary)
}

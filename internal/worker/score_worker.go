package worker

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/warmup-engine/internal/clock"
	"github.com/ignite/warmup-engine/internal/config"
	"github.com/ignite/warmup-engine/internal/model"
	"github.com/ignite/warmup-engine/internal/phase"
	"github.com/ignite/warmup-engine/internal/pkg/distlock"
	"github.com/ignite/warmup-engine/internal/schedule"
	"github.com/ignite/warmup-engine/internal/score"
	"github.com/ignite/warmup-engine/internal/store"
)

// scoreLockTTL covers one scoring sweep.
const scoreLockTTL = 5 * time.Minute

// ScoreWorker recomputes every sender's reputation score on a cadence
// and persists it on the mailbox row.
type ScoreWorker struct {
	db        *sql.DB
	rdb       *redis.Client
	mailboxes *store.MailboxStore
	messages  *store.MessageStore
	events    *store.SpamEventStore
	plans     *schedule.Store
	cfg       *config.Config
	clk       clock.Clock

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScoreWorker builds the score worker. rdb may be nil.
func NewScoreWorker(db *sql.DB, rdb *redis.Client, cfg *config.Config, clk clock.Clock) *ScoreWorker {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &ScoreWorker{
		db:        db,
		rdb:       rdb,
		mailboxes: store.NewMailboxStore(db),
		messages:  store.NewMessageStore(db),
		events:    store.NewSpamEventStore(db),
		plans:     schedule.NewStore(db),
		cfg:       cfg,
		clk:       clk,
	}
}

// Start begins the scoring loop.
func (w *ScoreWorker) Start() {
	w.ctx, w.cancel = context.WithCancel(context.Background())
	go func() {
		log.Println("[ScoreWorker] Starting score loop")

		ticker := time.NewTicker(w.cfg.Intervals.Score())
		defer ticker.Stop()

		w.Tick(w.ctx)
		for {
			select {
			case <-ticker.C:
				w.Tick(w.ctx)
			case <-w.ctx.Done():
				log.Println("[ScoreWorker] Stopped")
				return
			}
		}
	}()
}

// Stop halts the loop after the current tick.
func (w *ScoreWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

// Tick recomputes all sender scores under the cross-host lock.
func (w *ScoreWorker) Tick(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, tickTimeout)
	defer cancel()

	lock := distlock.New(w.rdb, w.db, "score-sweep", scoreLockTTL)
	ok, err := lock.TryAcquire(ctx)
	if err != nil {
		log.Printf("[ScoreWorker] Lock acquire failed: %v", err)
		return
	}
	if !ok {
		return
	}
	defer lock.Release(ctx)

	senders, err := w.mailboxes.ActiveSenders(ctx)
	if err != nil {
		log.Printf("[ScoreWorker] List senders failed: %v", err)
		return
	}

	for _, sender := range senders {
		result, err := w.Score(ctx, sender)
		if err != nil {
			log.Printf("[ScoreWorker] Score %s failed: %v", model.RedactEmail(sender.Email), err)
			continue
		}
		if err := w.mailboxes.UpdateScore(ctx, sender.ID, result.Score); err != nil {
			log.Printf("[ScoreWorker] Store score for %s failed: %v", model.RedactEmail(sender.Email), err)
			continue
		}
		log.Printf("[ScoreWorker] %s scored %.1f (%s)",
			model.RedactEmail(sender.Email), result.Score, result.Grade)
	}
}

// Score computes one sender's reputation from the configured window.
func (w *ScoreWorker) Score(ctx context.Context, sender *model.Mailbox) (score.Result, error) {
	now := w.clk.Now()
	since := now.AddDate(0, 0, -w.cfg.Score.WindowDays)

	stats, err := w.messages.StatsSince(ctx, sender.ID, since)
	if err != nil {
		return score.Result{}, err
	}
	detected, recovered, err := w.events.StatsBySenderSince(ctx, sender.ID, since)
	if err != nil {
		return score.Result{}, err
	}
	actual, err := w.phaseActual(ctx, sender)
	if err != nil {
		return score.Result{}, err
	}

	return score.Compute(score.Inputs{
		Sent:          stats.Sent,
		Opened:        stats.Opened,
		Replied:       stats.Replied,
		SpamDetected:  detected,
		SpamRecovered: recovered,
		WarmupDay:     sender.WarmupDay,
		PhaseTarget:   sender.DailyLimit,
		PhaseActual:   actual,
	}), nil
}

// phaseActual averages sends per business day over the sender's last
// seven local business days.
func (w *ScoreWorker) phaseActual(ctx context.Context, sender *model.Mailbox) (float64, error) {
	local, err := clock.NowIn(w.clk, sender.TZ)
	if err != nil {
		return 0, err
	}

	total := 0
	day := local
	for counted := 0; counted < 7; {
		day = day.AddDate(0, 0, -1)
		if clock.IsWeekend(day) {
			continue
		}
		n, err := w.messages.SentToday(ctx, sender.ID, day.Format("2006-01-02"))
		if err != nil {
			return 0, err
		}
		total += n
		counted++
	}
	return float64(total) / 7, nil
}

// StatusReport is the per-sender summary exposed by the admin API.
type StatusReport struct {
	Email      string         `json:"email"`
	Active     bool           `json:"active"`
	WarmupDay  int            `json:"warmup_day"`
	Phase      string         `json:"phase"`
	DailyLimit int            `json:"daily_limit"`
	Today      map[string]int `json:"today"`
	Score      score.Result   `json:"score"`
}

// Report builds a full status report for one sender, including today's
// plan progress.
func (w *ScoreWorker) Report(ctx context.Context, sender *model.Mailbox) (*StatusReport, error) {
	local, err := clock.NowIn(w.clk, sender.TZ)
	if err != nil {
		return nil, err
	}
	counts, err := w.plans.StatusCounts(ctx, sender.ID, local.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	result, err := w.Score(ctx, sender)
	if err != nil {
		return nil, err
	}
	return &StatusReport{
		Email:      model.RedactEmail(sender.Email),
		Active:     sender.Active && !sender.NeedsReauth,
		WarmupDay:  sender.WarmupDay,
		Phase:      phase.Describe(sender.WarmupDay),
		DailyLimit: sender.DailyLimit,
		Today:      counts,
		Score:      result,
	}, nil
}

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
	"github.com/ignite/warmup-engine/internal/store"
)

// advanceLockTTL covers one sweep; the lock expires on its own if a host
// dies mid-sweep.
const advanceLockTTL = 5 * time.Minute

// DayAdvancer moves each sender one step up the warmup ramp when a new
// local day begins, and purges old terminal plan entries. The
// sweep runs under a cross-host lock, and each row update is guarded so
// a sender can never advance twice in one day.
type DayAdvancer struct {
	db        *sql.DB
	rdb       *redis.Client
	mailboxes *store.MailboxStore
	plans     *schedule.Store
	cfg       *config.Config
	clk       clock.Clock

	ctx    context.Context
	cancel context.CancelFunc
}

// NewDayAdvancer builds the advancer. rdb may be nil; the lock falls
// back to Postgres advisory locking.
func NewDayAdvancer(db *sql.DB, rdb *redis.Client, cfg *config.Config, clk clock.Clock) *DayAdvancer {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &DayAdvancer{
		db:        db,
		rdb:       rdb,
		mailboxes: store.NewMailboxStore(db),
		plans:     schedule.NewStore(db),
		cfg:       cfg,
		clk:       clk,
	}
}

// Start begins the advance loop.
func (a *DayAdvancer) Start() {
	a.ctx, a.cancel = context.WithCancel(context.Background())
	go func() {
		log.Println("[DayAdvancer] Starting day advance loop")

		ticker := time.NewTicker(a.cfg.Intervals.DayAdvance())
		defer ticker.Stop()

		a.Tick(a.ctx)
		for {
			select {
			case <-ticker.C:
				a.Tick(a.ctx)
			case <-a.ctx.Done():
				log.Println("[DayAdvancer] Stopped")
				return
			}
		}
	}()
}

// Stop halts the loop after the current tick.
func (a *DayAdvancer) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
}

// Tick runs one advance sweep under the cross-host lock.
func (a *DayAdvancer) Tick(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, tickTimeout)
	defer cancel()

	lock := distlock.New(a.rdb, a.db, "day-advance", advanceLockTTL)
	ok, err := lock.TryAcquire(ctx)
	if err != nil {
		log.Printf("[DayAdvancer] Lock acquire failed: %v", err)
		return
	}
	if !ok {
		// Another host is sweeping.
		return
	}
	defer lock.Release(ctx)

	a.sweep(ctx)
	a.purge(ctx)
}

func (a *DayAdvancer) sweep(ctx context.Context) {
	senders, err := a.mailboxes.ActiveSenders(ctx)
	if err != nil {
		log.Printf("[DayAdvancer] List senders failed: %v", err)
		return
	}

	for _, sender := range senders {
		if err := a.advance(ctx, sender); err != nil {
			log.Printf("[DayAdvancer] Advance %s failed: %v", model.RedactEmail(sender.Email), err)
		}
	}
}

// advance bumps one sender if a new local day has begun since its last
// advance. Every calendar day counts; only planning skips weekends.
func (a *DayAdvancer) advance(ctx context.Context, sender *model.Mailbox) error {
	local, err := clock.NowIn(a.clk, sender.TZ)
	if err != nil {
		return err
	}

	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	if sender.LastAdvanceDate.Valid && !sender.LastAdvanceDate.Time.Before(today) {
		return nil
	}

	newDay := sender.WarmupDay + 1
	newPhase, newLimit := phase.For(newDay, sender.Target)

	applied, err := a.mailboxes.AdvanceDay(ctx, sender.ID, sender.WarmupDay, newDay, newLimit, today)
	if err != nil {
		return err
	}
	if !applied {
		// A concurrent sweep won the conditional update.
		return nil
	}

	if phase.IsBoundary(newDay) {
		oldPhase, oldLimit := phase.For(sender.WarmupDay, sender.Target)
		log.Printf("[DayAdvancer] %s entered phase %d (was %d): limit %d -> %d",
			model.RedactEmail(sender.Email), newPhase, oldPhase, oldLimit, newLimit)
	} else {
		log.Printf("[DayAdvancer] %s advanced to day %d (limit %d)",
			model.RedactEmail(sender.Email), newDay, newLimit)
	}
	return nil
}

func (a *DayAdvancer) purge(ctx context.Context) {
	cutoff := a.clk.Now().Add(-a.cfg.Plan.Retention())
	n, err := a.plans.Purge(ctx, cutoff)
	if err != nil {
		log.Printf("[DayAdvancer] Plan purge failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[DayAdvancer] Purged %d old plan entries", n)
	}
}

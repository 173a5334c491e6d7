// Package worker holds the periodic loops that drive the warmup engine:
// dispatch, engagement simulation, reply matching, spam recovery, day
// advancement and scoring. Each worker owns a ticker and runs short
// ticks; all shared state lives in Postgres.
package worker

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/warmup-engine/internal/clock"
	"github.com/ignite/warmup-engine/internal/config"
	"github.com/ignite/warmup-engine/internal/content"
	"github.com/ignite/warmup-engine/internal/mailer"
	"github.com/ignite/warmup-engine/internal/model"
	"github.com/ignite/warmup-engine/internal/schedule"
	"github.com/ignite/warmup-engine/internal/store"
)

// tickTimeout bounds one worker tick. Provider calls inside get their
// own shorter deadline.
const tickTimeout = 2 * time.Minute

// callTimeout bounds a single provider call.
const callTimeout = 30 * time.Second

// ClientFactory builds a provider client bound to one mailbox. Workers
// depend on this rather than a concrete adapter so tests can inject
// fakes.
type ClientFactory func(ctx context.Context, mb *model.Mailbox) (mailer.Client, error)

// Dispatcher fires due plan entries: it keeps each active sender's
// daily plan present, claims due entries one at a time, sends the mail
// and records the result atomically.
type Dispatcher struct {
	db        *sql.DB
	mailboxes *store.MailboxStore
	messages  *store.MessageStore
	plans     *schedule.Store
	planner   *schedule.Planner
	generator *content.Generator
	clients   ClientFactory
	cfg       *config.Config
	clk       clock.Clock
	rng       *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc
}

// NewDispatcher builds a dispatcher. A nil clk gets the system clock; a
// nil rng gets a time-seeded source.
func NewDispatcher(db *sql.DB, clients ClientFactory, cfg *config.Config, clk clock.Clock, rng *rand.Rand) *Dispatcher {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Dispatcher{
		db:        db,
		mailboxes: store.NewMailboxStore(db),
		messages:  store.NewMessageStore(db),
		plans:     schedule.NewStore(db),
		planner: schedule.NewPlanner(schedule.BandWeights{
			Peak:   cfg.Bands.PeakWeight,
			Normal: cfg.Bands.NormalWeight,
			Low:    cfg.Bands.LowWeight,
		}, rng),
		generator: content.NewGenerator(rng),
		clients:   clients,
		cfg:       cfg,
		clk:       clk,
		rng:       rng,
	}
}

// Start begins the dispatch loop.
func (d *Dispatcher) Start() {
	d.ctx, d.cancel = context.WithCancel(context.Background())
	go func() {
		log.Println("[Dispatcher] Starting dispatch loop")

		ticker := time.NewTicker(d.cfg.Intervals.Dispatch())
		defer ticker.Stop()

		d.Tick(d.ctx)
		for {
			select {
			case <-ticker.C:
				d.Tick(d.ctx)
			case <-d.ctx.Done():
				log.Println("[Dispatcher] Stopped")
				return
			}
		}
	}()
}

// Stop halts the loop after the current tick.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

// Tick runs one dispatch pass.
func (d *Dispatcher) Tick(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, tickTimeout)
	defer cancel()

	now := d.clk.Now()

	if n, err := d.plans.SkipExpired(ctx, now, d.cfg.Plan.GraceWindow()); err != nil {
		log.Printf("[Dispatcher] Skip expired failed: %v", err)
	} else if n > 0 {
		log.Printf("[Dispatcher] Skipped %d entries past the grace window", n)
	}

	senders, err := d.mailboxes.ActiveSenders(ctx)
	if err != nil {
		log.Printf("[Dispatcher] List senders failed: %v", err)
		return
	}
	for _, s := range senders {
		if err := d.EnsurePlan(ctx, s); err != nil {
			log.Printf("[Dispatcher] Plan for %s failed: %v", model.RedactEmail(s.Email), err)
		}
	}

	due, err := d.plans.DueEntries(ctx, now, d.cfg.Plan.GraceWindow(), d.cfg.Plan.FireWindow())
	if err != nil {
		log.Printf("[Dispatcher] Query due entries failed: %v", err)
		return
	}

	byID := make(map[int64]*model.Mailbox, len(senders))
	for _, s := range senders {
		byID[s.ID] = s
	}

	for _, entry := range due {
		select {
		case <-ctx.Done():
			return
		default:
		}
		sender, ok := byID[entry.SenderID]
		if !ok {
			// Sender paused or sidelined since the plan was made.
			continue
		}
		if loc, err := time.LoadLocation(sender.TZ); err == nil {
			// A DST shift can poison an entry by moving its fire time
			// outside business hours; skip it instead of reprocessing.
			if !clock.IsBusinessHours(entry.FireAt.In(loc), clock.BusinessHours{
				StartHour: d.cfg.BusinessHours.Start,
				EndHour:   d.cfg.BusinessHours.End,
			}) {
				if err := d.plans.SkipEntry(ctx, entry.ID, "fire time outside business hours"); err != nil {
					log.Printf("[Dispatcher] Skip poisoned entry %d failed: %v", entry.ID, err)
				}
				continue
			}
		}
		if err := d.dispatch(ctx, sender, entry); err != nil {
			log.Printf("[Dispatcher] Entry %d for %s: %v",
				entry.ID, model.RedactEmail(sender.Email), err)
		}
	}
}

// EnsurePlan generates today's plan for a sender if none exists yet.
// Weekends and day-0 senders get no plan.
func (d *Dispatcher) EnsurePlan(ctx context.Context, sender *model.Mailbox) error {
	local, err := clock.NowIn(d.clk, sender.TZ)
	if err != nil {
		return err
	}
	if clock.IsWeekend(local) || sender.DailyLimit <= 0 {
		return nil
	}

	localDate := local.Format("2006-01-02")
	exists, err := d.plans.HasPlan(ctx, sender.ID, localDate)
	if err != nil || exists {
		return err
	}

	entries, err := d.planner.Generate(sender.ID, local, sender.DailyLimit)
	if err != nil {
		return fmt.Errorf("generate plan: %w", err)
	}
	if len(entries) < sender.DailyLimit {
		log.Printf("[Dispatcher] Plan for %s has %d of %d slots (window too narrow)",
			model.RedactEmail(sender.Email), len(entries), sender.DailyLimit)
	}
	if err := d.plans.UpsertPlan(ctx, sender.ID, localDate, entries); err != nil {
		return fmt.Errorf("store plan: %w", err)
	}
	log.Printf("[Dispatcher] Planned %d sends for %s on %s",
		len(entries), model.RedactEmail(sender.Email), localDate)
	return nil
}

// dispatch sends one claimed entry. The claim, the provider send and the
// sent mark share one transaction so a crash never records a send twice
// and never loses a sent message.
func (d *Dispatcher) dispatch(ctx context.Context, sender *model.Mailbox, entry model.PlanEntry) error {
	recipient, err := d.pickRecipient(ctx, sender)
	if err != nil {
		return err
	}
	if recipient == nil {
		return fmt.Errorf("no active recipients available")
	}

	mail, err := d.generator.New(content.DisplayName(sender.Email), content.DisplayName(recipient.Email))
	if err != nil {
		return fmt.Errorf("generate content: %w", err)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin dispatch: %w", err)
	}
	defer tx.Rollback()

	claimed, ok, err := d.plans.ClaimTx(ctx, tx, entry.ID)
	if err != nil {
		return err
	}
	if !ok {
		// Another host got there first.
		return nil
	}

	client, err := d.clients(ctx, sender)
	if err != nil {
		return d.handleSendFailure(ctx, sender, claimed, err)
	}

	trackingID := uuid.NewString()
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	result, err := client.Send(callCtx, mailer.OutboundMail{
		From:       sender.Email,
		To:         recipient.Email,
		Subject:    mail.Subject,
		Body:       mail.Body,
		TrackingID: trackingID,
	})
	cancel()
	if err != nil {
		// The tx rolls back; failure bookkeeping runs outside it.
		tx.Rollback()
		return d.handleSendFailure(ctx, sender, claimed, err)
	}

	msgID, err := d.messages.InsertTx(ctx, tx, &model.Message{
		SenderID:         sender.ID,
		PlanEntryID:      claimed.ID,
		RecipientAddress: recipient.Email,
		Subject:          mail.Subject,
		Body:             mail.Body,
		TrackingID:       trackingID,
		ProviderMsgID:    result.ProviderMsgID,
		ProviderThreadID: result.ProviderThreadID,
		SentAt:           d.clk.Now(),
		OpenRateTarget:   sender.OpenRateTarget,
		ReplyRateTarget:  sender.ReplyRateTarget,
	})
	if err != nil {
		return err
	}
	if err := d.plans.MarkSentTx(ctx, tx, claimed.ID, msgID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit dispatch: %w", err)
	}

	log.Printf("[Dispatcher] Sent entry %d from %s to %s",
		claimed.ID, model.RedactEmail(sender.Email), model.RedactEmail(recipient.Email))
	return nil
}

// handleSendFailure applies the failure policy: dead credentials sideline
// the mailbox and skip the rest of its day; transient failures burn one
// attempt, and an exhausted day budget skips the remainder.
func (d *Dispatcher) handleSendFailure(ctx context.Context, sender *model.Mailbox, entry *model.PlanEntry, sendErr error) error {
	if mailer.IsAuthFailure(sendErr) {
		log.Printf("[Dispatcher] Credentials dead for %s, sidelining", model.RedactEmail(sender.Email))
		if err := d.mailboxes.MarkNeedsReauth(ctx, sender.ID); err != nil {
			return err
		}
		if err := d.plans.FailEntry(ctx, entry.ID, sendErr.Error()); err != nil {
			return err
		}
		if _, err := d.plans.SkipRemaining(ctx, sender.ID, entry.LocalDate, "mailbox needs reauth"); err != nil {
			return err
		}
		return sendErr
	}

	if mailer.IsTransient(sendErr) {
		if err := d.plans.MarkFailed(ctx, entry.ID, sendErr.Error()); err != nil {
			return err
		}
	} else {
		if err := d.plans.FailEntry(ctx, entry.ID, sendErr.Error()); err != nil {
			return err
		}
	}

	attempts, err := d.plans.AttemptsToday(ctx, sender.ID, entry.LocalDate)
	if err != nil {
		return err
	}
	if attempts >= d.cfg.Plan.MaxAttemptsPerDay {
		n, err := d.plans.SkipRemaining(ctx, sender.ID, entry.LocalDate, "daily failure budget exhausted")
		if err != nil {
			return err
		}
		log.Printf("[Dispatcher] Failure budget exhausted for %s, skipped %d entries",
			model.RedactEmail(sender.Email), n)
	}
	return sendErr
}

// pickRecipient chooses a random active recipient other than the sender.
func (d *Dispatcher) pickRecipient(ctx context.Context, sender *model.Mailbox) (*model.Mailbox, error) {
	recipients, err := d.mailboxes.ActiveRecipients(ctx)
	if err != nil {
		return nil, err
	}
	eligible := recipients[:0]
	for _, r := range recipients {
		if r.ID != sender.ID && r.Email != sender.Email {
			eligible = append(eligible, r)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}
	return eligible[d.rng.Intn(len(eligible))], nil
}

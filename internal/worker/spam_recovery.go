package worker

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/ignite/warmup-engine/internal/clock"
	"github.com/ignite/warmup-engine/internal/config"
	"github.com/ignite/warmup-engine/internal/mailer"
	"github.com/ignite/warmup-engine/internal/model"
	"github.com/ignite/warmup-engine/internal/store"
)

// maxRecoveryAttempts bounds rescue tries per spam event; after that the
// event is terminal and only counts against the sender's score.
const maxRecoveryAttempts = 3

// SpamRecovery scans recipient spam folders for warmup mail, records
// each hit as a SpamEvent and moves the message back to the inbox.
// Rescuing out of spam is a strong positive deliverability signal.
type SpamRecovery struct {
	mailboxes *store.MailboxStore
	messages  *store.MessageStore
	events    *store.SpamEventStore
	clients   ClientFactory
	cfg       *config.Config
	clk       clock.Clock

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSpamRecovery builds the recovery worker.
func NewSpamRecovery(db *sql.DB, clients ClientFactory, cfg *config.Config, clk clock.Clock) *SpamRecovery {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &SpamRecovery{
		mailboxes: store.NewMailboxStore(db),
		messages:  store.NewMessageStore(db),
		events:    store.NewSpamEventStore(db),
		clients:   clients,
		cfg:       cfg,
		clk:       clk,
	}
}

// Start begins the recovery loop.
func (s *SpamRecovery) Start() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	go func() {
		log.Println("[SpamRecovery] Starting spam recovery loop")

		ticker := time.NewTicker(s.cfg.Intervals.SpamRecovery())
		defer ticker.Stop()

		s.Tick(s.ctx)
		for {
			select {
			case <-ticker.C:
				s.Tick(s.ctx)
			case <-s.ctx.Done():
				log.Println("[SpamRecovery] Stopped")
				return
			}
		}
	}()
}

// Stop halts the loop after the current tick.
func (s *SpamRecovery) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Tick runs one pass: detect new spam hits, then retry pending rescues.
func (s *SpamRecovery) Tick(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, tickTimeout)
	defer cancel()

	s.detect(ctx)
	s.recover(ctx)
}

func (s *SpamRecovery) detect(ctx context.Context) {
	recipients, err := s.mailboxes.ActiveRecipients(ctx)
	if err != nil {
		log.Printf("[SpamRecovery] List recipients failed: %v", err)
		return
	}
	senders, err := s.mailboxes.ActiveSenders(ctx)
	if err != nil {
		log.Printf("[SpamRecovery] List senders failed: %v", err)
		return
	}

	now := s.clk.Now()
	for _, recipient := range recipients {
		client, err := s.clients(ctx, recipient)
		if err != nil {
			log.Printf("[SpamRecovery] Client for %s failed: %v", model.RedactEmail(recipient.Email), err)
			continue
		}
		for _, sender := range senders {
			callCtx, cancel := context.WithTimeout(ctx, callTimeout)
			hits, err := client.ListSpamFrom(callCtx, sender.Email)
			cancel()
			if err != nil {
				if mailer.IsAuthFailure(err) {
					log.Printf("[SpamRecovery] Credentials dead for %s, sidelining", model.RedactEmail(recipient.Email))
					_ = s.mailboxes.MarkNeedsReauth(ctx, recipient.ID)
				}
				log.Printf("[SpamRecovery] Spam scan for %s failed: %v", model.RedactEmail(recipient.Email), err)
				break
			}

			for _, hit := range hits {
				event := &model.SpamEvent{
					RecipientID:   recipient.ID,
					SenderID:      sender.ID,
					ProviderMsgID: hit.ProviderMsgID,
					Subject:       hit.Subject,
					DetectedAt:    now,
				}
				if hit.TrackingID != "" {
					if msg, err := s.messages.GetByTracking(ctx, hit.TrackingID); err == nil && msg != nil {
						event.MessageID = sql.NullInt64{Int64: msg.ID, Valid: true}
					}
				}
				inserted, err := s.events.Record(ctx, event)
				if err != nil {
					log.Printf("[SpamRecovery] Record event failed: %v", err)
					continue
				}
				if inserted {
					log.Printf("[SpamRecovery] Spam hit from %s at %s",
						model.RedactEmail(sender.Email), model.RedactEmail(recipient.Email))
				}
			}
		}
	}
}

func (s *SpamRecovery) recover(ctx context.Context) {
	pending, err := s.events.Pending(ctx, maxRecoveryAttempts)
	if err != nil {
		log.Printf("[SpamRecovery] Query pending events failed: %v", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	now := s.clk.Now()
	clientCache := map[int64]mailer.Client{}

	for _, event := range pending {
		client, ok := clientCache[event.RecipientID]
		if !ok {
			recipient, err := s.mailboxes.Get(ctx, event.RecipientID)
			if err != nil {
				log.Printf("[SpamRecovery] Lookup recipient %d failed: %v", event.RecipientID, err)
				continue
			}
			client, err = s.clients(ctx, recipient)
			if err != nil {
				log.Printf("[SpamRecovery] Client for recipient %d failed: %v", event.RecipientID, err)
				continue
			}
			clientCache[event.RecipientID] = client
		}

		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		err := client.Unspam(callCtx, event.ProviderMsgID)
		cancel()
		if err != nil {
			if merr := s.events.MarkAttemptFailed(ctx, event.ID, err.Error(), now, maxRecoveryAttempts); merr != nil {
				log.Printf("[SpamRecovery] Record failed attempt: %v", merr)
			}
			log.Printf("[SpamRecovery] Rescue of event %d failed (attempt %d/%d): %v",
				event.ID, event.RecoveryAttempts+1, maxRecoveryAttempts, err)
			continue
		}

		if err := s.events.MarkRecovered(ctx, event.ID, now); err != nil {
			log.Printf("[SpamRecovery] Record recovery failed: %v", err)
			continue
		}
		log.Printf("[SpamRecovery] Rescued event %d back to inbox", event.ID)
	}
}

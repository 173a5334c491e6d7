package worker

import (
	"context"
	"database/sql"
	"log"
	"strings"
	"time"

	"github.com/ignite/warmup-engine/internal/clock"
	"github.com/ignite/warmup-engine/internal/config"
	"github.com/ignite/warmup-engine/internal/mailer"
	"github.com/ignite/warmup-engine/internal/model"
	"github.com/ignite/warmup-engine/internal/store"
)

// replyMatchWindow bounds how many recent unreplied sends are considered
// for subject matching.
const replyMatchWindow = 50

// ReplyMatcher closes the loop on the sender side: it scans each
// sender's inbox for unread replies from the recipient pool, correlates
// them to the originating send by provider thread, stamps replied_at and
// marks the reply read so the thread looks handled.
type ReplyMatcher struct {
	mailboxes *store.MailboxStore
	messages  *store.MessageStore
	clients   ClientFactory
	cfg       *config.Config
	clk       clock.Clock

	ctx    context.Context
	cancel context.CancelFunc
}

// NewReplyMatcher builds the matcher.
func NewReplyMatcher(db *sql.DB, clients ClientFactory, cfg *config.Config, clk clock.Clock) *ReplyMatcher {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &ReplyMatcher{
		mailboxes: store.NewMailboxStore(db),
		messages:  store.NewMessageStore(db),
		clients:   clients,
		cfg:       cfg,
		clk:       clk,
	}
}

// Start begins the reply polling loop.
func (r *ReplyMatcher) Start() {
	r.ctx, r.cancel = context.WithCancel(context.Background())
	go func() {
		log.Println("[ReplyMatcher] Starting reply poll loop")

		ticker := time.NewTicker(r.cfg.Intervals.ReplyPoll())
		defer ticker.Stop()

		r.Tick(r.ctx)
		for {
			select {
			case <-ticker.C:
				r.Tick(r.ctx)
			case <-r.ctx.Done():
				log.Println("[ReplyMatcher] Stopped")
				return
			}
		}
	}()
}

// Stop halts the loop after the current tick.
func (r *ReplyMatcher) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Tick runs one reply-matching pass.
func (r *ReplyMatcher) Tick(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, tickTimeout)
	defer cancel()

	senders, err := r.mailboxes.ActiveSenders(ctx)
	if err != nil {
		log.Printf("[ReplyMatcher] List senders failed: %v", err)
		return
	}
	recipients, err := r.mailboxes.ActiveRecipients(ctx)
	if err != nil {
		log.Printf("[ReplyMatcher] List recipients failed: %v", err)
		return
	}

	for _, sender := range senders {
		if err := r.matchSender(ctx, sender, recipients); err != nil {
			log.Printf("[ReplyMatcher] Scan for %s failed: %v", model.RedactEmail(sender.Email), err)
		}
	}
}

func (r *ReplyMatcher) matchSender(ctx context.Context, sender *model.Mailbox, recipients []*model.Mailbox) error {
	client, err := r.clients(ctx, sender)
	if err != nil {
		return err
	}

	for _, recipient := range recipients {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		inbound, err := client.ListUnreadFrom(callCtx, recipient.Email)
		cancel()
		if err != nil {
			if mailer.IsAuthFailure(err) {
				log.Printf("[ReplyMatcher] Credentials dead for %s, sidelining", model.RedactEmail(sender.Email))
				if serr := r.mailboxes.MarkNeedsReauth(ctx, sender.ID); serr != nil {
					return serr
				}
			}
			return err
		}

		for _, in := range inbound {
			if err := r.matchOne(ctx, client, sender, recipient, in); err != nil {
				log.Printf("[ReplyMatcher] Match %s failed: %v", in.ProviderMsgID, err)
			}
		}
	}
	return nil
}

func (r *ReplyMatcher) matchOne(ctx context.Context, client mailer.Client, sender, recipient *model.Mailbox, in mailer.InboundMail) error {
	original, err := r.messages.GetBySenderThread(ctx, sender.ID, in.ProviderThreadID)
	if err != nil {
		return err
	}
	if original == nil {
		// The provider does not always thread a reply with the original
		// send, so fall back to matching the normalized subject.
		original, err = r.matchBySubject(ctx, sender, recipient, in.Subject)
		if err != nil {
			return err
		}
	}
	if original == nil {
		// Not a warmup thread; leave the mail alone.
		return nil
	}

	now := r.clk.Now()
	if !original.RepliedAt.Valid {
		if err := r.messages.MarkReplied(ctx, original.ID, now); err != nil {
			return err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	err = client.MarkRead(callCtx, in.ProviderMsgID)
	cancel()
	if err != nil {
		return err
	}
	log.Printf("[ReplyMatcher] Matched reply on message %d for %s",
		original.ID, model.RedactEmail(sender.Email))
	return nil
}

// matchBySubject finds the most recent unreplied send to the recipient
// whose normalized subject equals the reply's.
func (r *ReplyMatcher) matchBySubject(ctx context.Context, sender, recipient *model.Mailbox, subject string) (*model.Message, error) {
	want := model.NormalizeSubject(subject)
	if want == "" {
		return nil, nil
	}
	candidates, err := r.messages.UnrepliedTo(ctx, sender.ID, recipient.Email, replyMatchWindow)
	if err != nil {
		return nil, err
	}
	for _, m := range candidates {
		if strings.EqualFold(model.NormalizeSubject(m.Subject), want) {
			return m, nil
		}
	}
	return nil, nil
}

package worker

import (
	"context"
	"database/sql"
	"hash/fnv"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/ignite/warmup-engine/internal/clock"
	"github.com/ignite/warmup-engine/internal/config"
	"github.com/ignite/warmup-engine/internal/content"
	"github.com/ignite/warmup-engine/internal/mailer"
	"github.com/ignite/warmup-engine/internal/model"
	"github.com/ignite/warmup-engine/internal/store"
)

// settleDelay is how long after a send the mail is assumed to have
// landed at the recipient's provider.
const settleDelay = 30 * time.Second

// engagementBatch bounds how many undecided messages one tick examines.
const engagementBatch = 200

// EngagementSimulator plays the recipient side of the warmup: it opens a
// fraction of delivered mail after a human-shaped delay, stars some of
// it, and schedules replies. The open/skip decision and the open delay
// are derived deterministically from the message's tracking id, so
// repeated ticks and multiple hosts always reach the same verdict.
type EngagementSimulator struct {
	mailboxes *store.MailboxStore
	messages  *store.MessageStore
	generator *content.Generator
	clients   ClientFactory
	cfg       *config.Config
	clk       clock.Clock
	rng       *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc
}

// NewEngagementSimulator builds the simulator.
func NewEngagementSimulator(db *sql.DB, clients ClientFactory, cfg *config.Config, clk clock.Clock, rng *rand.Rand) *EngagementSimulator {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &EngagementSimulator{
		mailboxes: store.NewMailboxStore(db),
		messages:  store.NewMessageStore(db),
		generator: content.NewGenerator(rng),
		clients:   clients,
		cfg:       cfg,
		clk:       clk,
		rng:       rng,
	}
}

// Start begins the engagement loop.
func (e *EngagementSimulator) Start() {
	e.ctx, e.cancel = context.WithCancel(context.Background())
	go func() {
		log.Println("[Engagement] Starting engagement loop")

		ticker := time.NewTicker(e.cfg.Intervals.Engagement())
		defer ticker.Stop()

		e.Tick(e.ctx)
		for {
			select {
			case <-ticker.C:
				e.Tick(e.ctx)
			case <-e.ctx.Done():
				log.Println("[Engagement] Stopped")
				return
			}
		}
	}()
}

// Stop halts the loop after the current tick.
func (e *EngagementSimulator) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

// Tick runs one engagement pass: decide fresh messages, then execute any
// star or reply whose scheduled time arrived.
func (e *EngagementSimulator) Tick(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, tickTimeout)
	defer cancel()

	e.decideOpens(ctx)
	e.executeStars(ctx)
	e.executeReplies(ctx)
}

func (e *EngagementSimulator) decideOpens(ctx context.Context) {
	now := e.clk.Now()
	msgs, err := e.messages.Unprocessed(ctx, now, settleDelay, engagementBatch)
	if err != nil {
		log.Printf("[Engagement] Query unprocessed failed: %v", err)
		return
	}
	if len(msgs) == 0 {
		return
	}

	recipients, senders, err := e.lookups(ctx)
	if err != nil {
		log.Printf("[Engagement] Mailbox lookup failed: %v", err)
		return
	}

	// Cache inbox scans per (recipient, sender) pair within the tick.
	type scanKey struct {
		recipient string
		sender    int64
	}
	scans := map[scanKey][]mailer.InboundMail{}

	for _, msg := range msgs {
		recipient, ok := recipients[msg.RecipientAddress]
		if !ok {
			continue
		}
		sender, ok := senders[msg.SenderID]
		if !ok {
			continue
		}

		opens, delay := e.openVerdict(msg)
		if !opens {
			if err := e.messages.MarkProcessed(ctx, msg.ID, nil, nil, nil, "", "", now); err != nil {
				log.Printf("[Engagement] Mark skip failed for message %d: %v", msg.ID, err)
			}
			continue
		}
		if now.Before(msg.SentAt.Add(delay)) {
			// Open time not reached yet; a later tick executes it.
			continue
		}

		key := scanKey{recipient.Email, sender.ID}
		inbound, scanned := scans[key]
		if !scanned {
			client, err := e.clients(ctx, recipient)
			if err != nil {
				log.Printf("[Engagement] Client for %s failed: %v", model.RedactEmail(recipient.Email), err)
				continue
			}
			callCtx, cancel := context.WithTimeout(ctx, callTimeout)
			inbound, err = client.ListUnreadFrom(callCtx, sender.Email)
			cancel()
			if err != nil {
				if mailer.IsAuthFailure(err) {
					e.sideline(ctx, recipient)
				}
				log.Printf("[Engagement] Inbox scan for %s failed: %v", model.RedactEmail(recipient.Email), err)
				continue
			}
			scans[key] = inbound
		}

		copyOf := matchByTracking(inbound, msg.TrackingID)
		if copyOf == nil {
			// Not in the inbox: still in transit or in spam. Spam
			// recovery moves it back; a later tick opens it then.
			continue
		}

		if err := e.open(ctx, recipient, msg, copyOf, now); err != nil {
			log.Printf("[Engagement] Open for message %d failed: %v", msg.ID, err)
		}
	}
}

// open marks the recipient's copy read and stamps the decision with any
// deferred star/reply times.
func (e *EngagementSimulator) open(ctx context.Context, recipient *model.Mailbox, msg *model.Message, copyOf *mailer.InboundMail, now time.Time) error {
	client, err := e.clients(ctx, recipient)
	if err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	err = client.MarkRead(callCtx, copyOf.ProviderMsgID)
	cancel()
	if err != nil {
		if mailer.IsAuthFailure(err) {
			e.sideline(ctx, recipient)
		}
		return err
	}

	var starDue, replyDue *time.Time
	if e.rng.Float64() < e.cfg.Engagement.StarProbability {
		t := now.Add(time.Duration(45+e.rng.Intn(56)) * time.Second)
		starDue = &t
	}
	if e.rng.Float64() < msg.ReplyRateTarget {
		span := e.cfg.Engagement.ReplyDelayMax() - e.cfg.Engagement.ReplyDelayMin()
		t := now.Add(e.cfg.Engagement.ReplyDelayMin() + time.Duration(e.rng.Int63n(int64(span))))
		replyDue = &t
	}

	if err := e.messages.MarkProcessed(ctx, msg.ID, &now, starDue, replyDue,
		copyOf.ProviderMsgID, copyOf.ProviderThreadID, now); err != nil {
		return err
	}
	log.Printf("[Engagement] Opened message %d for %s (star=%v reply=%v)",
		msg.ID, model.RedactEmail(recipient.Email), starDue != nil, replyDue != nil)
	return nil
}

func (e *EngagementSimulator) executeStars(ctx context.Context) {
	now := e.clk.Now()
	due, err := e.messages.DueStars(ctx, now)
	if err != nil {
		log.Printf("[Engagement] Query due stars failed: %v", err)
		return
	}
	recipients, _, err := e.lookups(ctx)
	if err != nil {
		return
	}
	for _, msg := range due {
		recipient, ok := recipients[msg.RecipientAddress]
		if !ok || msg.RecipientMsgID == "" {
			continue
		}
		client, err := e.clients(ctx, recipient)
		if err != nil {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		err = client.MarkImportant(callCtx, msg.RecipientMsgID)
		cancel()
		if err != nil {
			log.Printf("[Engagement] Star for message %d failed: %v", msg.ID, err)
			continue
		}
		if err := e.messages.MarkStarred(ctx, msg.ID, now); err != nil {
			log.Printf("[Engagement] Record star for message %d failed: %v", msg.ID, err)
		}
	}
}

func (e *EngagementSimulator) executeReplies(ctx context.Context) {
	now := e.clk.Now()
	due, err := e.messages.DueReplies(ctx, now)
	if err != nil {
		log.Printf("[Engagement] Query due replies failed: %v", err)
		return
	}
	recipients, senders, err := e.lookups(ctx)
	if err != nil {
		return
	}
	for _, msg := range due {
		recipient, ok := recipients[msg.RecipientAddress]
		if !ok {
			continue
		}
		sender, ok := senders[msg.SenderID]
		if !ok {
			continue
		}
		if err := e.reply(ctx, recipient, sender, msg, now); err != nil {
			log.Printf("[Engagement] Reply for message %d failed: %v", msg.ID, err)
		}
	}
}

func (e *EngagementSimulator) reply(ctx context.Context, recipient, sender *model.Mailbox, msg *model.Message, now time.Time) error {
	client, err := e.clients(ctx, recipient)
	if err != nil {
		return err
	}
	mail, err := e.generator.Reply(content.DisplayName(recipient.Email), content.DisplayName(sender.Email))
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	_, err = client.SendReply(callCtx, mailer.OutboundMail{
		From:      recipient.Email,
		To:        sender.Email,
		Subject:   "Re: " + model.NormalizeSubject(msg.Subject),
		Body:      mail.Body,
		ThreadID:  msg.RecipientThreadID,
		InReplyTo: msg.RecipientMsgID,
	})
	cancel()
	if err != nil {
		if mailer.IsAuthFailure(err) {
			e.sideline(ctx, recipient)
		}
		return err
	}

	if err := e.messages.MarkReplied(ctx, msg.ID, now); err != nil {
		return err
	}
	log.Printf("[Engagement] Replied to message %d from %s", msg.ID, model.RedactEmail(recipient.Email))
	return nil
}

func (e *EngagementSimulator) lookups(ctx context.Context) (map[string]*model.Mailbox, map[int64]*model.Mailbox, error) {
	recipientList, err := e.mailboxes.ActiveRecipients(ctx)
	if err != nil {
		return nil, nil, err
	}
	senderList, err := e.mailboxes.ActiveSenders(ctx)
	if err != nil {
		return nil, nil, err
	}
	recipients := make(map[string]*model.Mailbox, len(recipientList))
	for _, r := range recipientList {
		recipients[r.Email] = r
	}
	senders := make(map[int64]*model.Mailbox, len(senderList))
	for _, s := range senderList {
		senders[s.ID] = s
	}
	return recipients, senders, nil
}

func (e *EngagementSimulator) sideline(ctx context.Context, mb *model.Mailbox) {
	log.Printf("[Engagement] Credentials dead for %s, sidelining", model.RedactEmail(mb.Email))
	if err := e.mailboxes.MarkNeedsReauth(ctx, mb.ID); err != nil {
		log.Printf("[Engagement] Sideline %s failed: %v", model.RedactEmail(mb.Email), err)
	}
}

// openVerdict decides whether a message gets opened and after what delay.
// Both draws are seeded from the tracking id so the verdict is stable
// across ticks and hosts.
func (e *EngagementSimulator) openVerdict(msg *model.Message) (bool, time.Duration) {
	h := fnv.New64a()
	h.Write([]byte(msg.TrackingID))
	r := rand.New(rand.NewSource(int64(h.Sum64())))

	if r.Float64() >= msg.OpenRateTarget {
		return false, 0
	}

	// Beta(2,5) shapes the delay toward quick opens with a long tail.
	b := betaSample(r, 2, 5)
	min, max := e.cfg.Engagement.OpenDelayMin(), e.cfg.Engagement.OpenDelayMax()
	return true, min + time.Duration(b*float64(max-min))
}

// betaSample draws Beta(a,b) via two gamma draws with integer shapes.
func betaSample(r *rand.Rand, a, b int) float64 {
	x := gammaSample(r, a)
	y := gammaSample(r, b)
	if x+y == 0 {
		return 0
	}
	return x / (x + y)
}

func gammaSample(r *rand.Rand, shape int) float64 {
	s := 0.0
	for i := 0; i < shape; i++ {
		u := r.Float64()
		for u == 0 {
			u = r.Float64()
		}
		s -= math.Log(u)
	}
	return s
}

func matchByTracking(inbound []mailer.InboundMail, trackingID string) *mailer.InboundMail {
	for i := range inbound {
		if inbound[i].TrackingID == trackingID {
			return &inbound[i]
		}
	}
	return nil
}

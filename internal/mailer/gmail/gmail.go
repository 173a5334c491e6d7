// Package gmail implements the mailer.Client interface on the Gmail API.
// One client is bound to one mailbox's OAuth credentials.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/ignite/warmup-engine/internal/mailer"
	"github.com/ignite/warmup-engine/internal/model"
)

// trackingHeader carries the engine's tracking id through the provider so
// inbound scans can correlate messages back to their originating send.
const trackingHeader = "X-Warmup-Tracking-Id"

// Client is a Gmail-backed mailer.Client.
type Client struct {
	service *gmailapi.Service
	email   string

	mu      sync.Mutex
	source  oauth2.TokenSource
	last    *oauth2.Token
	refresh func(model.Credentials) // called when the provider rotates the token
}

// Options configure client construction.
type Options struct {
	// ClientID/ClientSecret fall back to the global OAuth app when the
	// stored bundle has none of its own.
	ClientID     string
	ClientSecret string
	// OnTokenRefresh, if set, is called with the rotated bundle so it can
	// be persisted.
	OnTokenRefresh func(model.Credentials)
}

// New builds a client for one mailbox from its stored credentials.
func New(ctx context.Context, email string, creds model.Credentials, opts Options) (*Client, error) {
	clientID, clientSecret := creds.ClientID, creds.ClientSecret
	if clientID == "" {
		clientID = opts.ClientID
		clientSecret = opts.ClientSecret
	}
	scopes := creds.Scopes
	if len(scopes) == 0 {
		scopes = []string{gmailapi.GmailModifyScope}
	}

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       scopes,
	}
	token := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		Expiry:       creds.Expiry,
	}

	c := &Client{email: email, refresh: opts.OnTokenRefresh, last: token}
	c.source = oauth2.ReuseTokenSource(token, &notifySource{client: c, inner: conf.TokenSource(ctx, token), creds: creds})

	svc, err := gmailapi.NewService(ctx, option.WithTokenSource(c.source))
	if err != nil {
		return nil, fmt.Errorf("create gmail service for %s: %w", model.RedactEmail(email), err)
	}
	c.service = svc
	return c, nil
}

// notifySource wraps the oauth2 source so rotated tokens reach the store.
type notifySource struct {
	client *Client
	inner  oauth2.TokenSource
	creds  model.Credentials
}

func (n *notifySource) Token() (*oauth2.Token, error) {
	tok, err := n.inner.Token()
	if err != nil {
		return nil, err
	}
	n.client.mu.Lock()
	rotated := n.client.last == nil || tok.AccessToken != n.client.last.AccessToken
	n.client.last = tok
	refresh := n.client.refresh
	n.client.mu.Unlock()

	if rotated && refresh != nil {
		c := n.creds
		c.AccessToken = tok.AccessToken
		if tok.RefreshToken != "" {
			c.RefreshToken = tok.RefreshToken
		}
		c.Expiry = tok.Expiry
		refresh(c)
	}
	return tok, nil
}

// classify maps a Gmail API failure onto the engine's error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "invalid_grant") || strings.Contains(msg, "invalid_client") {
		return mailer.NewError(mailer.PermanentAuth, op, err)
	}
	if ge, ok := err.(*googleapi.Error); ok {
		switch {
		case ge.Code == 401, ge.Code == 403 && strings.Contains(msg, "insufficient"):
			return mailer.NewError(mailer.PermanentAuth, op, err)
		case ge.Code == 429 || ge.Code >= 500:
			return mailer.NewError(mailer.Transient, op, err)
		case ge.Code >= 400:
			return mailer.NewError(mailer.PermanentOther, op, err)
		}
	}
	// Network-level failures are worth retrying.
	return mailer.NewError(mailer.Transient, op, err)
}

func buildRaw(mail mailer.OutboundMail) string {
	var sb strings.Builder
	sb.WriteString("From: " + mail.From + "\r\n")
	sb.WriteString("To: " + mail.To + "\r\n")
	sb.WriteString("Subject: " + mail.Subject + "\r\n")
	if mail.TrackingID != "" {
		sb.WriteString(trackingHeader + ": " + mail.TrackingID + "\r\n")
	}
	if mail.InReplyTo != "" {
		sb.WriteString("In-Reply-To: " + mail.InReplyTo + "\r\n")
		sb.WriteString("References: " + mail.InReplyTo + "\r\n")
	}
	sb.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(mail.Body)
	return sb.String()
}

// Send delivers a new message.
func (c *Client) Send(ctx context.Context, mail mailer.OutboundMail) (*mailer.SendResult, error) {
	msg := &gmailapi.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(buildRaw(mail))),
	}
	sent, err := c.service.Users.Messages.Send("me", msg).Context(ctx).Do()
	if err != nil {
		return nil, classify("gmail send", err)
	}
	return &mailer.SendResult{ProviderMsgID: sent.Id, ProviderThreadID: sent.ThreadId}, nil
}

// SendReply delivers a reply inside an existing thread.
func (c *Client) SendReply(ctx context.Context, mail mailer.OutboundMail) (*mailer.SendResult, error) {
	msg := &gmailapi.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(buildRaw(mail))),
	}
	if mail.ThreadID != "" {
		msg.ThreadId = mail.ThreadID
	}
	sent, err := c.service.Users.Messages.Send("me", msg).Context(ctx).Do()
	if err != nil {
		return nil, classify("gmail reply", err)
	}
	return &mailer.SendResult{ProviderMsgID: sent.Id, ProviderThreadID: sent.ThreadId}, nil
}

// ListUnreadFrom returns unread inbox messages from one sender.
func (c *Client) ListUnreadFrom(ctx context.Context, senderAddr string) ([]mailer.InboundMail, error) {
	q := fmt.Sprintf("from:%s is:unread in:inbox", senderAddr)
	return c.list(ctx, q, "gmail list unread")
}

// ListSpamFrom returns spam-folder messages from one sender.
func (c *Client) ListSpamFrom(ctx context.Context, senderAddr string) ([]mailer.InboundMail, error) {
	q := fmt.Sprintf("from:%s in:spam", senderAddr)
	return c.list(ctx, q, "gmail list spam")
}

func (c *Client) list(ctx context.Context, query, op string) ([]mailer.InboundMail, error) {
	resp, err := c.service.Users.Messages.List("me").Q(query).MaxResults(50).Context(ctx).Do()
	if err != nil {
		return nil, classify(op, err)
	}

	var out []mailer.InboundMail
	for _, ref := range resp.Messages {
		msg, err := c.service.Users.Messages.Get("me", ref.Id).
			Format("metadata").
			MetadataHeaders("From", "Subject", trackingHeader).
			Context(ctx).Do()
		if err != nil {
			return nil, classify(op, err)
		}
		out = append(out, parseInbound(msg))
	}
	return out, nil
}

func parseInbound(msg *gmailapi.Message) mailer.InboundMail {
	in := mailer.InboundMail{
		ProviderMsgID:    msg.Id,
		ProviderThreadID: msg.ThreadId,
		Received:         time.Unix(msg.InternalDate/1000, 0).UTC(),
	}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch h.Name {
			case "From":
				in.From = h.Value
			case "Subject":
				in.Subject = h.Value
			case trackingHeader:
				in.TrackingID = h.Value
			}
		}
	}
	return in
}

// MarkRead removes the unread flag, simulating an open.
func (c *Client) MarkRead(ctx context.Context, providerMsgID string) error {
	_, err := c.service.Users.Messages.Modify("me", providerMsgID, &gmailapi.ModifyMessageRequest{
		RemoveLabelIds: []string{"UNREAD"},
	}).Context(ctx).Do()
	return classify("gmail mark read", err)
}

// MarkImportant stars the message.
func (c *Client) MarkImportant(ctx context.Context, providerMsgID string) error {
	_, err := c.service.Users.Messages.Modify("me", providerMsgID, &gmailapi.ModifyMessageRequest{
		AddLabelIds: []string{"STARRED", "IMPORTANT"},
	}).Context(ctx).Do()
	return classify("gmail mark important", err)
}

// Unspam moves a message from spam back to the inbox.
func (c *Client) Unspam(ctx context.Context, providerMsgID string) error {
	_, err := c.service.Users.Messages.Modify("me", providerMsgID, &gmailapi.ModifyMessageRequest{
		RemoveLabelIds: []string{"SPAM"},
		AddLabelIds:    []string{"INBOX"},
	}).Context(ctx).Do()
	return classify("gmail unspam", err)
}

var _ mailer.Client = (*Client)(nil)

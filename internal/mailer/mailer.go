// Package mailer defines the provider-facing mail client and its error
// taxonomy. Workers depend on this interface; provider adapters live in
// subpackages.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a provider failure for retry decisions.
type ErrorKind int

const (
	// Transient failures (rate limits, 5xx, network) are retried.
	Transient ErrorKind = iota
	// PermanentAuth means the credentials are dead; the mailbox is
	// sidelined until a human re-authorizes it.
	PermanentAuth
	// PermanentOther covers everything else that retrying cannot fix.
	PermanentOther
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case PermanentAuth:
		return "permanent_auth"
	case PermanentOther:
		return "permanent"
	}
	return "unknown"
}

// Error is a classified provider failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps a provider failure with its classification.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	var me *Error
	return errors.As(err, &me) && me.Kind == Transient
}

// IsAuthFailure reports whether err means the credentials are dead.
func IsAuthFailure(err error) bool {
	var me *Error
	return errors.As(err, &me) && me.Kind == PermanentAuth
}

// OutboundMail is one message to send.
type OutboundMail struct {
	From    string
	To      string
	Subject string
	Body    string
	// TrackingID is embedded in a custom header so inbound scans can
	// correlate the message back to its originating send.
	TrackingID string
	// ThreadID and InReplyTo are set for replies so the provider threads
	// the conversation.
	ThreadID  string
	InReplyTo string
}

// SendResult identifies the message at the provider after a send.
type SendResult struct {
	ProviderMsgID    string
	ProviderThreadID string
}

// InboundMail is a message found in a mailbox during a scan.
type InboundMail struct {
	ProviderMsgID    string
	ProviderThreadID string
	From             string
	Subject          string
	TrackingID       string
	Received         time.Time
}

// Client is the provider-facing surface the workers use. One Client is
// bound to one mailbox's credentials.
type Client interface {
	// Send delivers a new message and returns provider ids.
	Send(ctx context.Context, mail OutboundMail) (*SendResult, error)

	// SendReply delivers a reply inside an existing thread.
	SendReply(ctx context.Context, mail OutboundMail) (*SendResult, error)

	// ListUnreadFrom returns unread inbox messages from the given sender.
	ListUnreadFrom(ctx context.Context, senderAddr string) ([]InboundMail, error)

	// ListSpamFrom returns spam-folder messages from the given sender.
	ListSpamFrom(ctx context.Context, senderAddr string) ([]InboundMail, error)

	// MarkRead removes the unread flag, simulating an open.
	MarkRead(ctx context.Context, providerMsgID string) error

	// MarkImportant stars/flags the message.
	MarkImportant(ctx context.Context, providerMsgID string) error

	// Unspam moves a message from spam back to the inbox.
	Unspam(ctx context.Context, providerMsgID string) error
}

package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/ignite/warmup-engine/internal/mailer"
	"github.com/ignite/warmup-engine/internal/model"
)

// fakeClient is an in-memory mailer.Client for worker tests.
type fakeClient struct {
	mu sync.Mutex

	sendErr    error
	sent       []mailer.OutboundMail
	replies    []mailer.OutboundMail
	unread     map[string][]mailer.InboundMail // keyed by sender address
	spam       map[string][]mailer.InboundMail
	read       []string
	starred    []string
	unspammed  []string
	unspamErr  error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		unread: map[string][]mailer.InboundMail{},
		spam:   map[string][]mailer.InboundMail{},
	}
}

func (f *fakeClient) Send(ctx context.Context, mail mailer.OutboundMail) (*mailer.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, mail)
	return &mailer.SendResult{ProviderMsgID: "prov-1", ProviderThreadID: "thread-1"}, nil
}

func (f *fakeClient) SendReply(ctx context.Context, mail mailer.OutboundMail) (*mailer.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.replies = append(f.replies, mail)
	return &mailer.SendResult{ProviderMsgID: "prov-r", ProviderThreadID: mail.ThreadID}, nil
}

func (f *fakeClient) ListUnreadFrom(ctx context.Context, senderAddr string) ([]mailer.InboundMail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread[senderAddr], nil
}

func (f *fakeClient) ListSpamFrom(ctx context.Context, senderAddr string) ([]mailer.InboundMail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spam[senderAddr], nil
}

func (f *fakeClient) MarkRead(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read = append(f.read, id)
	return nil
}

func (f *fakeClient) MarkImportant(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starred = append(f.starred, id)
	return nil
}

func (f *fakeClient) Unspam(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unspamErr != nil {
		return f.unspamErr
	}
	f.unspammed = append(f.unspammed, id)
	return nil
}

func staticFactory(c mailer.Client) ClientFactory {
	return func(ctx context.Context, mb *model.Mailbox) (mailer.Client, error) {
		return c, nil
	}
}

var errNoClient = errors.New("no client")

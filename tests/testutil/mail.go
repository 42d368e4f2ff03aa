package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nhle/maildesk/internal/mail"
	"github.com/nhle/maildesk/internal/model"
)

// FakeEngine is a mail.Engine that hands out FakeClients and counts calls.
// Set CreateErr to make Create fail, and Gate to block Create until the
// channel is closed. Gates blocks only the logins of one incoming username.
type FakeEngine struct {
	Mailboxes []model.Mailbox
	CreateErr error
	Gate      chan struct{}
	Gates     map[string]chan struct{}

	creates atomic.Int32

	mu      sync.Mutex
	clients []*FakeClient
}

// NewFakeEngine returns an engine whose clients report boxes.
func NewFakeEngine(boxes ...model.Mailbox) *FakeEngine {
	return &FakeEngine{Mailboxes: boxes}
}

// Create implements mail.Engine.
func (e *FakeEngine) Create(ctx context.Context, incoming model.IncomingProtocol, outgoing model.OutgoingProtocol) (mail.Client, error) {
	e.creates.Add(1)

	for _, gate := range []chan struct{}{e.Gate, e.Gates[incoming.Config.Credentials.Username()]} {
		if gate == nil {
			continue
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.CreateErr != nil {
		return nil, e.CreateErr
	}

	c := &FakeClient{Username: incoming.Config.Credentials.Username(), Mailboxes: e.Mailboxes}
	e.mu.Lock()
	e.clients = append(e.clients, c)
	e.mu.Unlock()
	return c, nil
}

// Creates returns how many times Create was called.
func (e *FakeEngine) Creates() int { return int(e.creates.Load()) }

// Clients returns every client created so far, oldest first.
func (e *FakeEngine) Clients() []*FakeClient {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*FakeClient(nil), e.clients...)
}

// FakeClient is an in-memory mail.Client. It records the peak number of
// operations running at once so tests can check exclusivity.
type FakeClient struct {
	Username  string
	Mailboxes []model.Mailbox
	Previews  []model.Preview
	Messages  map[string]*model.Message
	LogoutErr error

	// Hold, when set, blocks every operation until it is closed.
	Hold chan struct{}

	active    atomic.Int32
	peak      atomic.Int32
	calls     atomic.Int32
	loggedOut atomic.Bool
}

func (c *FakeClient) enter(ctx context.Context) (func(), error) {
	c.calls.Add(1)
	n := c.active.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	leave := func() { c.active.Add(-1) }

	if c.Hold != nil {
		select {
		case <-c.Hold:
		case <-ctx.Done():
			leave()
			return nil, ctx.Err()
		}
	}
	if c.loggedOut.Load() {
		leave()
		return nil, fmt.Errorf("client used after logout")
	}
	return leave, nil
}

// ListMailboxes implements mail.Client.
func (c *FakeClient) ListMailboxes(ctx context.Context) ([]model.Mailbox, error) {
	leave, err := c.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()
	return c.Mailboxes, nil
}

// GetMailbox implements mail.Client.
func (c *FakeClient) GetMailbox(ctx context.Context, id string) (*model.Mailbox, error) {
	leave, err := c.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()
	for i := range c.Mailboxes {
		if c.Mailboxes[i].ID == id {
			box := c.Mailboxes[i]
			return &box, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", mail.ErrMailboxNotFound, id)
}

// ListMessagePreviews implements mail.Client.
func (c *FakeClient) ListMessagePreviews(ctx context.Context, mailboxID string, start, end int) ([]model.Preview, error) {
	leave, err := c.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()

	start = max(start, 0)
	end = min(end, len(c.Previews))
	if start >= end {
		return []model.Preview{}, nil
	}
	return c.Previews[start:end], nil
}

// GetMessage implements mail.Client.
func (c *FakeClient) GetMessage(ctx context.Context, mailboxID, messageID string) (*model.Message, error) {
	leave, err := c.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()
	msg, ok := c.Messages[messageID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", mail.ErrMessageNotFound, messageID)
	}
	return msg, nil
}

// Logout implements mail.Client.
func (c *FakeClient) Logout(ctx context.Context) error {
	leave, err := c.enter(ctx)
	if err != nil {
		return err
	}
	defer leave()
	c.loggedOut.Store(true)
	return c.LogoutErr
}

// Calls returns the number of operations started on the client.
func (c *FakeClient) Calls() int { return int(c.calls.Load()) }

// PeakConcurrency returns the largest number of operations observed
// running at the same time.
func (c *FakeClient) PeakConcurrency() int { return int(c.peak.Load()) }

// LoggedOut reports whether Logout was called.
func (c *FakeClient) LoggedOut() bool { return c.loggedOut.Load() }

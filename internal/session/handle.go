package session

import (
	"context"
	"errors"

	"github.com/nhle/maildesk/internal/mail"
)

// ErrHandleClosed is returned by Do once the handle has been logged out.
var ErrHandleClosed = errors.New("session handle closed")

// Handle is a live mail client shared by every caller presenting the same
// identifier. Operations on it run one at a time.
type Handle struct {
	id     string
	client mail.Client

	// sem is a one-slot semaphore; holding it grants exclusive use of
	// client. Waiters give up when their context ends.
	sem chan struct{}

	// closed is guarded by sem.
	closed bool
}

// NewHandle wraps an authenticated client for the session id.
func NewHandle(id string, client mail.Client) *Handle {
	return &Handle{id: id, client: client, sem: make(chan struct{}, 1)}
}

// ID returns the session identifier the handle is registered under.
func (h *Handle) ID() string { return h.id }

func (h *Handle) lock(ctx context.Context) error {
	select {
	case h.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if h.closed {
		h.unlock()
		return ErrHandleClosed
	}
	return nil
}

func (h *Handle) unlock() { <-h.sem }

// Do runs fn with exclusive access to the client.
func (h *Handle) Do(ctx context.Context, fn func(ctx context.Context, c mail.Client) error) error {
	if err := h.lock(ctx); err != nil {
		return err
	}
	defer h.unlock()
	return fn(ctx, h.client)
}

// logout waits for in-flight operations, tears the client down and marks
// the handle closed. tornDown is false when the lock could not be taken;
// otherwise the handle is closed even if teardown returned an error.
func (h *Handle) logout(ctx context.Context) (tornDown bool, err error) {
	if err := h.lock(ctx); err != nil {
		return false, err
	}
	defer h.unlock()
	h.closed = true
	return true, h.client.Logout(ctx)
}

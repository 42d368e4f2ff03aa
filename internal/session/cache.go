// Package session keeps the live mail clients of logged-in accounts and
// rebuilds them from stored credentials when they are missing.
package session

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/nhle/maildesk/internal/apperror"
	"github.com/nhle/maildesk/internal/credential"
	"github.com/nhle/maildesk/internal/identifier"
	"github.com/nhle/maildesk/internal/mail"
	"github.com/nhle/maildesk/internal/model"
)

// CredentialSource returns the serialized login configuration stored under
// an identifier. A missing entry is reported with credential.ErrNotFound.
type CredentialSource interface {
	Get(ctx context.Context, id string) (string, error)
}

// Cache maps session identifiers to live handles. It is safe for
// concurrent use and starts empty.
type Cache struct {
	handles *shardedMap
	creds   CredentialSource
	engine  mail.Engine
	flights singleflight.Group
	log     *zap.Logger
}

// New returns an empty Cache that rehydrates misses from creds through
// engine.
func New(creds CredentialSource, engine mail.Engine, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		handles: newShardedMap(),
		creds:   creds,
		engine:  engine,
		log:     log.Named("session"),
	}
}

// Insert registers h under its identifier and returns the handle it
// replaced, if any. The replaced handle is not torn down.
func (c *Cache) Insert(h *Handle) *Handle {
	return c.handles.store(h.id, h)
}

// Remove evicts id. It is a no-op when id is not cached.
func (c *Cache) Remove(id string) {
	if c.handles.delete(id) {
		c.log.Debug("evicted session", zap.String("id", identifier.Short(id)))
	}
}

// Len returns the number of cached sessions.
func (c *Cache) Len() int { return c.handles.len() }

// Get returns the cached handle for id, rehydrating it from stored
// credentials on a miss. Concurrent misses for the same id share one
// reconnect; misses for different ids proceed independently.
//
// Errors are *apperror.Error: an unknown id surfaces as an unknown-session
// error, other keyring failures as Keyring, a corrupt payload as JSON and a
// failed reconnect as Mail.
func (c *Cache) Get(ctx context.Context, id string) (*Handle, error) {
	if h, ok := c.handles.load(id); ok {
		return h, nil
	}
	if !identifier.Valid(id) {
		return nil, apperror.UnknownSession(nil)
	}

	// The reconnect outlives any single waiter so that a canceled caller
	// does not fail the others sharing the flight.
	ch := c.flights.DoChan(id, func() (any, error) {
		return c.rehydrate(context.WithoutCancel(ctx), id)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Handle), nil
	case <-ctx.Done():
		return nil, apperror.Mail(ctx.Err())
	}
}

// Do runs fn against the session for id. If the handle is logged out
// between lookup and use, the lookup is repeated once.
func (c *Cache) Do(ctx context.Context, id string, fn func(ctx context.Context, client mail.Client) error) error {
	for attempt := 0; ; attempt++ {
		h, err := c.Get(ctx, id)
		if err != nil {
			return err
		}

		err = h.Do(ctx, fn)
		if errors.Is(err, ErrHandleClosed) && attempt == 0 {
			continue
		}
		return err
	}
}

// Logout tears down h and evicts it. Eviction happens even when the
// teardown fails; the stored credentials are left in place.
func (c *Cache) Logout(ctx context.Context, h *Handle) error {
	tornDown, err := h.logout(ctx)
	if !tornDown {
		if errors.Is(err, ErrHandleClosed) {
			// Someone else logged it out first.
			c.handles.compareAndDelete(h.id, h)
			return nil
		}
		return apperror.Mail(err)
	}

	if c.handles.compareAndDelete(h.id, h) {
		c.log.Debug("evicted session", zap.String("id", identifier.Short(h.id)))
	}
	if err != nil {
		c.log.Warn("session teardown failed", zap.String("id", identifier.Short(h.id)), zap.Error(err))
		return apperror.Mail(err)
	}
	return nil
}

func (c *Cache) rehydrate(ctx context.Context, id string) (*Handle, error) {
	// A flight that finished just before this one may have filled the slot.
	if h, ok := c.handles.load(id); ok {
		return h, nil
	}

	log := c.log.With(zap.String("id", identifier.Short(id)))

	payload, err := c.creds.Get(ctx, id)
	if err != nil {
		if credential.IsNotFound(err) {
			log.Debug("no stored credentials")
			return nil, apperror.UnknownSession(err)
		}
		return nil, apperror.Keyring(err)
	}

	login, err := model.ParseLoginConfig([]byte(payload))
	if err != nil {
		return nil, apperror.JSON(err)
	}

	client, err := c.engine.Create(ctx, login.Incoming, login.Outgoing)
	if err != nil {
		log.Info("reconnect failed", zap.Object("login", login), zap.Error(err))
		return nil, apperror.Mail(err)
	}

	h := NewHandle(id, client)
	if old := c.Insert(h); old != nil {
		log.Warn("rehydration replaced a live session without closing it")
	}
	log.Info("session rehydrated", zap.Object("login", login))
	return h, nil
}

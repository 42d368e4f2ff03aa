package testutil

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/99designs/keyring"

	"github.com/nhle/maildesk/internal/credential"
)

// NewTestCredentials returns a credential.Store over an in-memory keyring.
func NewTestCredentials(t *testing.T) *credential.Store {
	t.Helper()
	return credential.New(keyring.NewArrayKeyring(nil), nil)
}

// CountingCredentials wraps a credential source and counts Get calls.
type CountingCredentials struct {
	Source interface {
		Get(ctx context.Context, id string) (string, error)
	}

	gets atomic.Int32
}

// Get forwards to Source.
func (c *CountingCredentials) Get(ctx context.Context, id string) (string, error) {
	c.gets.Add(1)
	return c.Source.Get(ctx, id)
}

// Gets returns how many times Get was called.
func (c *CountingCredentials) Gets() int { return int(c.gets.Load()) }

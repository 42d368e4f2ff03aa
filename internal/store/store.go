package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/maildesk/internal/model"
)

// ErrNotFound is returned when no account exists for a token.
var ErrNotFound = errors.New("account not found")

// Store defines the persistence interface for the account index. It never
// holds credentials; those live in the keyring.
type Store interface {
	// UpsertAccount inserts the account or refreshes an existing row with
	// the same token. CreatedAt of an existing row is kept.
	UpsertAccount(ctx context.Context, account model.Account) error

	// TouchAccount sets LastUsedAt for token. Unknown tokens are ignored.
	TouchAccount(ctx context.Context, token string, at time.Time) error

	// GetAccount returns the account for token or ErrNotFound.
	GetAccount(ctx context.Context, token string) (*model.Account, error)

	// ListAccounts returns every account, most recently used first.
	ListAccounts(ctx context.Context) ([]model.Account, error)

	Close() error
}

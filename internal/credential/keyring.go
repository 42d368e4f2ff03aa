package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/99designs/keyring"
	"go.uber.org/zap"

	"github.com/nhle/maildesk/internal/identifier"
	"github.com/nhle/maildesk/internal/model"
)

// ErrNotFound is returned by Get when no credential is stored under the key.
var ErrNotFound = errors.New("credential not found")

// Store keeps serialized login configurations in the OS keyring, one item
// per session identifier. Payloads are never logged.
type Store struct {
	// Some backends (the array and file keyrings) are not safe for
	// concurrent use, so every ring call holds mu.
	mu   sync.Mutex
	ring keyring.Keyring
	log  *zap.Logger
}

// Open returns a Store backed by the keyring selected in cfg.
func Open(cfg model.KeyringConfig, log *zap.Logger) (*Store, error) {
	backends, err := parseBackends(cfg.Backends)
	if err != nil {
		return nil, err
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:              cfg.Service,
		AllowedBackends:          backends,
		FileDir:                  cfg.FileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(cfg.Service + "-file-key"),
		KeychainTrustApplication: true,
		LibSecretCollectionName:  cfg.Service,
		PassPrefix:               cfg.Service,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}

	return New(ring, log), nil
}

// New wraps an already opened keyring.
func New(ring keyring.Keyring, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{ring: ring, log: log.Named("credential")}
}

// Put stores payload under id, replacing any existing item.
func (s *Store) Put(ctx context.Context, id, payload string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	err := s.ring.Set(keyring.Item{
		Key:         id,
		Data:        []byte(payload),
		Label:       "maildesk session " + identifier.Short(id),
		Description: "mail account login",
	})
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("setting credential %s: %w", identifier.Short(id), err)
	}

	s.log.Debug("stored credential", zap.String("id", identifier.Short(id)))
	return nil
}

// Get retrieves the payload stored under id. It returns an error wrapping
// ErrNotFound when there is none.
func (s *Store) Get(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	item, err := s.ring.Get(id)
	s.mu.Unlock()
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("getting credential %s: %w", identifier.Short(id), ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %s: %w", identifier.Short(id), err)
	}

	return string(item.Data), nil
}

// IsNotFound reports whether err (or any error in its chain) is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func parseBackends(names []string) ([]keyring.BackendType, error) {
	if len(names) == 0 {
		return nil, nil
	}

	backends := make([]keyring.BackendType, 0, len(names))
	for _, name := range names {
		switch b := keyring.BackendType(name); b {
		case keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.KWalletBackend,
			keyring.KeyCtlBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend:
			backends = append(backends, b)
		default:
			return nil, fmt.Errorf("unknown keyring backend %q", name)
		}
	}
	return backends, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/maildesk/internal/identifier"
	"github.com/nhle/maildesk/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// UpsertAccount inserts an account or refreshes the row with the same token.
func (s *SQLiteStore) UpsertAccount(ctx context.Context, a model.Account) error {
	if a.Token == "" {
		return fmt.Errorf("account token must not be empty")
	}

	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.LastUsedAt.IsZero() {
		a.LastUsedAt = a.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (
			token, incoming_kind, username, incoming_domain,
			outgoing_username, outgoing_domain, created_at, last_used_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET
			incoming_kind     = excluded.incoming_kind,
			username          = excluded.username,
			incoming_domain   = excluded.incoming_domain,
			outgoing_username = excluded.outgoing_username,
			outgoing_domain   = excluded.outgoing_domain,
			last_used_at      = excluded.last_used_at`,
		a.Token, string(a.IncomingKind), a.Username, a.IncomingDomain,
		a.OutgoingUsername, a.OutgoingDomain, a.CreatedAt.UTC(), a.LastUsedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting account %s: %w", identifier.Short(a.Token), err)
	}
	return nil
}

// TouchAccount records that token was used at the given time.
func (s *SQLiteStore) TouchAccount(ctx context.Context, token string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET last_used_at = ? WHERE token = ?",
		at.UTC(), token,
	)
	if err != nil {
		return fmt.Errorf("touching account %s: %w", identifier.Short(token), err)
	}
	return nil
}

// GetAccount retrieves a single account by its token.
func (s *SQLiteStore) GetAccount(ctx context.Context, token string) (*model.Account, error) {
	var a model.Account
	err := s.db.GetContext(ctx, &a, "SELECT * FROM accounts WHERE token = ?", token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting account %s: %w", identifier.Short(token), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting account %s: %w", identifier.Short(token), err)
	}
	return &a, nil
}

// ListAccounts returns every account, most recently used first.
func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	accounts := []model.Account{}
	err := s.db.SelectContext(ctx, &accounts,
		"SELECT * FROM accounts ORDER BY last_used_at DESC, created_at DESC, token")
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	return accounts, nil
}

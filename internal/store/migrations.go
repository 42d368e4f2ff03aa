package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	token             TEXT PRIMARY KEY,
	incoming_kind     TEXT NOT NULL,
	username          TEXT NOT NULL,
	incoming_domain   TEXT NOT NULL,
	outgoing_username TEXT NOT NULL DEFAULT '',
	outgoing_domain   TEXT NOT NULL,
	created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_used_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_accounts_last_used ON accounts(last_used_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}

package model

import "time"

// Account is the non-secret record of a logged-in session, indexed by its
// token. It lets the presentation layer list known accounts without
// touching the keyring.
type Account struct {
	// Token is the session identifier returned by login.
	Token string `json:"token" db:"token"`

	// IncomingKind is the protocol used to read mail (Imap or Pop).
	IncomingKind IncomingKind `json:"incoming_kind" db:"incoming_kind"`

	// Username is the incoming account name.
	Username string `json:"username" db:"username"`

	// IncomingDomain is the host of the incoming server.
	IncomingDomain string `json:"incoming_domain" db:"incoming_domain"`

	// OutgoingUsername is the outgoing account name, often equal to Username.
	OutgoingUsername string `json:"outgoing_username" db:"outgoing_username"`

	// OutgoingDomain is the host of the outgoing server.
	OutgoingDomain string `json:"outgoing_domain" db:"outgoing_domain"`

	// CreatedAt is when the account first logged in.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// LastUsedAt is the last time a session operation used the token.
	LastUsedAt time.Time `json:"last_used_at" db:"last_used_at"`
}

// AccountFromLogin builds the index record for a login. Secrets are not
// copied.
func AccountFromLogin(token string, login LoginConfig, now time.Time) Account {
	return Account{
		Token:            token,
		IncomingKind:     login.Incoming.Kind,
		Username:         login.Incoming.Config.Credentials.Username(),
		IncomingDomain:   login.Incoming.Config.Server.Domain,
		OutgoingUsername: login.Outgoing.Config.Credentials.Username(),
		OutgoingDomain:   login.Outgoing.Config.Server.Domain,
		CreatedAt:        now,
		LastUsedAt:       now,
	}
}

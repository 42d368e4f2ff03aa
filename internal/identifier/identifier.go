// Package identifier derives the session token for a login configuration.
//
// The token is the lowercase hex SHA-256 of a canonical plaintext built from
// both protocol endpoints:
//
//	{user}:{secret}@{domain}{port}|{user}:{secret}@{domain}{port}
//
// incoming first, outgoing second. The token names the keyring entry holding
// the stored login, so the layout must not change without a migration.
package identifier

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/nhle/maildesk/internal/model"
)

// Length is the length of every derived identifier.
const Length = sha256.Size * 2

const separator = '|'

// Derive returns the identifier for login. Logins that agree on username,
// secret, domain and port of both endpoints get the same identifier.
func Derive(login model.LoginConfig) string {
	var b strings.Builder

	writeEndpoint(&b, login.Incoming.Config)
	b.WriteByte(separator)
	writeEndpoint(&b, login.Outgoing.Config)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Short returns a prefix of id safe to print in logs.
func Short(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}

// Valid reports whether s has the shape of a derived identifier.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func writeEndpoint(b *strings.Builder, cfg model.ProtocolConfig) {
	username, secret := cfg.Credentials.Pair()

	b.WriteString(username)
	b.WriteByte(':')
	b.WriteString(secret)
	b.WriteByte('@')
	b.WriteString(cfg.Server.Domain)
	b.WriteString(strconv.FormatUint(uint64(cfg.Server.Port), 10))
}

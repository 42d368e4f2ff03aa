package testutil

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nhle/maildesk/internal/identifier"
	"github.com/nhle/maildesk/internal/model"
)

// NewLogin returns an IMAP/SMTP login for user with password secret, using
// imap.example.com:993 and smtp.example.com:587.
func NewLogin(user, secret string) model.LoginConfig {
	creds := model.NewPasswordCredentials(user, secret)
	return model.LoginConfig{
		Incoming: model.IncomingProtocol{
			Kind: model.IncomingImap,
			Config: model.ProtocolConfig{
				Server:      model.ServerConfig{Domain: "imap.example.com", Port: 993, Security: model.SecurityTLS},
				Credentials: creds,
			},
		},
		Outgoing: model.OutgoingProtocol{
			Kind: model.OutgoingSmtp,
			Config: model.ProtocolConfig{
				Server:      model.ServerConfig{Domain: "smtp.example.com", Port: 587, Security: model.SecurityStartTLS},
				Credentials: creds,
			},
		},
	}
}

// StoreLogin serializes login into creds the way Login does and returns its
// identifier.
func StoreLogin(t *testing.T, creds interface {
	Put(ctx context.Context, id, payload string) error
}, login model.LoginConfig) string {
	t.Helper()

	payload, err := json.Marshal(login)
	if err != nil {
		t.Fatalf("encoding login: %v", err)
	}

	id := identifier.Derive(login)
	if err := creds.Put(context.Background(), id, string(payload)); err != nil {
		t.Fatalf("storing login: %v", err)
	}
	return id
}

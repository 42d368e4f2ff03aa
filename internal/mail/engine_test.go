package mail

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/maildesk/internal/model"
)

func testProtocols(kind model.IncomingKind) (model.IncomingProtocol, model.OutgoingProtocol) {
	creds := model.NewPasswordCredentials("a", "p1")
	return model.IncomingProtocol{
			Kind: kind,
			Config: model.ProtocolConfig{
				Server:      model.ServerConfig{Domain: "imap.example.com", Port: 993, Security: model.SecurityTLS},
				Credentials: creds,
			},
		}, model.OutgoingProtocol{
			Kind: model.OutgoingSmtp,
			Config: model.ProtocolConfig{
				Server:      model.ServerConfig{Domain: "smtp.example.com", Port: 587, Security: model.SecurityStartTLS},
				Credentials: creds,
			},
		}
}

func TestCreateRejectsPop(t *testing.T) {
	dialed := false
	e := NewEngine(Options{Dial: func(context.Context, string, string) (net.Conn, error) {
		dialed = true
		return nil, errors.New("unexpected dial")
	}})

	in, out := testProtocols(model.IncomingPop)
	_, err := e.Create(context.Background(), in, out)

	assert.ErrorIs(t, err, ErrUnsupportedProtocol)
	assert.False(t, dialed)
}

func TestCreateDialFailure(t *testing.T) {
	refused := errors.New("connection refused")

	var addrs []string
	e := NewEngine(Options{
		DialTimeout: time.Second,
		Dial: func(_ context.Context, network, addr string) (net.Conn, error) {
			addrs = append(addrs, network+" "+addr)
			return nil, refused
		},
	})

	in, out := testProtocols(model.IncomingImap)
	_, err := e.Create(context.Background(), in, out)

	require.Error(t, err)
	assert.ErrorIs(t, err, refused)
	assert.Contains(t, err.Error(), "imap.example.com:993")
	assert.Equal(t, []string{"tcp imap.example.com:993"}, addrs)
}

func TestNewEngineDefaults(t *testing.T) {
	e := NewEngine(Options{})
	assert.Equal(t, 30*time.Second, e.opts.DialTimeout)
	assert.Equal(t, "localhost", e.opts.Hostname)
	assert.Nil(t, e.policy)

	e = NewEngine(Options{SanitizeHTML: true})
	assert.NotNil(t, e.policy)
}

func TestTLSConfigSetsServerName(t *testing.T) {
	e := NewEngine(Options{})
	cfg := e.tlsConfig("imap.example.com")
	assert.Equal(t, "imap.example.com", cfg.ServerName)
}

func TestIsAuthError(t *testing.T) {
	err := fmt.Errorf("creating client: %w", &AuthError{Protocol: "imap", Username: "a", Err: errors.New("NO")})
	assert.True(t, IsAuthError(err))
	assert.Contains(t, err.Error(), "authentication failed for a")
	assert.False(t, IsAuthError(errors.New("other")))
}

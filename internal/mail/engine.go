// Package mail connects to incoming and outgoing mail servers and exposes
// the mailbox operations a logged-in session needs.
package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/nhle/maildesk/internal/model"
)

var (
	// ErrUnsupportedProtocol is returned by Create for protocol kinds the
	// engine cannot speak.
	ErrUnsupportedProtocol = errors.New("unsupported mail protocol")

	// ErrMailboxNotFound is returned when a mailbox id does not exist.
	ErrMailboxNotFound = errors.New("mailbox not found")

	// ErrMessageNotFound is returned when a message id does not exist in
	// the mailbox.
	ErrMessageNotFound = errors.New("message not found")
)

// AuthError indicates that a server rejected the supplied credentials.
type AuthError struct {
	Protocol string
	Username string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): authentication failed for %s: %v", e.Protocol, e.Username, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// Engine opens authenticated mail clients.
type Engine interface {
	// Create connects to both servers, authenticates, and returns a live
	// client. The outgoing server is only used to verify its credentials.
	Create(ctx context.Context, incoming model.IncomingProtocol, outgoing model.OutgoingProtocol) (Client, error)
}

// Client is a live, authenticated mail session. Implementations are not
// safe for concurrent use; callers serialize access.
type Client interface {
	// ListMailboxes returns the mailbox tree in server order.
	ListMailboxes(ctx context.Context) ([]model.Mailbox, error)

	// GetMailbox returns a single mailbox by id.
	GetMailbox(ctx context.Context, id string) (*model.Mailbox, error)

	// ListMessagePreviews returns previews for the half-open range
	// [start, end) of the mailbox, index 0 being the newest message.
	ListMessagePreviews(ctx context.Context, mailboxID string, start, end int) ([]model.Preview, error)

	// GetMessage fetches a full message.
	GetMessage(ctx context.Context, mailboxID, messageID string) (*model.Message, error)

	// Logout ends the session and closes the connection.
	Logout(ctx context.Context) error
}

// DialFunc opens a network connection.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Options configures a NetEngine.
type Options struct {
	// DialTimeout bounds connecting, the TLS handshake and authentication.
	DialTimeout time.Duration

	// Hostname is announced in SMTP EHLO.
	Hostname string

	// SanitizeHTML strips unsafe markup from HTML message bodies.
	SanitizeHTML bool

	// TLSConfig is cloned for every connection; ServerName is set per server.
	TLSConfig *tls.Config

	// Dial overrides the network dialer, mostly for tests.
	Dial DialFunc

	Logger *zap.Logger
}

// NetEngine is the Engine speaking IMAP for incoming and SMTP for outgoing
// mail.
type NetEngine struct {
	opts   Options
	policy *bluemonday.Policy
	log    *zap.Logger
}

// NewEngine returns a NetEngine with defaults filled in.
func NewEngine(opts Options) *NetEngine {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 30 * time.Second
	}
	if opts.Hostname == "" {
		opts.Hostname = "localhost"
	}
	if opts.Dial == nil {
		d := &net.Dialer{}
		opts.Dial = d.DialContext
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	e := &NetEngine{opts: opts, log: opts.Logger.Named("mail")}
	if opts.SanitizeHTML {
		e.policy = bluemonday.UGCPolicy()
	}
	return e
}

// Create implements Engine.
func (e *NetEngine) Create(
	ctx context.Context,
	incoming model.IncomingProtocol,
	outgoing model.OutgoingProtocol,
) (Client, error) {
	var client Client

	switch incoming.Kind {
	case model.IncomingImap:
		c, err := e.dialIMAP(ctx, incoming.Config)
		if err != nil {
			return nil, err
		}
		client = c
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProtocol, incoming.Kind)
	}

	switch outgoing.Kind {
	case model.OutgoingSmtp:
		if err := e.verifySMTP(ctx, outgoing.Config); err != nil {
			_ = client.Logout(ctx)
			return nil, err
		}
	default:
		_ = client.Logout(ctx)
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProtocol, outgoing.Kind)
	}

	e.log.Debug("mail client ready",
		zap.Object("incoming", incoming.Config),
		zap.Object("outgoing", outgoing.Config),
	)
	return client, nil
}

// connect dials server and applies TLS when security is Tls. The returned
// raw connection carries a deadline of DialTimeout that the caller clears
// once the session is established.
func (e *NetEngine) connect(
	ctx context.Context, server model.ServerConfig,
) (conn net.Conn, raw net.Conn, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, e.opts.DialTimeout)
	defer cancel()

	addr := server.Address()
	raw, err = e.opts.Dial(dialCtx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	if err := raw.SetDeadline(time.Now().Add(e.opts.DialTimeout)); err != nil {
		raw.Close()
		return nil, nil, fmt.Errorf("setting deadline for %s: %w", addr, err)
	}

	conn = raw
	if server.Security == model.SecurityTLS {
		conn = tls.Client(raw, e.tlsConfig(server.Domain))
	}
	return conn, raw, nil
}

func (e *NetEngine) tlsConfig(serverName string) *tls.Config {
	var cfg *tls.Config
	if e.opts.TLSConfig != nil {
		cfg = e.opts.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{}
	}
	cfg.ServerName = serverName
	return cfg
}

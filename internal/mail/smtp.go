package mail

import (
	"context"
	"errors"
	"fmt"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/nhle/maildesk/internal/model"
)

// verifySMTP connects to the outgoing server, authenticates and quits. It
// only proves the credentials work; no message is sent.
func (e *NetEngine) verifySMTP(ctx context.Context, cfg model.ProtocolConfig) error {
	conn, _, err := e.connect(ctx, cfg.Server)
	if err != nil {
		return err
	}

	addr := cfg.Server.Address()
	// The greeting is read lazily; a refused greeting fails Hello.
	cl := smtp.NewClient(conn)

	if err := cl.Hello(e.opts.Hostname); err != nil {
		cl.Close()
		return fmt.Errorf("EHLO to SMTP %s: %w", addr, err)
	}

	if cfg.Server.Security == model.SecurityStartTLS {
		if ok, _ := cl.Extension("STARTTLS"); !ok {
			cl.Close()
			return fmt.Errorf("SMTP %s does not offer STARTTLS", addr)
		}
		if err := cl.StartTLS(e.tlsConfig(cfg.Server.Domain)); err != nil {
			if err := cl.Quit(); err != nil {
				cl.Close()
			}
			return fmt.Errorf("starting TLS with SMTP %s: %w", addr, err)
		}
	}

	username, secret := cfg.Credentials.Pair()

	var saslClient sasl.Client
	if cfg.Credentials.IsOAuth() {
		saslClient = sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: username,
			Token:    secret,
			Host:     cfg.Server.Domain,
			Port:     int(cfg.Server.Port),
		})
	} else {
		saslClient = sasl.NewPlainClient("", username, secret)
	}

	if err := cl.Auth(saslClient); err != nil {
		if err := cl.Quit(); err != nil {
			cl.Close()
		}
		var smtpErr *smtp.SMTPError
		if errors.As(err, &smtpErr) {
			return &AuthError{Protocol: "smtp", Username: username, Err: err}
		}
		return fmt.Errorf("authenticating with SMTP %s: %w", addr, err)
	}

	if err := cl.Quit(); err != nil {
		cl.Close()
	}
	return nil
}

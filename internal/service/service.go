// Package service implements the boundary operations a presentation layer
// calls: login, mailbox and message reads, logout, server autodetection and
// the account list. Every error it returns is an *apperror.Error.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhle/maildesk/internal/apperror"
	"github.com/nhle/maildesk/internal/identifier"
	"github.com/nhle/maildesk/internal/mail"
	"github.com/nhle/maildesk/internal/model"
	"github.com/nhle/maildesk/internal/session"
	"github.com/nhle/maildesk/internal/store"
)

// CredentialStore persists serialized login configurations by identifier.
type CredentialStore interface {
	Put(ctx context.Context, id, payload string) error
	Get(ctx context.Context, id string) (string, error)
}

// Detector guesses server settings for an email address.
type Detector interface {
	Detect(ctx context.Context, emailAddress string) (*mail.DetectedConfig, error)
}

// Options holds the collaborators of a Service. Credentials and Engine are
// required; the rest are optional.
type Options struct {
	Credentials CredentialStore
	Engine      mail.Engine

	// Sessions defaults to a new cache over Credentials and Engine.
	Sessions *session.Cache

	// Accounts, when set, receives the non-secret account index.
	Accounts store.Store

	// Usage, when set, records last-used times for Accounts.
	Usage *UsageRecorder

	Detector Detector
	Logger   *zap.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Service runs the boundary operations against a shared session cache.
type Service struct {
	creds    CredentialStore
	engine   mail.Engine
	sessions *session.Cache
	accounts store.Store
	usage    *UsageRecorder
	detector Detector
	log      *zap.Logger
	now      func() time.Time
}

// New creates a Service from opts.
func New(opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	sessions := opts.Sessions
	if sessions == nil {
		sessions = session.New(opts.Credentials, opts.Engine, log)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		creds:    opts.Credentials,
		engine:   opts.Engine,
		sessions: sessions,
		accounts: opts.Accounts,
		usage:    opts.Usage,
		detector: opts.Detector,
		log:      log.Named("service"),
		now:      now,
	}
}

// Sessions returns the cache the service operates on.
func (s *Service) Sessions() *session.Cache { return s.sessions }

type requestIDKey struct{}

// WithRequestID attaches a request id that the service adds to its log
// lines. Calls without one get a fresh id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// requestLogger tags log lines of one boundary call.
func (s *Service) requestLogger(ctx context.Context, op string, fields ...zap.Field) *zap.Logger {
	return s.log.With(append([]zap.Field{
		zap.String("op", op),
		zap.String("request_id", requestID(ctx)),
	}, fields...)...)
}

// Login stores the configuration, connects to both servers and registers
// the live session. It returns the session token.
func (s *Service) Login(ctx context.Context, login model.LoginConfig) (string, error) {
	id := identifier.Derive(login)
	log := s.requestLogger(ctx, "login", zap.String("id", identifier.Short(id)), zap.Object("login", login))

	payload, err := json.Marshal(login)
	if err != nil {
		return "", s.fail(log, apperror.JSON(err))
	}

	if err := s.creds.Put(ctx, id, string(payload)); err != nil {
		return "", s.fail(log, apperror.Keyring(err))
	}

	client, err := s.engine.Create(ctx, login.Incoming, login.Outgoing)
	if err != nil {
		return "", s.fail(log, apperror.Mail(err))
	}

	if old := s.sessions.Insert(session.NewHandle(id, client)); old != nil {
		log.Warn("login replaced a live session without closing it")
	}

	if s.accounts != nil {
		if err := s.accounts.UpsertAccount(ctx, model.AccountFromLogin(id, login, s.now())); err != nil {
			log.Warn("updating account index failed", zap.Error(err))
		}
	}

	log.Info("logged in")
	return id, nil
}

// ListMailboxes returns the mailbox tree of the session.
func (s *Service) ListMailboxes(ctx context.Context, token string) ([]model.Mailbox, error) {
	var boxes []model.Mailbox
	err := s.run(ctx, "list_mailboxes", token, func(ctx context.Context, c mail.Client) error {
		var err error
		boxes, err = c.ListMailboxes(ctx)
		return err
	})
	return boxes, err
}

// GetMailbox returns one mailbox by id.
func (s *Service) GetMailbox(ctx context.Context, token, boxID string) (*model.Mailbox, error) {
	var box *model.Mailbox
	err := s.run(ctx, "get_mailbox", token, func(ctx context.Context, c mail.Client) error {
		var err error
		box, err = c.GetMailbox(ctx, boxID)
		return err
	}, zap.String("mailbox", boxID))
	return box, err
}

// ListMessagePreviews returns previews for [start, end) of the mailbox,
// newest first.
func (s *Service) ListMessagePreviews(ctx context.Context, token, boxID string, start, end int) ([]model.Preview, error) {
	var previews []model.Preview
	err := s.run(ctx, "list_message_previews", token, func(ctx context.Context, c mail.Client) error {
		var err error
		previews, err = c.ListMessagePreviews(ctx, boxID, start, end)
		return err
	}, zap.String("mailbox", boxID), zap.Int("start", start), zap.Int("end", end))
	return previews, err
}

// GetMessage returns a full message.
func (s *Service) GetMessage(ctx context.Context, token, boxID, messageID string) (*model.Message, error) {
	var msg *model.Message
	err := s.run(ctx, "get_message", token, func(ctx context.Context, c mail.Client) error {
		var err error
		msg, err = c.GetMessage(ctx, boxID, messageID)
		return err
	}, zap.String("mailbox", boxID), zap.String("message", messageID))
	return msg, err
}

// Logout ends the session and evicts it from the cache, also when the
// server side teardown fails. Stored credentials are kept, so the token
// can be used again later.
func (s *Service) Logout(ctx context.Context, token string) error {
	log := s.requestLogger(ctx, "logout", zap.String("id", identifier.Short(token)))

	h, err := s.sessions.Get(ctx, token)
	if err != nil {
		return s.fail(log, err)
	}
	if err := s.sessions.Logout(ctx, h); err != nil {
		return s.fail(log, err)
	}

	log.Info("logged out")
	return nil
}

// DetectConfig suggests server settings for emailAddress.
func (s *Service) DetectConfig(ctx context.Context, emailAddress string) (*mail.DetectedConfig, error) {
	log := s.requestLogger(ctx, "detect_config")

	if s.detector == nil {
		return nil, s.fail(log, apperror.Mail(errors.New("server autodetection is not configured")))
	}

	cfg, err := s.detector.Detect(ctx, emailAddress)
	if err != nil {
		return nil, s.fail(log, apperror.Mail(err))
	}
	return cfg, nil
}

// ListAccounts returns the account index, most recently used first.
func (s *Service) ListAccounts(ctx context.Context) ([]model.Account, error) {
	if s.accounts == nil {
		return []model.Account{}, nil
	}

	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return nil, s.fail(s.requestLogger(ctx, "list_accounts"), apperror.Io(err))
	}
	return accounts, nil
}

// run executes fn with exclusive use of the session for token.
func (s *Service) run(
	ctx context.Context,
	op, token string,
	fn func(ctx context.Context, c mail.Client) error,
	fields ...zap.Field,
) error {
	log := s.requestLogger(ctx, op, append(fields, zap.String("id", identifier.Short(token)))...)

	if err := s.sessions.Do(ctx, token, fn); err != nil {
		return s.fail(log, err)
	}

	if s.usage != nil {
		s.usage.Touch(token, s.now())
	}
	log.Debug("done")
	return nil
}

// fail converts err to *apperror.Error and logs it with its full cause.
func (s *Service) fail(log *zap.Logger, err error) error {
	appErr := apperror.From(err)

	switch {
	case apperror.IsUnknownSession(appErr):
		log.Info("unknown session")
	case appErr.Kind() == apperror.KindMail:
		log.Warn(appErr.Describe(), zap.Error(appErr))
	default:
		log.Error(appErr.Describe(), zap.Error(appErr))
	}
	return appErr
}

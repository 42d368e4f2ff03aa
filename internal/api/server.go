// Package api serves the boundary operations as a loopback JSON API for the
// desktop frontend.
package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhle/maildesk/internal/apperror"
	"github.com/nhle/maildesk/internal/mail"
	"github.com/nhle/maildesk/internal/service"
)

const requestIDKey = "requestid"

// Server wires HTTP routes to a service.Service.
type Server struct {
	app *fiber.App
	svc *service.Service
	log *zap.Logger
}

// New builds the fiber app and registers all routes.
func New(svc *service.Service, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{svc: svc, log: log.Named("api")}

	s.app = fiber.New(fiber.Config{
		AppName:               "maildesk",
		DisableStartupMessage: true,
		ReadTimeout:           time.Minute,
		ErrorHandler:          s.handleError,
	})

	s.app.Use(recover.New())
	s.app.Use(requestid.New(requestid.Config{
		Generator:  uuid.NewString,
		ContextKey: requestIDKey,
	}))
	s.app.Use(s.logRequests)

	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/health", s.health)

	s.app.Post("/detect", s.detect)
	s.app.Post("/login", s.login)
	s.app.Get("/accounts", s.listAccounts)

	s.app.Get("/mailboxes", requireToken, s.listMailboxes)
	s.app.Get("/mailboxes/:boxId", requireToken, s.getMailbox)
	s.app.Get("/mailboxes/:boxId/messages", requireToken, s.listMessagePreviews)
	s.app.Get("/mailboxes/:boxId/messages/:messageId", requireToken, s.getMessage)
	s.app.Post("/logout", requireToken, s.logout)

	s.app.Use(func(c *fiber.Ctx) error {
		return fiber.ErrNotFound
	})
}

// App exposes the underlying fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until Shutdown is called.
func (s *Server) Listen(addr string) error {
	s.log.Info("listening", zap.String("addr", addr))
	return s.app.Listen(addr)
}

// Shutdown stops accepting requests and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// logRequests logs one line per request. The Authorization header is never
// logged.
func (s *Server) logRequests(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	if err != nil {
		if herr := s.handleError(c, err); herr != nil {
			_ = c.SendStatus(fiber.StatusInternalServerError)
		}
	}

	s.log.Debug("request",
		zap.String("request_id", requestID(c)),
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", c.Response().StatusCode()),
		zap.Duration("latency", time.Since(start)),
	)
	return nil
}

// handleError renders any error as a failed Result envelope.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(failure(apperror.External{
			Message: fe.Message,
			Kind:    apperror.ExternalKind,
			Type:    "request",
		}))
	}

	appErr := apperror.From(err)
	return c.Status(statusFor(appErr)).JSON(failure(appErr.External()))
}

func statusFor(err *apperror.Error) int {
	switch {
	case apperror.IsUnknownSession(err):
		return fiber.StatusUnauthorized
	case err.Kind() == apperror.KindJSON:
		return fiber.StatusBadRequest
	case errors.Is(err, mail.ErrMailboxNotFound), errors.Is(err, mail.ErrMessageNotFound):
		return fiber.StatusNotFound
	case err.Kind() == apperror.KindMail:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func requestID(c *fiber.Ctx) string {
	id, _ := c.Locals(requestIDKey).(string)
	return id
}

// userContext returns the request context carrying the request id.
func userContext(c *fiber.Ctx) context.Context {
	return service.WithRequestID(c.UserContext(), requestID(c))
}

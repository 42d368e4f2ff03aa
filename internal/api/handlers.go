package api

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/nhle/maildesk/internal/apperror"
	"github.com/nhle/maildesk/internal/model"
)

const (
	tokenKey         = "token"
	defaultPageSize  = 50
	bearerPrefix     = "Bearer "
	maxPreviewWindow = 500
)

// requireToken extracts the bearer token. A missing token is reported the
// same way as an unknown one.
func requireToken(c *fiber.Ctx) error {
	token, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), bearerPrefix)
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return apperror.UnknownSession(nil)
	}
	c.Locals(tokenKey, token)
	return c.Next()
}

// pathParam returns a path parameter with percent-escapes decoded, so that
// hierarchical mailbox names like "INBOX%2FWork" arrive as "INBOX/Work".
func pathParam(c *fiber.Ctx, name string) string {
	raw := c.Params(name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

func tokenOf(c *fiber.Ctx) string {
	token, _ := c.Locals(tokenKey).(string)
	return token
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(success(fiber.Map{
		"status":   "ok",
		"sessions": s.svc.Sessions().Len(),
		"time":     time.Now().Format(time.RFC3339),
	}))
}

type detectRequest struct {
	EmailAddress string `json:"emailAddress"`
}

func (s *Server) detect(c *fiber.Ctx) error {
	var req detectRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return apperror.JSON(err)
	}

	cfg, err := s.svc.DetectConfig(userContext(c), req.EmailAddress)
	if err != nil {
		return err
	}
	return c.JSON(success(cfg))
}

type loginRequest struct {
	LoginConfiguration json.RawMessage `json:"loginConfiguration"`
}

func (s *Server) login(c *fiber.Ctx) error {
	var req loginRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return apperror.JSON(err)
	}
	if len(req.LoginConfiguration) == 0 {
		return apperror.JSON(fmt.Errorf("missing loginConfiguration"))
	}

	login, err := model.ParseLoginConfig(req.LoginConfiguration)
	if err != nil {
		return apperror.JSON(err)
	}

	token, err := s.svc.Login(userContext(c), login)
	if err != nil {
		return err
	}
	return c.JSON(success(token))
}

func (s *Server) listAccounts(c *fiber.Ctx) error {
	accounts, err := s.svc.ListAccounts(userContext(c))
	if err != nil {
		return err
	}
	return c.JSON(success(accounts))
}

func (s *Server) listMailboxes(c *fiber.Ctx) error {
	boxes, err := s.svc.ListMailboxes(userContext(c), tokenOf(c))
	if err != nil {
		return err
	}
	return c.JSON(success(boxes))
}

func (s *Server) getMailbox(c *fiber.Ctx) error {
	box, err := s.svc.GetMailbox(userContext(c), tokenOf(c), pathParam(c, "boxId"))
	if err != nil {
		return err
	}
	return c.JSON(success(box))
}

func (s *Server) listMessagePreviews(c *fiber.Ctx) error {
	start := c.QueryInt("start", 0)
	end := c.QueryInt("end", start+defaultPageSize)
	if start < 0 || end < start {
		return fiber.NewError(fiber.StatusBadRequest, "invalid range")
	}
	if end-start > maxPreviewWindow {
		end = start + maxPreviewWindow
	}

	previews, err := s.svc.ListMessagePreviews(userContext(c), tokenOf(c), pathParam(c, "boxId"), start, end)
	if err != nil {
		return err
	}
	return c.JSON(success(previews))
}

func (s *Server) getMessage(c *fiber.Ctx) error {
	msg, err := s.svc.GetMessage(userContext(c), tokenOf(c), pathParam(c, "boxId"), pathParam(c, "messageId"))
	if err != nil {
		return err
	}
	return c.JSON(success(msg))
}

func (s *Server) logout(c *fiber.Ctx) error {
	if err := s.svc.Logout(userContext(c), tokenOf(c)); err != nil {
		return err
	}
	return c.JSON(success(nil))
}

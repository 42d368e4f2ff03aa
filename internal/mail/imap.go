package mail

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/nhle/maildesk/internal/model"
)

// imapClient is a Client over one authenticated IMAP connection.
type imapClient struct {
	c      *imapclient.Client
	policy *bluemonday.Policy
	log    *zap.Logger
}

// dialIMAP connects to the IMAP server, authenticates, and returns the
// connected client. The caller owns the client and must call Logout.
func (e *NetEngine) dialIMAP(ctx context.Context, cfg model.ProtocolConfig) (*imapClient, error) {
	conn, raw, err := e.connect(ctx, cfg.Server)
	if err != nil {
		return nil, err
	}

	opts := &imapclient.Options{TLSConfig: e.tlsConfig(cfg.Server.Domain)}

	var client *imapclient.Client
	if cfg.Server.Security == model.SecurityStartTLS {
		client, err = imapclient.NewStartTLS(conn, opts)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("starting TLS with IMAP %s: %w", cfg.Server.Address(), err)
		}
	} else {
		client = imapclient.New(conn, opts)
	}

	if err := authenticateIMAP(client, cfg); err != nil {
		_ = client.Close()
		return nil, err
	}

	// The session is established; operations run without a deadline.
	if err := raw.SetDeadline(time.Time{}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clearing deadline for %s: %w", cfg.Server.Address(), err)
	}

	return &imapClient{
		c:      client,
		policy: e.policy,
		log:    e.log.With(zap.String("server", cfg.Server.Domain)),
	}, nil
}

func authenticateIMAP(client *imapclient.Client, cfg model.ProtocolConfig) error {
	username, secret := cfg.Credentials.Pair()

	var err error
	if cfg.Credentials.IsOAuth() {
		err = client.Authenticate(sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: username,
			Token:    secret,
			Host:     cfg.Server.Domain,
			Port:     int(cfg.Server.Port),
		}))
	} else {
		err = client.Login(username, secret).Wait()
	}
	if err == nil {
		return nil
	}

	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		return &AuthError{Protocol: "imap", Username: username, Err: err}
	}
	return fmt.Errorf("authenticating with IMAP %s: %w", cfg.Server.Address(), err)
}

// ListMailboxes implements Client.
func (s *imapClient) ListMailboxes(ctx context.Context) ([]model.Mailbox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items, err := s.listItems()
	if err != nil {
		return nil, err
	}
	return buildTree(items), nil
}

// GetMailbox implements Client.
func (s *imapClient) GetMailbox(ctx context.Context, id string) (*model.Mailbox, error) {
	boxes, err := s.ListMailboxes(ctx)
	if err != nil {
		return nil, err
	}

	box := findMailbox(boxes, id)
	if box == nil {
		return nil, fmt.Errorf("%w: %q", ErrMailboxNotFound, id)
	}
	return box, nil
}

// ListMessagePreviews implements Client.
func (s *imapClient) ListMessagePreviews(
	ctx context.Context, mailboxID string, start, end int,
) ([]model.Preview, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	total, err := s.selectMailbox(mailboxID)
	if err != nil {
		return nil, err
	}

	lo, hi, ok := previewRange(total, start, end)
	if !ok {
		return []model.Preview{}, nil
	}

	var seqSet imap.SeqSet
	seqSet.AddRange(lo, hi)

	buffers, err := s.c.Fetch(seqSet, &imap.FetchOptions{
		Envelope:     true,
		Flags:        true,
		UID:          true,
		InternalDate: true,
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetching previews from %q: %w", mailboxID, err)
	}

	sort.Slice(buffers, func(i, j int) bool {
		return buffers[i].SeqNum > buffers[j].SeqNum
	})

	previews := make([]model.Preview, 0, len(buffers))
	for _, buf := range buffers {
		previews = append(previews, previewFromBuffer(buf))
	}
	return previews, nil
}

// GetMessage implements Client.
func (s *imapClient) GetMessage(
	ctx context.Context, mailboxID, messageID string,
) (*model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	uid, err := strconv.ParseUint(messageID, 10, 32)
	if err != nil || uid == 0 {
		return nil, fmt.Errorf("%w: invalid id %q", ErrMessageNotFound, messageID)
	}

	if _, err := s.selectMailbox(mailboxID); err != nil {
		return nil, err
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	buffers, err := s.c.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
		Envelope:     true,
		Flags:        true,
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetching message %s from %q: %w", messageID, mailboxID, err)
	}
	if len(buffers) == 0 {
		return nil, fmt.Errorf("%w: %s in %q", ErrMessageNotFound, messageID, mailboxID)
	}

	buf := buffers[0]
	msg := messageFromBuffer(buf)

	if raw := buf.FindBodySection(bodySection); raw != nil {
		msg.Headers, msg.Content = parseBody(raw, s.policy)
	}

	return msg, nil
}

// Logout implements Client.
func (s *imapClient) Logout(_ context.Context) error {
	err := s.c.Logout().Wait()
	if closeErr := s.c.Close(); err == nil && closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("logging out of IMAP: %w", err)
	}
	return nil
}

// selectMailbox selects the mailbox and returns its message count.
func (s *imapClient) selectMailbox(id string) (uint32, error) {
	data, err := s.c.Select(id, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		var imapErr *imap.Error
		if errors.As(err, &imapErr) && imapErr.Code == imap.ResponseCodeNonExistent {
			return 0, fmt.Errorf("%w: %q", ErrMailboxNotFound, id)
		}
		return 0, fmt.Errorf("selecting %q: %w", id, err)
	}
	return data.NumMessages, nil
}

// listItems lists every mailbox with its counts, using LIST-STATUS when the
// server supports it and a STATUS per mailbox otherwise.
func (s *imapClient) listItems() ([]listItem, error) {
	statusOpts := &imap.StatusOptions{NumMessages: true, NumUnseen: true}
	listStatus := s.c.Caps().Has(imap.CapListStatus)

	var listOpts *imap.ListOptions
	if listStatus {
		listOpts = &imap.ListOptions{ReturnStatus: statusOpts}
	}

	data, err := s.c.List("", "*", listOpts).Collect()
	if err != nil {
		return nil, fmt.Errorf("listing mailboxes: %w", err)
	}

	items := make([]listItem, 0, len(data))
	for _, d := range data {
		item := listItemFromData(d)

		if item.selectable && !listStatus {
			status, err := s.c.Status(d.Mailbox, statusOpts).Wait()
			if err != nil {
				s.log.Debug("mailbox status failed", zap.String("mailbox", d.Mailbox), zap.Error(err))
			} else {
				item.counts = countsFromStatus(status)
			}
		}

		items = append(items, item)
	}
	return items, nil
}

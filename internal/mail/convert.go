package mail

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/microcosm-cc/bluemonday"

	"github.com/nhle/maildesk/internal/model"
)

// listItem is one LIST response reduced to what the mailbox tree needs.
type listItem struct {
	id         string
	delim      rune
	selectable bool
	counts     *model.Counts
}

func listItemFromData(d *imap.ListData) listItem {
	item := listItem{id: d.Mailbox, delim: d.Delim, selectable: true}
	for _, attr := range d.Attrs {
		if attr == imap.MailboxAttrNoSelect || attr == imap.MailboxAttrNonExistent {
			item.selectable = false
		}
	}
	if d.Status != nil {
		item.counts = countsFromStatus(d.Status)
	}
	return item
}

func countsFromStatus(status *imap.StatusData) *model.Counts {
	counts := &model.Counts{}
	if status.NumMessages != nil {
		counts.Total = *status.NumMessages
	}
	if status.NumUnseen != nil {
		counts.Unseen = *status.NumUnseen
	}
	return counts
}

// parentID returns the id of the mailbox containing id, or "" for a
// top-level mailbox.
func parentID(id string, delim rune) string {
	if delim == 0 {
		return ""
	}
	i := strings.LastIndex(id, string(delim))
	if i <= 0 {
		return ""
	}
	return id[:i]
}

func leafName(id string, delim rune) string {
	if delim == 0 {
		return id
	}
	i := strings.LastIndex(id, string(delim))
	if i < 0 {
		return id
	}
	return id[i+len(string(delim)):]
}

type treeNode struct {
	box      model.Mailbox
	children []*treeNode
}

func (n *treeNode) mailbox() model.Mailbox {
	box := n.box
	box.Children = make([]model.Mailbox, 0, len(n.children))
	for _, child := range n.children {
		box.Children = append(box.Children, child.mailbox())
	}
	return box
}

// buildTree nests mailboxes under their parents by delimiter, keeping the
// server order. Mailboxes whose parent was not listed stay at the top.
func buildTree(items []listItem) []model.Mailbox {
	nodes := make(map[string]*treeNode, len(items))
	order := make([]*treeNode, 0, len(items))

	for _, it := range items {
		delim := ""
		if it.delim != 0 {
			delim = string(it.delim)
		}
		n := &treeNode{box: model.Mailbox{
			ID:         it.id,
			Name:       leafName(it.id, it.delim),
			Delimiter:  delim,
			Selectable: it.selectable,
			Counts:     it.counts,
		}}
		if _, dup := nodes[it.id]; !dup {
			nodes[it.id] = n
		}
		order = append(order, n)
	}

	var roots []*treeNode
	for i, it := range items {
		n := order[i]
		if parent, ok := nodes[parentID(it.id, it.delim)]; ok && parent != n {
			parent.children = append(parent.children, n)
			continue
		}
		roots = append(roots, n)
	}

	boxes := make([]model.Mailbox, 0, len(roots))
	for _, root := range roots {
		boxes = append(boxes, root.mailbox())
	}
	return boxes
}

func findMailbox(boxes []model.Mailbox, id string) *model.Mailbox {
	for i := range boxes {
		if boxes[i].ID == id {
			box := boxes[i]
			return &box
		}
		if found := findMailbox(boxes[i].Children, id); found != nil {
			return found
		}
	}
	return nil
}

// previewRange maps the half-open index range [start, end), where index 0
// is the newest message, to the inclusive sequence number range [lo, hi].
// ok is false when the range selects nothing.
func previewRange(total uint32, start, end int) (lo, hi uint32, ok bool) {
	if start < 0 {
		start = 0
	}
	if end > int(total) {
		end = int(total)
	}
	if start >= end {
		return 0, 0, false
	}
	hi = total - uint32(start)
	lo = total - uint32(end) + 1
	return lo, hi, true
}

var flagNames = map[string]model.Flag{
	strings.ToLower(string(imap.FlagSeen)):     model.FlagRead,
	strings.ToLower(string(imap.FlagDeleted)):  model.FlagDeleted,
	strings.ToLower(string(imap.FlagAnswered)): model.FlagAnswered,
	strings.ToLower(string(imap.FlagFlagged)):  model.FlagFlagged,
	strings.ToLower(string(imap.FlagDraft)):    model.FlagDraft,
}

// flagsFrom maps system flags to message flags; keywords are dropped.
func flagsFrom(flags []imap.Flag) []model.Flag {
	out := make([]model.Flag, 0, len(flags))
	for _, f := range flags {
		if name, ok := flagNames[strings.ToLower(string(f))]; ok {
			out = append(out, name)
		}
	}
	return out
}

func addressesFrom(addrs []imap.Address) []model.Address {
	out := make([]model.Address, 0, len(addrs))
	for _, a := range addrs {
		// Group start and end markers have no host.
		if a.Host == "" {
			continue
		}
		out = append(out, model.Address{Name: a.Name, Address: a.Addr()})
	}
	return out
}

func previewFromBuffer(buf *imapclient.FetchMessageBuffer) model.Preview {
	p := model.Preview{
		ID:    strconv.FormatUint(uint64(buf.UID), 10),
		From:  []model.Address{},
		Flags: flagsFrom(buf.Flags),
	}

	sent := buf.InternalDate
	if buf.Envelope != nil {
		p.Subject = buf.Envelope.Subject
		p.From = addressesFrom(buf.Envelope.From)
		if !buf.Envelope.Date.IsZero() {
			sent = buf.Envelope.Date
		}
	}
	if !sent.IsZero() {
		ts := sent.Unix()
		p.Sent = &ts
	}
	return p
}

func messageFromBuffer(buf *imapclient.FetchMessageBuffer) *model.Message {
	msg := &model.Message{
		Preview: previewFromBuffer(buf),
		To:      []model.Address{},
		CC:      []model.Address{},
		BCC:     []model.Address{},
		Headers: map[string]string{},
	}
	if buf.Envelope != nil {
		msg.To = addressesFrom(buf.Envelope.To)
		msg.CC = addressesFrom(buf.Envelope.Cc)
		msg.BCC = addressesFrom(buf.Envelope.Bcc)
	}
	return msg
}

// parseBody parses a raw RFC 5322 message and extracts its headers and the
// first text/plain and text/html parts. HTML is sanitized when policy is
// set. A message that cannot be parsed is returned as plain text.
func parseBody(raw []byte, policy *bluemonday.Policy) (map[string]string, model.Content) {
	headers := map[string]string{}
	var content model.Content

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		text := string(raw)
		content.Text = &text
		return headers, content
	}
	defer mr.Close()

	fields := mr.Header.Fields()
	for fields.Next() {
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		key := fields.Key()
		if prev, ok := headers[key]; ok {
			value = prev + ", " + value
		}
		headers[key] = value
	}

	for {
		part, err := mr.NextPart()
		if err != nil {
			// io.EOF ends the message; anything else leaves what was read.
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, _ := h.ContentType()
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain") && content.Text == nil:
			text := string(body)
			content.Text = &text
		case strings.HasPrefix(contentType, "text/html") && content.HTML == nil:
			html := string(body)
			if policy != nil {
				html = policy.Sanitize(html)
			}
			content.HTML = &html
		}
	}

	return headers, content
}

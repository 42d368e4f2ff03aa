package mail

import (
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/microcosm-cc/bluemonday"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/maildesk/internal/model"
)

func TestPreviewRange(t *testing.T) {
	tests := []struct {
		name       string
		total      uint32
		start, end int
		lo, hi     uint32
		ok         bool
	}{
		{"first page", 100, 0, 20, 81, 100, true},
		{"second page", 100, 20, 40, 61, 80, true},
		{"clamped end", 10, 5, 50, 1, 5, true},
		{"single newest", 10, 0, 1, 10, 10, true},
		{"oldest only", 10, 9, 10, 1, 1, true},
		{"start past end of mailbox", 10, 10, 20, 0, 0, false},
		{"empty range", 10, 3, 3, 0, 0, false},
		{"inverted range", 10, 5, 2, 0, 0, false},
		{"empty mailbox", 0, 0, 20, 0, 0, false},
		{"negative start", 10, -5, 2, 9, 10, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lo, hi, ok := previewRange(tt.total, tt.start, tt.end)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.lo, lo)
			assert.Equal(t, tt.hi, hi)
		})
	}
}

func uint32p(v uint32) *uint32 { return &v }

func TestBuildTree(t *testing.T) {
	items := []listItem{
		{id: "INBOX", delim: '/', selectable: true, counts: &model.Counts{Total: 3, Unseen: 1}},
		{id: "INBOX/Work", delim: '/', selectable: true},
		{id: "INBOX/Work/2024", delim: '/', selectable: true},
		{id: "Archive", delim: '/', selectable: false},
		{id: "Orphan/Child", delim: '/', selectable: true},
		{id: "Sent", delim: '/', selectable: true},
	}

	tree := buildTree(items)
	require.Len(t, tree, 4)

	assert.Equal(t, "INBOX", tree[0].ID)
	assert.Equal(t, "INBOX", tree[0].Name)
	assert.Equal(t, "/", tree[0].Delimiter)
	assert.Equal(t, &model.Counts{Total: 3, Unseen: 1}, tree[0].Counts)
	require.Len(t, tree[0].Children, 1)
	assert.Equal(t, "Work", tree[0].Children[0].Name)
	require.Len(t, tree[0].Children[0].Children, 1)
	assert.Equal(t, "INBOX/Work/2024", tree[0].Children[0].Children[0].ID)
	assert.Equal(t, "2024", tree[0].Children[0].Children[0].Name)

	assert.Equal(t, "Archive", tree[1].ID)
	assert.False(t, tree[1].Selectable)
	assert.NotNil(t, tree[1].Children)

	assert.Equal(t, "Orphan/Child", tree[2].ID)
	assert.Equal(t, "Child", tree[2].Name)

	assert.Equal(t, "Sent", tree[3].ID)

	found := findMailbox(tree, "INBOX/Work/2024")
	require.NotNil(t, found)
	assert.Equal(t, "2024", found.Name)
	assert.Nil(t, findMailbox(tree, "Trash"))
}

func TestBuildTreeWithoutDelimiter(t *testing.T) {
	tree := buildTree([]listItem{{id: "INBOX", selectable: true}, {id: "a.b", selectable: true}})
	require.Len(t, tree, 2)
	assert.Equal(t, "", tree[0].Delimiter)
	assert.Equal(t, "a.b", tree[1].Name)
}

func TestListItemFromData(t *testing.T) {
	item := listItemFromData(&imap.ListData{
		Mailbox: "[Gmail]",
		Delim:   '/',
		Attrs:   []imap.MailboxAttr{imap.MailboxAttrNoSelect, imap.MailboxAttrHasChildren},
	})
	assert.False(t, item.selectable)
	assert.Nil(t, item.counts)

	item = listItemFromData(&imap.ListData{
		Mailbox: "INBOX",
		Delim:   '/',
		Status:  &imap.StatusData{Mailbox: "INBOX", NumMessages: uint32p(12), NumUnseen: uint32p(2)},
	})
	assert.True(t, item.selectable)
	assert.Equal(t, &model.Counts{Total: 12, Unseen: 2}, item.counts)
}

func TestFlagsFrom(t *testing.T) {
	got := flagsFrom([]imap.Flag{imap.FlagSeen, imap.Flag("\\flagged"), imap.Flag("$Junk"), imap.FlagDraft})
	assert.Equal(t, []model.Flag{model.FlagRead, model.FlagFlagged, model.FlagDraft}, got)
	assert.Empty(t, flagsFrom(nil))
}

func TestPreviewFromBuffer(t *testing.T) {
	date := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	buf := &imapclient.FetchMessageBuffer{
		SeqNum: 3,
		UID:    42,
		Flags:  []imap.Flag{imap.FlagSeen},
		Envelope: &imap.Envelope{
			Date:    date,
			Subject: "Hello",
			From:    []imap.Address{{Name: "Alice", Mailbox: "alice", Host: "example.com"}},
			To:      []imap.Address{{Mailbox: "bob", Host: "example.com"}},
		},
	}

	p := previewFromBuffer(buf)
	assert.Equal(t, "42", p.ID)
	assert.Equal(t, "Hello", p.Subject)
	assert.Equal(t, []model.Address{{Name: "Alice", Address: "alice@example.com"}}, p.From)
	require.NotNil(t, p.Sent)
	assert.Equal(t, date.Unix(), *p.Sent)
	assert.Equal(t, []model.Flag{model.FlagRead}, p.Flags)

	msg := messageFromBuffer(buf)
	assert.Equal(t, []model.Address{{Address: "bob@example.com"}}, msg.To)
	assert.Empty(t, msg.CC)
}

func TestPreviewFallsBackToInternalDate(t *testing.T) {
	internal := time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC)
	p := previewFromBuffer(&imapclient.FetchMessageBuffer{UID: 7, InternalDate: internal})

	assert.Equal(t, "7", p.ID)
	assert.Empty(t, p.From)
	require.NotNil(t, p.Sent)
	assert.Equal(t, internal.Unix(), *p.Sent)
}

const multipartMessage = "From: Alice <alice@example.com>\r\n" +
	"To: bob@example.com\r\n" +
	"Subject: =?utf-8?q?Caf=C3=A9?=\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=XYZ\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"plain body\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>html body</p><script>alert(1)</script>\r\n" +
	"--XYZ--\r\n"

func TestParseBodyMultipart(t *testing.T) {
	headers, content := parseBody([]byte(multipartMessage), bluemonday.UGCPolicy())

	assert.Equal(t, "Café", headers["Subject"])
	assert.Equal(t, "bob@example.com", headers["To"])

	require.NotNil(t, content.Text)
	assert.Equal(t, "plain body", strings.TrimSpace(*content.Text))

	require.NotNil(t, content.HTML)
	assert.Contains(t, *content.HTML, "<p>html body</p>")
	assert.NotContains(t, *content.HTML, "<script>")
}

func TestParseBodyWithoutSanitizer(t *testing.T) {
	_, content := parseBody([]byte(multipartMessage), nil)
	require.NotNil(t, content.HTML)
	assert.Contains(t, *content.HTML, "<script>")
}

func TestParseBodySinglePart(t *testing.T) {
	raw := "Subject: hi\r\nContent-Type: text/plain\r\n\r\njust text\r\n"
	headers, content := parseBody([]byte(raw), nil)

	assert.Equal(t, "hi", headers["Subject"])
	require.NotNil(t, content.Text)
	assert.Equal(t, "just text", strings.TrimSpace(*content.Text))
	assert.Nil(t, content.HTML)
}

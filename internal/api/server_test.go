package api_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/maildesk/internal/api"
	"github.com/nhle/maildesk/internal/apperror"
	"github.com/nhle/maildesk/internal/identifier"
	"github.com/nhle/maildesk/internal/model"
	"github.com/nhle/maildesk/internal/service"
	"github.com/nhle/maildesk/tests/testutil"
)

const loginBody = `{"loginConfiguration": {
	"incoming": {"Imap": {
		"server": {"domain": "imap.example.com", "port": 993, "security": "Tls"},
		"credentials": {"Password": {"username": "a", "password": "p1"}}
	}},
	"outgoing": {"Smtp": {
		"server": {"domain": "smtp.example.com", "port": 587, "security": "StartTls"},
		"credentials": {"Password": {"username": "a", "password": "p1"}}
	}}
}}`

type result struct {
	OK    bool               `json:"ok"`
	Data  json.RawMessage    `json:"data"`
	Error *apperror.External `json:"error"`
}

type harness struct {
	server *api.Server
	engine *testutil.FakeEngine
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	engine := testutil.NewFakeEngine(
		model.Mailbox{ID: "INBOX", Name: "INBOX", Delimiter: "/", Selectable: true, Children: []model.Mailbox{
			{ID: "INBOX/Work", Name: "Work", Delimiter: "/", Selectable: true, Children: []model.Mailbox{}},
		}},
	)
	svc := service.New(service.Options{
		Credentials: testutil.NewTestCredentials(t),
		Engine:      engine,
		Accounts:    testutil.NewTestStore(t),
	})
	return &harness{server: api.New(svc, nil), engine: engine}
}

func (h *harness) do(t *testing.T, method, path, token, body string) (int, result) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.server.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var res result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	return resp.StatusCode, res
}

func (h *harness) login(t *testing.T) string {
	t.Helper()

	status, res := h.do(t, http.MethodPost, "/login", "", loginBody)
	require.Equal(t, http.StatusOK, status)
	require.True(t, res.OK)

	var token string
	require.NoError(t, json.Unmarshal(res.Data, &token))
	return token
}

func TestLoginAndListMailboxes(t *testing.T) {
	h := newHarness(t)

	token := h.login(t)
	assert.True(t, identifier.Valid(token))

	status, res := h.do(t, http.MethodGet, "/mailboxes", token, "")
	require.Equal(t, http.StatusOK, status)
	require.True(t, res.OK)

	var boxes []model.Mailbox
	require.NoError(t, json.Unmarshal(res.Data, &boxes))
	require.Len(t, boxes, 1)
	assert.Equal(t, "INBOX", boxes[0].ID)
	assert.Equal(t, "INBOX/Work", boxes[0].Children[0].ID)
}

func TestGetMailboxDecodesEscapedID(t *testing.T) {
	h := newHarness(t)
	token := h.login(t)

	status, res := h.do(t, http.MethodGet, "/mailboxes/INBOX", token, "")
	require.Equal(t, http.StatusOK, status)

	var box model.Mailbox
	require.NoError(t, json.Unmarshal(res.Data, &box))
	assert.Equal(t, "INBOX", box.ID)

	status, res = h.do(t, http.MethodGet, "/mailboxes/Trash", token, "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.False(t, res.OK)
	require.NotNil(t, res.Error)
	assert.Equal(t, "MailError", res.Error.Kind)
	assert.Equal(t, "mail", res.Error.Type)
}

func TestMissingOrUnknownToken(t *testing.T) {
	h := newHarness(t)

	for _, token := range []string{"", "deadbeef", identifier.Derive(testutil.NewLogin("ghost", "x"))} {
		status, res := h.do(t, http.MethodGet, "/mailboxes", token, "")
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.False(t, res.OK)
		require.NotNil(t, res.Error)
		assert.Equal(t, "MailError", res.Error.Kind)
		assert.Equal(t, "keyring", res.Error.Type)
		assert.Contains(t, res.Error.Message, "unknown or expired session")
	}
}

func TestLoginRejectsBadPayload(t *testing.T) {
	h := newHarness(t)

	for _, body := range []string{`not json`, `{}`, `{"loginConfiguration": {"incoming": {}}}`} {
		status, res := h.do(t, http.MethodPost, "/login", "", body)
		assert.Equal(t, http.StatusBadRequest, status, body)
		require.NotNil(t, res.Error)
		assert.Equal(t, "json", res.Error.Type)
	}
	assert.Equal(t, 0, h.engine.Creates())
}

func TestMessagePreviewsRange(t *testing.T) {
	h := newHarness(t)
	token := h.login(t)

	client := h.engine.Clients()[0]
	client.Previews = []model.Preview{{ID: "3"}, {ID: "2"}, {ID: "1"}}

	status, res := h.do(t, http.MethodGet, "/mailboxes/INBOX/messages?start=1&end=3", token, "")
	require.Equal(t, http.StatusOK, status)

	var previews []model.Preview
	require.NoError(t, json.Unmarshal(res.Data, &previews))
	require.Len(t, previews, 2)
	assert.Equal(t, "2", previews[0].ID)

	status, _ = h.do(t, http.MethodGet, "/mailboxes/INBOX/messages?start=5&end=1", token, "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestGetMessage(t *testing.T) {
	h := newHarness(t)
	token := h.login(t)

	html := "<p>hi</p>"
	h.engine.Clients()[0].Messages = map[string]*model.Message{
		"7": {Preview: model.Preview{ID: "7", Subject: "hello"}, Content: model.Content{HTML: &html}},
	}

	status, res := h.do(t, http.MethodGet, "/mailboxes/INBOX%2FWork/messages/7", token, "")
	require.Equal(t, http.StatusOK, status)

	var msg model.Message
	require.NoError(t, json.Unmarshal(res.Data, &msg))
	assert.Equal(t, "hello", msg.Subject)
	require.NotNil(t, msg.Content.HTML)
	assert.Equal(t, html, *msg.Content.HTML)

	status, res = h.do(t, http.MethodGet, "/mailboxes/INBOX/messages/8", token, "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.False(t, res.OK)
	require.NotNil(t, res.Error)
	assert.Equal(t, "MailError", res.Error.Kind)
	assert.Equal(t, "mail", res.Error.Type)
}

func TestLogoutThenReuseToken(t *testing.T) {
	h := newHarness(t)
	token := h.login(t)

	status, res := h.do(t, http.MethodPost, "/logout", token, "")
	require.Equal(t, http.StatusOK, status)
	assert.True(t, res.OK)
	assert.True(t, h.engine.Clients()[0].LoggedOut())

	status, _ = h.do(t, http.MethodGet, "/mailboxes", token, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, h.engine.Creates())
}

func TestAccountsAndHealth(t *testing.T) {
	h := newHarness(t)
	token := h.login(t)

	status, res := h.do(t, http.MethodGet, "/accounts", "", "")
	require.Equal(t, http.StatusOK, status)

	var accounts []model.Account
	require.NoError(t, json.Unmarshal(res.Data, &accounts))
	require.Len(t, accounts, 1)
	assert.Equal(t, token, accounts[0].Token)
	assert.Equal(t, "a", accounts[0].Username)
	assert.NotContains(t, string(res.Data), "p1")

	status, res = h.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, status)
	assert.True(t, res.OK)
	assert.Contains(t, string(res.Data), `"sessions":1`)
}

func TestUnknownRoute(t *testing.T) {
	h := newHarness(t)

	status, res := h.do(t, http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.False(t, res.OK)
	require.NotNil(t, res.Error)
	assert.Equal(t, "request", res.Error.Type)
}

func TestDetectWithoutDetector(t *testing.T) {
	h := newHarness(t)

	status, res := h.do(t, http.MethodPost, "/detect", "", `{"emailAddress":"a@example.com"}`)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.False(t, res.OK)
}

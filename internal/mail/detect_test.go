package mail

import (
	"context"
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/maildesk/internal/model"
)

// startDNS serves the given SRV records on a loopback UDP port and answers
// NXDOMAIN for everything else.
func startDNS(t *testing.T, records map[string][]*dns.SRV) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)

		q := r.Question[0]
		srvs, ok := records[q.Name]
		if !ok {
			m.SetRcode(r, dns.RcodeNameError)
			_ = w.WriteMsg(m)
			return
		}
		for _, srv := range srvs {
			rr := *srv
			rr.Hdr = dns.RR_Header{Name: q.Name, Rrtype: dns.TypeSRV, Class: dns.ClassINET, Ttl: 60}
			m.Answer = append(m.Answer, &rr)
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started

	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func TestDetectFromSRV(t *testing.T) {
	addr := startDNS(t, map[string][]*dns.SRV{
		"_imaps._tcp.example.com.": {
			{Priority: 10, Weight: 1, Port: 993, Target: "imap-b.example.com."},
			{Priority: 0, Weight: 1, Port: 993, Target: "imap-a.example.com."},
		},
		"_imap._tcp.example.com.":       {{Priority: 0, Weight: 1, Port: 143, Target: "imap-a.example.com."}},
		"_pop3s._tcp.example.com.":      {{Priority: 0, Weight: 1, Port: 0, Target: "."}},
		"_submission._tcp.example.com.": {{Priority: 0, Weight: 1, Port: 587, Target: "smtp.example.com."}},
	})

	d, err := NewDetector([]string{addr}, nil)
	require.NoError(t, err)

	cfg, err := d.Detect(context.Background(), "Alice <alice@Example.com>")
	require.NoError(t, err)

	assert.Equal(t, "alice@Example.com", cfg.Username)

	require.Len(t, cfg.Incoming, 3)
	assert.Equal(t, "imap-a.example.com", cfg.Incoming[0].Domain)
	assert.Equal(t, model.SecurityTLS, cfg.Incoming[0].Security)
	assert.Equal(t, "srv", cfg.Incoming[0].Source)
	assert.Equal(t, "imap-b.example.com", cfg.Incoming[1].Domain)
	assert.Equal(t, uint16(143), cfg.Incoming[2].Port)
	assert.Equal(t, model.SecurityStartTLS, cfg.Incoming[2].Security)

	require.Len(t, cfg.Outgoing, 1)
	assert.Equal(t, "smtp.example.com", cfg.Outgoing[0].Domain)
	assert.Equal(t, uint16(587), cfg.Outgoing[0].Port)
	assert.Equal(t, string(model.OutgoingSmtp), cfg.Outgoing[0].Kind)
}

func TestDetectFallsBackToGuesses(t *testing.T) {
	addr := startDNS(t, nil)

	d, err := NewDetector([]string{addr}, nil)
	require.NoError(t, err)

	cfg, err := d.Detect(context.Background(), "bob@example.org")
	require.NoError(t, err)

	require.Len(t, cfg.Incoming, 1)
	assert.Equal(t, DetectedServer{
		Kind: "Imap", Domain: "imap.example.org", Port: 993, Security: model.SecurityTLS, Source: "guess",
	}, cfg.Incoming[0])

	require.Len(t, cfg.Outgoing, 1)
	assert.Equal(t, "smtp.example.org", cfg.Outgoing[0].Domain)
	assert.Equal(t, model.SecurityStartTLS, cfg.Outgoing[0].Security)
}

func TestDetectRejectsInvalidAddress(t *testing.T) {
	d, err := NewDetector([]string{"127.0.0.1:1"}, nil)
	require.NoError(t, err)

	_, err = d.Detect(context.Background(), "not an address")
	assert.Error(t, err)
}

package mail

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/miekg/dns"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/maildesk/internal/model"
)

// DetectedServer is one candidate server for an address.
type DetectedServer struct {
	Kind     string         `json:"kind"`
	Domain   string         `json:"domain"`
	Port     uint16         `json:"port"`
	Security model.Security `json:"security"`

	// Source is "srv" for DNS SRV answers and "guess" for fallbacks.
	Source string `json:"source"`

	priority uint16
	weight   uint16
}

// DetectedConfig lists candidate servers, best first.
type DetectedConfig struct {
	Username string           `json:"username"`
	Incoming []DetectedServer `json:"incoming"`
	Outgoing []DetectedServer `json:"outgoing"`
}

type srvService struct {
	name     string
	kind     string
	security model.Security
	incoming bool
}

// RFC 6186 and RFC 8314 service labels, implicit TLS before STARTTLS.
var srvServices = []srvService{
	{"_imaps._tcp", string(model.IncomingImap), model.SecurityTLS, true},
	{"_imap._tcp", string(model.IncomingImap), model.SecurityStartTLS, true},
	{"_pop3s._tcp", string(model.IncomingPop), model.SecurityTLS, true},
	{"_pop3._tcp", string(model.IncomingPop), model.SecurityStartTLS, true},
	{"_submissions._tcp", string(model.OutgoingSmtp), model.SecurityTLS, false},
	{"_submission._tcp", string(model.OutgoingSmtp), model.SecurityStartTLS, false},
}

// Detector guesses server settings for an email address from DNS.
type Detector struct {
	client    *dns.Client
	resolvers []string
	log       *zap.Logger
}

// NewDetector returns a Detector querying the given resolvers (host:port).
// When none are given the system resolv.conf is used.
func NewDetector(resolvers []string, log *zap.Logger) (*Detector, error) {
	if log == nil {
		log = zap.NewNop()
	}

	if len(resolvers) == 0 {
		cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil {
			return nil, fmt.Errorf("reading resolv.conf: %w", err)
		}
		for _, s := range cfg.Servers {
			resolvers = append(resolvers, net.JoinHostPort(s, cfg.Port))
		}
	}

	return &Detector{
		client:    &dns.Client{Timeout: 5 * time.Second},
		resolvers: resolvers,
		log:       log.Named("detect"),
	}, nil
}

// Detect returns candidate servers for emailAddress. Lookups that fail are
// skipped; conventional host names are suggested when DNS has nothing.
func (d *Detector) Detect(ctx context.Context, emailAddress string) (*DetectedConfig, error) {
	addr, err := mail.ParseAddress(emailAddress)
	if err != nil {
		return nil, fmt.Errorf("parsing address %q: %w", emailAddress, err)
	}

	at := strings.LastIndex(addr.Address, "@")
	if at < 0 || at == len(addr.Address)-1 {
		return nil, fmt.Errorf("address %q has no domain", emailAddress)
	}
	domain := strings.ToLower(addr.Address[at+1:])

	var (
		mu     sync.Mutex
		result = &DetectedConfig{Username: addr.Address}
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, svc := range srvServices {
		svc := svc
		g.Go(func() error {
			servers, err := d.lookupSRV(gctx, svc, domain)
			if err != nil {
				d.log.Debug("srv lookup failed",
					zap.String("service", svc.name),
					zap.String("domain", domain),
					zap.Error(err),
				)
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			if svc.incoming {
				result.Incoming = append(result.Incoming, servers...)
			} else {
				result.Outgoing = append(result.Outgoing, servers...)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sortServers(result.Incoming)
	sortServers(result.Outgoing)

	if len(result.Incoming) == 0 {
		result.Incoming = []DetectedServer{{
			Kind: string(model.IncomingImap), Domain: "imap." + domain, Port: 993,
			Security: model.SecurityTLS, Source: "guess",
		}}
	}
	if len(result.Outgoing) == 0 {
		result.Outgoing = []DetectedServer{{
			Kind: string(model.OutgoingSmtp), Domain: "smtp." + domain, Port: 587,
			Security: model.SecurityStartTLS, Source: "guess",
		}}
	}

	return result, nil
}

// lookupSRV asks each resolver in turn until one answers.
func (d *Detector) lookupSRV(ctx context.Context, svc srvService, domain string) ([]DetectedServer, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(svc.name+"."+domain), dns.TypeSRV)
	m.RecursionDesired = true

	var lastErr error
	for _, resolver := range d.resolvers {
		in, _, err := d.client.ExchangeContext(ctx, m, resolver)
		if err != nil {
			lastErr = err
			continue
		}
		if in.Rcode == dns.RcodeNameError {
			return nil, nil
		}
		if in.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("resolver %s: %s", resolver, dns.RcodeToString[in.Rcode])
			continue
		}

		var servers []DetectedServer
		for _, rr := range in.Answer {
			srv, ok := rr.(*dns.SRV)
			// A target of "." means the service is explicitly unavailable.
			if !ok || srv.Target == "." || srv.Port == 0 {
				continue
			}
			servers = append(servers, DetectedServer{
				Kind:     svc.kind,
				Domain:   strings.TrimSuffix(srv.Target, "."),
				Port:     srv.Port,
				Security: svc.security,
				Source:   "srv",
				priority: srv.Priority,
				weight:   srv.Weight,
			})
		}
		return servers, nil
	}
	return nil, lastErr
}

// sortServers orders IMAP before POP, implicit TLS before STARTTLS, then
// by SRV priority and weight.
func sortServers(servers []DetectedServer) {
	sort.SliceStable(servers, func(i, j int) bool {
		a, b := servers[i], servers[j]
		if a.Kind != b.Kind {
			return a.Kind == string(model.IncomingImap)
		}
		if (a.Security == model.SecurityTLS) != (b.Security == model.SecurityTLS) {
			return a.Security == model.SecurityTLS
		}
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		return a.weight > b.weight
	})
}

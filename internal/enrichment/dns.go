package enrichment

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const (
	resolvConfPath     = "/etc/resolv.conf"
	fallbackNameserver = "8.8.8.8:53"
)

// DNSResolver performs PTR lookups against a single nameserver.
type DNSResolver struct {
	server string
	client *dns.Client
}

// NewDNSResolver creates a resolver for server ("host" or "host:port").
// An empty server uses the first nameserver from /etc/resolv.conf, falling
// back to 8.8.8.8.
func NewDNSResolver(server string) *DNSResolver {
	if server == "" {
		server = systemNameserver(resolvConfPath)
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	return &DNSResolver{
		server: server,
		client: &dns.Client{Net: "udp", Timeout: DefaultLookupTimeout},
	}
}

// Server returns the nameserver address queries are sent to.
func (r *DNSResolver) Server() string {
	return r.server
}

func systemNameserver(path string) string {
	cfg, err := dns.ClientConfigFromFile(path)
	if err != nil || len(cfg.Servers) == 0 {
		return fallbackNameserver
	}
	return net.JoinHostPort(cfg.Servers[0], cfg.Port)
}

// Reverse implements ReverseResolver. NXDOMAIN and empty answers are
// reported as ErrNoData.
func (r *DNSResolver) Reverse(ctx context.Context, ip string) (string, error) {
	arpa, err := dns.ReverseAddr(ip)
	if err != nil {
		return "", fmt.Errorf("invalid IP address %q: %w", ip, err)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(arpa, dns.TypePTR)
	msg.RecursionDesired = true

	if deadline, ok := ctx.Deadline(); ok {
		// Keep the read timeout inside the lookup budget.
		if remaining := time.Until(deadline); remaining > 0 && remaining < r.client.Timeout {
			client := *r.client
			client.Timeout = remaining
			return exchangePTR(ctx, &client, msg, r.server)
		}
	}
	return exchangePTR(ctx, r.client, msg, r.server)
}

func exchangePTR(ctx context.Context, client *dns.Client, msg *dns.Msg, server string) (string, error) {
	resp, _, err := client.ExchangeContext(ctx, msg, server)
	if err != nil {
		return "", err
	}

	switch resp.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return "", ErrNoData
	default:
		return "", fmt.Errorf("PTR query answered %s", dns.RcodeToString[resp.Rcode])
	}

	for _, rr := range resp.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, "."), nil
		}
	}
	return "", ErrNoData
}

// ABOUTME: DNS TXT lookups against an explicit or system nameserver
// ABOUTME: Used for the batch version advertisement of the distribution service

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// DefaultVersionRecord is the TXT name that advertises current versions.
const DefaultVersionRecord = "current.cvd.clamav.net"

const (
	defaultDNSTimeout = 10 * time.Second
	resolvConf        = "/etc/resolv.conf"
)

// ErrNoTXTRecord is returned when the answer carries no TXT data.
var ErrNoTXTRecord = errors.New("no txt record in answer")

// TXTResolver queries TXT records.
type TXTResolver struct {
	nameserver string
	client     *dns.Client
}

// NewTXTResolver creates a resolver. An empty nameserver uses the first
// server from /etc/resolv.conf at query time. A nameserver without a port
// gets port 53.
func NewTXTResolver(nameserver string, timeout time.Duration) *TXTResolver {
	if timeout <= 0 {
		timeout = defaultDNSTimeout
	}
	if nameserver != "" {
		if _, _, err := net.SplitHostPort(nameserver); err != nil {
			nameserver = net.JoinHostPort(nameserver, "53")
		}
	}
	return &TXTResolver{
		nameserver: nameserver,
		client:     &dns.Client{Net: "udp", Timeout: timeout},
	}
}

// Nameserver returns the configured server, empty for the system default.
func (r *TXTResolver) Nameserver() string {
	return r.nameserver
}

// LookupTXT returns the TXT strings for name, one entry per record with the
// record's character-strings concatenated.
func (r *TXTResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	server, err := r.server()
	if err != nil {
		return nil, err
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeTXT)
	msg.RecursionDesired = true

	in, _, err := r.client.ExchangeContext(ctx, msg, server)
	if err != nil {
		return nil, fmt.Errorf("querying %s via %s: %w", name, server, err)
	}

	// Retry over TCP when the UDP answer did not fit.
	if in.Truncated {
		tcp := *r.client
		tcp.Net = "tcp"
		in, _, err = tcp.ExchangeContext(ctx, msg, server)
		if err != nil {
			return nil, fmt.Errorf("querying %s via %s over tcp: %w", name, server, err)
		}
	}

	if in.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("querying %s: rcode %s", name, dns.RcodeToString[in.Rcode])
	}

	var out []string
	for _, rr := range in.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			out = append(out, strings.Join(txt.Txt, ""))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoTXTRecord, name)
	}

	return out, nil
}

func (r *TXTResolver) server() (string, error) {
	if r.nameserver != "" {
		return r.nameserver, nil
	}
	conf, err := dns.ClientConfigFromFile(resolvConf)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", resolvConf, err)
	}
	if len(conf.Servers) == 0 {
		return "", fmt.Errorf("no nameservers in %s", resolvConf)
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port), nil
}

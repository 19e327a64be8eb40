// ABOUTME: Tests for the TXT resolver against an in-process DNS server
// ABOUTME: Covers answers, NXDOMAIN, empty answers, and nameserver defaults

package transport_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/transport"
)

// startDNS runs a UDP DNS server on loopback and returns its address.
func startDNS(t *testing.T, handler dns.HandlerFunc) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket() error = %v", err)
	}

	started := make(chan struct{})
	server := &dns.Server{
		PacketConn:        pc,
		Handler:           handler,
		NotifyStartedFunc: func() { close(started) },
	}
	go func() { _ = server.ActivateAndServe() }()
	t.Cleanup(func() { _ = server.Shutdown() })

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("dns server did not start")
	}

	return pc.LocalAddr().String()
}

func txtAnswer(t *testing.T, records ...string) dns.HandlerFunc {
	return func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		for _, rec := range records {
			rr, err := dns.NewRR(r.Question[0].Name + ` 60 IN TXT "` + rec + `"`)
			if err != nil {
				t.Errorf("NewRR() error = %v", err)
				continue
			}
			m.Answer = append(m.Answer, rr)
		}
		_ = w.WriteMsg(m)
	}
}

func TestTXTResolver_LookupTXT(t *testing.T) {
	t.Parallel()

	addr := startDNS(t, txtAnswer(t, "0.103.11:62:27001:1700000000:1:90:49192:334"))
	r := transport.NewTXTResolver(addr, time.Second)

	got, err := r.LookupTXT(context.Background(), transport.DefaultVersionRecord)
	if err != nil {
		t.Fatalf("LookupTXT() error = %v", err)
	}
	if len(got) != 1 || got[0] != "0.103.11:62:27001:1700000000:1:90:49192:334" {
		t.Errorf("LookupTXT() = %v", got)
	}
}

func TestTXTResolver_NXDomain(t *testing.T) {
	t.Parallel()

	addr := startDNS(t, func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeNameError)
		_ = w.WriteMsg(m)
	})
	r := transport.NewTXTResolver(addr, time.Second)

	if _, err := r.LookupTXT(context.Background(), "missing.example."); err == nil {
		t.Error("LookupTXT() expected error for NXDOMAIN")
	}
}

func TestTXTResolver_EmptyAnswer(t *testing.T) {
	t.Parallel()

	addr := startDNS(t, txtAnswer(t))
	r := transport.NewTXTResolver(addr, time.Second)

	_, err := r.LookupTXT(context.Background(), transport.DefaultVersionRecord)
	if !errors.Is(err, transport.ErrNoTXTRecord) {
		t.Errorf("LookupTXT() error = %v, want ErrNoTXTRecord", err)
	}
}

func TestNewTXTResolver_DefaultPort(t *testing.T) {
	t.Parallel()

	if got := transport.NewTXTResolver("9.9.9.9", 0).Nameserver(); got != "9.9.9.9:53" {
		t.Errorf("Nameserver() = %q, want 9.9.9.9:53", got)
	}
	if got := transport.NewTXTResolver("127.0.0.1:5353", 0).Nameserver(); got != "127.0.0.1:5353" {
		t.Errorf("Nameserver() = %q, want 127.0.0.1:5353", got)
	}
	if got := transport.NewTXTResolver("", 0).Nameserver(); got != "" {
		t.Errorf("Nameserver() = %q, want empty", got)
	}
}

// Package resolver turns a scan host into the single address that every
// probe of a job dials. It uses the system resolver by default and can
// query a specific DNS server through miekg/dns.
package resolver

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/anstrom/portsweep/internal/errors"
)

const defaultQueryTimeout = 3 * time.Second

//go:generate mockgen -source=resolver.go -destination=mocks/mock_resolver.go -package=mocks

// Resolver resolves a host name or IP literal to a dialable IP address.
type Resolver interface {
	Resolve(ctx context.Context, host string) (string, error)
}

// New returns a DNS server resolver when server is set, otherwise the
// system resolver.
func New(server string, timeout time.Duration) Resolver {
	if server == "" {
		return &SystemResolver{}
	}
	return NewDNSResolver(server, timeout)
}

// SystemResolver uses the platform resolver (hosts file, nsswitch, DNS).
type SystemResolver struct {
	// Resolver overrides net.DefaultResolver when set.
	Resolver *net.Resolver
}

// Resolve implements Resolver. IPv4 addresses are preferred.
func (r *SystemResolver) Resolve(ctx context.Context, host string) (string, error) {
	if ip, ok := literal(host); ok {
		return ip, nil
	}

	res := r.Resolver
	if res == nil {
		res = net.DefaultResolver
	}

	addrs, err := res.LookupIPAddr(ctx, host)
	if err != nil {
		return "", errors.ErrResolution(host, err)
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.IP)
	}
	ip := pick(ips)
	if ip == nil {
		return "", errors.ErrResolution(host, fmt.Errorf("no addresses found"))
	}
	return ip.String(), nil
}

// DNSResolver queries one DNS server directly for A, then AAAA records.
type DNSResolver struct {
	server string
	client *dns.Client
}

// NewDNSResolver creates a resolver for server ("host" or "host:port").
func NewDNSResolver(server string, timeout time.Duration) *DNSResolver {
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	return &DNSResolver{
		server: server,
		client: &dns.Client{Net: "udp", Timeout: timeout},
	}
}

// Server returns the DNS server address queried.
func (r *DNSResolver) Server() string {
	return r.server
}

// Resolve implements Resolver.
func (r *DNSResolver) Resolve(ctx context.Context, host string) (string, error) {
	if ip, ok := literal(host); ok {
		return ip, nil
	}

	var lastErr error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		ips, err := r.query(ctx, host, qtype)
		if err != nil {
			lastErr = err
			continue
		}
		if ip := pick(ips); ip != nil {
			return ip.String(), nil
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no addresses found")
	}
	return "", errors.ErrResolution(host, lastErr).WithContext("dns_server", r.server)
}

func (r *DNSResolver) query(ctx context.Context, host string, qtype uint16) ([]net.IP, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)
	msg.RecursionDesired = true

	resp, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		return nil, err
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("dns query for %s returned %s", host, dns.RcodeToString[resp.Rcode])
	}

	var ips []net.IP
	for _, rr := range resp.Answer {
		switch v := rr.(type) {
		case *dns.A:
			ips = append(ips, v.A)
		case *dns.AAAA:
			ips = append(ips, v.AAAA)
		}
	}
	return ips, nil
}

// literal reports whether host is already an IP address, stripping
// brackets and zones the way users tend to type them.
func literal(host string) (string, bool) {
	h := strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if i := strings.IndexByte(h, '%'); i >= 0 {
		h = h[:i]
	}
	ip := net.ParseIP(h)
	if ip == nil {
		return "", false
	}
	return ip.String(), true
}

// pick returns the first IPv4 address, falling back to the first address.
func pick(ips []net.IP) net.IP {
	for _, ip := range ips {
		if ip.To4() != nil {
			return ip
		}
	}
	if len(ips) > 0 {
		return ips[0]
	}
	return nil
}

// Package dnsresolver resolves destination names against explicit DNS
// servers instead of the system resolver.
package dnsresolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const defaultTimeout = 5 * time.Second

// Resolver queries A records from a list of servers, in order, until one
// answers. It satisfies resolve.Resolver.
type Resolver struct {
	servers []string
	udp     *dns.Client
	tcp     *dns.Client
}

// New returns a Resolver for servers. Servers without a port use 53.
func New(servers []string, timeout time.Duration) (*Resolver, error) {
	if len(servers) == 0 {
		return nil, errors.New("dnsresolver: no servers")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	r := &Resolver{
		udp: &dns.Client{Net: "udp", Timeout: timeout},
		tcp: &dns.Client{Net: "tcp", Timeout: timeout},
	}
	for _, s := range servers {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		r.servers = append(r.servers, s)
	}
	if len(r.servers) == 0 {
		return nil, errors.New("dnsresolver: no servers")
	}
	return r, nil
}

// LookupNetIP returns the IPv4 addresses for host. Only the "ip" and "ip4"
// networks are supported.
func (r *Resolver) LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error) {
	switch network {
	case "ip", "ip4":
	default:
		return nil, fmt.Errorf("dnsresolver: unsupported network %q", network)
	}

	if ip, err := netip.ParseAddr(host); err == nil {
		if !ip.Is4() {
			return nil, fmt.Errorf("dnsresolver: %s is not an IPv4 address", host)
		}
		return []netip.Addr{ip}, nil
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)

	var lastErr error
	for _, server := range r.servers {
		addrs, err := r.query(ctx, m, host, server)
		if err == nil {
			return addrs, nil
		}
		lastErr = err

		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func (r *Resolver) query(ctx context.Context, m *dns.Msg, host, server string) ([]netip.Addr, error) {
	resp, _, err := r.udp.ExchangeContext(ctx, m, server)
	if err == nil && resp.Truncated {
		resp, _, err = r.tcp.ExchangeContext(ctx, m, server)
	}
	if err != nil {
		return nil, &net.DNSError{Err: err.Error(), Name: host, Server: server, IsTimeout: isTimeout(err)}
	}

	switch resp.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return nil, &net.DNSError{Err: "no such host", Name: host, Server: server, IsNotFound: true}
	default:
		return nil, &net.DNSError{Err: dns.RcodeToString[resp.Rcode], Name: host, Server: server}
	}

	var addrs []netip.Addr
	for _, rr := range resp.Answer {
		a, ok := rr.(*dns.A)
		if !ok {
			continue
		}
		if ip, ok := netip.AddrFromSlice(a.A); ok {
			addrs = append(addrs, ip.Unmap())
		}
	}
	if len(addrs) == 0 {
		return nil, &net.DNSError{Err: "no such host", Name: host, Server: server, IsNotFound: true}
	}
	return addrs, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

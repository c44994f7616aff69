// Package resolve decides how a destination host is encoded in a proxy
// request: as an IPv4 literal, as a name the proxy resolves, or as an IPv4
// address resolved locally first.
package resolve

import (
	"context"
	"errors"
	"net"
	"net/netip"

	"github.com/die-net/proxytunnel/internal/proxyerr"
)

// Resolver looks up addresses for a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Target is the encoding chosen for a destination host.
type Target struct {
	// Host is the destination host as given by the caller.
	Host string
	// IP is the IPv4 address to encode. It is invalid when Name is set.
	IP netip.Addr
	// Name is set when the proxy is asked to resolve Host.
	Name string
	// Resolved is set when IP came from a local lookup.
	Resolved bool
}

// Remote reports whether the proxy resolves the name.
func (t Target) Remote() bool {
	return t.Name != ""
}

// Addr returns what the proxy is asked to connect to: the name in remote mode,
// otherwise the IPv4 address.
func (t Target) Addr() string {
	if t.Remote() {
		return t.Name
	}
	return t.IP.String()
}

// ParseIPv4 reports whether host is an IPv4 literal. IPv6 literals are an
// error.
func ParseIPv4(host string) (netip.Addr, bool, error) {
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false, nil
	}
	if !ip.Is4() {
		return netip.Addr{}, false, proxyerr.Invalid("destination host", "IPv6 address %s is not supported", host)
	}
	return ip, true, nil
}

// IsIPv4 reports whether host is an IPv4 literal.
func IsIPv4(host string) bool {
	_, ok, _ := ParseIPv4(host)
	return ok
}

// Plan chooses the encoding for host. Literals win over remote resolution;
// otherwise remote selects name encoding and !remote resolves through r.
func Plan(ctx context.Context, r Resolver, host string, remote bool) (Target, error) {
	ip, ok, err := ParseIPv4(host)
	if err != nil {
		return Target{}, err
	}
	if ok {
		return Target{Host: host, IP: ip}, nil
	}
	if remote {
		return Target{Host: host, Name: host}, nil
	}

	ip, err = LookupIPv4(ctx, r, host)
	if err != nil {
		return Target{}, err
	}
	return Target{Host: host, IP: ip, Resolved: true}, nil
}

var errNoIPv4 = errors.New("no IPv4 address found")

// LookupIPv4 resolves host to its first IPv4 address.
func LookupIPv4(ctx context.Context, r Resolver, host string) (netip.Addr, error) {
	if r == nil {
		r = net.DefaultResolver
	}
	addrs, err := r.LookupNetIP(ctx, "ip4", host)
	if err != nil {
		return netip.Addr{}, &proxyerr.ResolveError{Host: host, Err: err}
	}
	for _, a := range addrs {
		if a = a.Unmap(); a.Is4() {
			return a, nil
		}
	}
	return netip.Addr{}, &proxyerr.ResolveError{Host: host, Err: errNoIPv4}
}

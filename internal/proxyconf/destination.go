package proxyconf

import (
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/die-net/proxytunnel/internal/proxyerr"
)

// MaxHostLen is the longest destination name SOCKS5 can encode.
const MaxHostLen = 255

// Destination is the host and port the tunnel should reach.
type Destination struct {
	Host string
	Port int
}

// ParseDestination splits a "host:port" address.
func ParseDestination(address string) (Destination, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return Destination{}, proxyerr.Invalid("destination", "%v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Destination{}, proxyerr.Invalid("destination port", "%q is not a number", portStr)
	}
	d := Destination{Host: host, Port: port}
	if err := d.Validate(); err != nil {
		return Destination{}, err
	}
	return d, nil
}

// Validate checks the destination shape. IPv6 literals are rejected.
func (d Destination) Validate() error {
	if d.Host == "" {
		return proxyerr.Invalid("destination host", "empty")
	}
	if len(d.Host) > MaxHostLen {
		return proxyerr.Invalid("destination host", "longer than %d bytes", MaxHostLen)
	}
	if i := strings.IndexFunc(d.Host, invalidHostRune); i >= 0 {
		return proxyerr.Invalid("destination host", "contains %q", d.Host[i])
	}
	if d.Port < 0 || d.Port > 65535 {
		return proxyerr.Invalid("destination port", "%d out of range", d.Port)
	}

	host := d.Host
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}
	if ip, err := netip.ParseAddr(host); err == nil && !ip.Is4() {
		return proxyerr.Invalid("destination host", "IPv6 address %s is not supported", d.Host)
	}
	if strings.ContainsAny(d.Host, "[]") {
		return proxyerr.Invalid("destination host", "%q is not a host name", d.Host)
	}
	return nil
}

// invalidHostRune reports bytes that cannot appear in a host sent on the
// wire: controls (including NUL, CR and LF), space and DEL.
func invalidHostRune(r rune) bool {
	return r <= ' ' || r == 0x7f
}

func (d Destination) String() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// Result is the metadata a proxy reports about an established tunnel.
type Result struct {
	// BoundAddr and BoundPort are the address the proxy used to reach the
	// destination, as reported in its reply.
	BoundAddr string
	BoundPort int

	// PeerHost is the destination as it was sent to the proxy: the IP when
	// one was encoded, otherwise the name.
	PeerHost string
	PeerPort int
}

// Addr is a net.Addr for a host that may be a name.
type Addr struct {
	Host string
	Port int
}

func (a Addr) Network() string { return "tcp" }

func (a Addr) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

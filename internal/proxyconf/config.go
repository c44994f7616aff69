package proxyconf

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/die-net/proxytunnel/internal/proxyerr"
)

// Variant selects the proxy protocol spoken to the proxy.
type Variant int

const (
	// None connects directly to the destination, bypassing negotiation.
	None Variant = iota
	SOCKS4
	SOCKS5
	HTTP
)

func (v Variant) String() string {
	switch v {
	case None:
		return "direct"
	case SOCKS4:
		return "socks4"
	case SOCKS5:
		return "socks5"
	case HTTP:
		return "http"
	default:
		return "variant(" + strconv.Itoa(int(v)) + ")"
	}
}

// DefaultPort returns the port used when a proxy port is not configured.
func (v Variant) DefaultPort() int {
	switch v {
	case SOCKS4, SOCKS5:
		return 1080
	case HTTP:
		return 8080
	default:
		return 0
	}
}

// DNSMode selects where destination names are resolved.
type DNSMode int

const (
	// DNSAuto applies the protocol default: local for SOCKS4, remote for
	// SOCKS5 and HTTP.
	DNSAuto DNSMode = iota
	DNSRemote
	DNSLocal
)

func (m DNSMode) String() string {
	switch m {
	case DNSAuto:
		return "auto"
	case DNSRemote:
		return "remote"
	case DNSLocal:
		return "local"
	default:
		return "dnsmode(" + strconv.Itoa(int(m)) + ")"
	}
}

// MaxCredentialLen is the longest username or password any of the protocols
// can carry.
const MaxCredentialLen = 255

// Config holds the proxy negotiation parameters. It is a value type; callers
// that need a variation (such as the retry layer forcing local DNS) copy it.
type Config struct {
	Variant Variant
	Host    string
	// Port of the proxy. Zero selects the protocol default.
	Port int
	DNS  DNSMode

	// Username is used for SOCKS5 username/password authentication, as the
	// SOCKS4 userid, and for HTTP Basic proxy authorization.
	Username string
	Password string

	// TLS wraps the connection to an HTTP proxy in TLS before CONNECT.
	TLS bool
}

// RemoteDNS reports whether destination names are passed to the proxy for
// resolution.
func (c Config) RemoteDNS() bool {
	switch c.DNS {
	case DNSRemote:
		return true
	case DNSLocal:
		return false
	default:
		return c.Variant != SOCKS4
	}
}

// WithDNS returns a copy of c using mode.
func (c Config) WithDNS(mode DNSMode) Config {
	c.DNS = mode
	return c
}

// EffectivePort returns the configured proxy port or the protocol default.
func (c Config) EffectivePort() int {
	if c.Port != 0 {
		return c.Port
	}
	if c.Variant == HTTP && c.TLS {
		return 443
	}
	return c.Variant.DefaultPort()
}

// Endpoint returns the proxy host:port.
func (c Config) Endpoint() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.EffectivePort()))
}

// Validate checks c without touching the network.
func (c Config) Validate() error {
	switch c.Variant {
	case None:
		return nil
	case SOCKS4, SOCKS5, HTTP:
	default:
		return proxyerr.Invalid("proxy variant", "%s", c.Variant)
	}

	if c.Host == "" {
		return proxyerr.Invalid("proxy host", "empty")
	}
	if c.Port < 0 || c.Port > 65535 {
		return proxyerr.Invalid("proxy port", "%d out of range", c.Port)
	}
	if len(c.Username) > MaxCredentialLen {
		return proxyerr.Invalid("username", "longer than %d bytes", MaxCredentialLen)
	}
	if c.Variant == SOCKS4 && strings.IndexByte(c.Username, 0) >= 0 {
		return proxyerr.Invalid("username", "SOCKS4 user id contains NUL")
	}
	if len(c.Password) > MaxCredentialLen {
		return proxyerr.Invalid("password", "longer than %d bytes", MaxCredentialLen)
	}
	if c.TLS && c.Variant != HTTP {
		return proxyerr.Invalid("proxy tls", "only supported for http proxies")
	}
	return nil
}

func (c Config) String() string {
	if c.Variant == None {
		return "direct"
	}
	return fmt.Sprintf("%s://%s", c.Variant, c.Endpoint())
}

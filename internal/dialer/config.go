package dialer

import (
	"net"
	"time"

	"golang.org/x/net/proxy"

	"github.com/die-net/proxytunnel/internal/resolve"
)

type Config struct {
	// DialTimeout bounds the TCP connect to the proxy.
	DialTimeout time.Duration
	// NegotiationTimeout bounds the protocol handshake once connected.
	NegotiationTimeout time.Duration
	KeepAlive          net.KeepAliveConfig

	// Resolver is used when destination names are resolved locally. Nil
	// uses net.DefaultResolver.
	Resolver resolve.Resolver

	// Forward opens raw TCP connections. Nil uses a direct dialer built from
	// DialTimeout and KeepAlive.
	Forward proxy.ContextDialer
}

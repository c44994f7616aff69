package dialer

import (
	"net"

	"github.com/die-net/proxytunnel/internal/proxyconf"
)

// Conn is an established tunnel. Reads and writes go to the destination.
type Conn struct {
	net.Conn

	result    proxyconf.Result
	proxyAddr net.Addr
	peer      net.Addr
}

// Result returns what the proxy reported about the tunnel.
func (c *Conn) Result() proxyconf.Result {
	return c.result
}

// ProxyAddr returns the address of the proxy, or nil for a direct connection.
func (c *Conn) ProxyAddr() net.Addr {
	return c.proxyAddr
}

// RemoteAddr returns the destination as it was sent to the proxy.
func (c *Conn) RemoteAddr() net.Addr {
	return c.peer
}

// BoundAddr returns the address the proxy reported binding for the tunnel.
func (c *Conn) BoundAddr() net.Addr {
	return proxyconf.Addr{Host: c.result.BoundAddr, Port: c.result.BoundPort}
}

// CloseWrite shuts down the writing side when the underlying connection
// supports it, and closes the connection otherwise.
func (c *Conn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return c.Conn.Close()
}

// Package dialer establishes TCP tunnels through SOCKS4/4a, SOCKS5, and HTTP
// CONNECT proxies.
//
// A Dialer opens the raw connection to the proxy, runs the handshake for the
// configured variant, and returns a *Conn that behaves like a direct
// connection to the destination. Dialers satisfy golang.org/x/net/proxy's
// Dialer and ContextDialer interfaces so they can be used anywhere a
// net.Dialer-shaped value is expected.
package dialer

// Package socks5 implements the SOCKS5 CONNECT handshake used by
// proxytunnel.
//
// The client side (Negotiate) follows RFC 1928 with the username/password
// extension from RFC 1929 and reports failures using the proxyerr kinds. The
// server side is a thin layer over github.com/txthinking/socks5 used by the
// in-process test proxies.
package socks5

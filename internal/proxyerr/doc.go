// Package proxyerr defines the error kinds returned while establishing a
// tunnel through a proxy.
//
// Callers distinguish them with errors.As: *ValidationError never touched the
// network, *ProxyConnectionError failed before the proxy accepted the TCP
// connection, and the remaining kinds were raised during or after the
// protocol handshake.
package proxyerr

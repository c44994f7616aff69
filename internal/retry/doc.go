// Package retry wraps a proxy dialer with the recovery rules for SOCKS4
// proxies that refuse hostname requests and for proxies that drop the
// connection mid-handshake.
//
// When a SOCKS4 proxy rejects a SOCKS4a request the Connector resolves the
// name locally, retries, and records the proxy in a Cache so later
// connections skip the remote attempt.
package retry

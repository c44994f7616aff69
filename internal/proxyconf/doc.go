// Package proxyconf holds the immutable inputs and outputs of a tunnel
// attempt: the proxy configuration, the destination, and the result the proxy
// reports once the handshake succeeds.
package proxyconf

// Package forward exposes a tunnel as a local TCP listener: every accepted
// connection is dialed through a proxy to a fixed destination and spliced.
package forward

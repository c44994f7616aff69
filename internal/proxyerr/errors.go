package proxyerr

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// ErrUnexpectedClose reports that the proxy closed the connection (or sent a
// short reply followed by end-of-stream) before the handshake finished.
var ErrUnexpectedClose = errors.New("connection closed unexpectedly")

// ValidationError reports a malformed destination or proxy configuration. It
// is always returned before any network I/O.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// Invalid returns a *ValidationError for field.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// ProxyConnectionError reports a TCP-level failure reaching the proxy itself.
type ProxyConnectionError struct {
	Addr string
	Err  error
}

func (e *ProxyConnectionError) Error() string {
	return fmt.Sprintf("connect to proxy %s: %v", e.Addr, e.Err)
}

func (e *ProxyConnectionError) Unwrap() error { return e.Err }

// Timeout reports whether the underlying connect failure was a timeout.
func (e *ProxyConnectionError) Timeout() bool {
	return isTimeout(e.Err)
}

// ProtocolError reports a structurally invalid response from the proxy.
type ProtocolError struct {
	Protocol string
	Msg      string
	Err      error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Protocol, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Protocol, e.Msg)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Protocol returns a *ProtocolError without an underlying cause.
func Protocol(protocol, msg string) error {
	return &ProtocolError{Protocol: protocol, Msg: msg}
}

// AuthenticationError reports rejected credentials or the lack of a mutually
// acceptable authentication method.
type AuthenticationError struct {
	Protocol string
	Msg      string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Protocol, e.Msg)
}

// RejectionError reports that the proxy explicitly refused the request.
type RejectionError struct {
	Protocol string
	Code     byte
	Cause    string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: %#x: %s", e.Protocol, e.Code, e.Cause)
}

// HTTPTunnelError reports a non-200 response to CONNECT.
type HTTPTunnelError struct {
	StatusCode int
	Reason     string

	// ConnectUnsupported is set for responses that usually mean the proxy
	// does not support CONNECT tunneling at all.
	ConnectUnsupported bool
}

func (e *HTTPTunnelError) Error() string {
	msg := fmt.Sprintf("http connect: %d %s", e.StatusCode, e.Reason)
	if e.ConnectUnsupported {
		msg += " (the proxy may not support CONNECT tunneling)"
	}
	return msg
}

// ResolveError reports that a destination name could not be resolved
// locally.
type ResolveError struct {
	Host string
	Err  error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Host, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// TimeoutError reports that a handshake deadline expired.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timeout: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func (e *TimeoutError) Timeout() bool { return true }

func (e *TimeoutError) Temporary() bool { return true }

var _ net.Error = (*TimeoutError)(nil)

// IO classifies an I/O error raised while talking to the proxy during stage of
// a protocol handshake.
//
// Deadlines become a *TimeoutError, end-of-stream and resets become a
// *ProtocolError wrapping ErrUnexpectedClose, anything else becomes a
// *ProtocolError carrying the cause.
func IO(protocol, stage string, err error) error {
	switch {
	case err == nil:
		return nil
	case isTimeout(err):
		return &TimeoutError{Op: protocol + " " + stage, Err: err}
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET), errors.Is(err, io.ErrClosedPipe):
		return &ProtocolError{Protocol: protocol, Msg: stage, Err: fmt.Errorf("%w: %w", ErrUnexpectedClose, err)}
	default:
		return &ProtocolError{Protocol: protocol, Msg: stage, Err: err}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Package httpconnect implements the client side of HTTP CONNECT tunneling.
package httpconnect

import (
	"bufio"
	"encoding/base64"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/die-net/proxytunnel/internal/proxyconf"
	"github.com/die-net/proxytunnel/internal/proxyerr"
	"github.com/die-net/proxytunnel/internal/resolve"
)

const protocol = "http connect"

// maxHeaderBytes bounds the status line and header block of the proxy's
// response.
const maxHeaderBytes = 64 << 10

// Request builds the CONNECT request. The request line carries the address
// the proxy should connect to; the Host header always names the destination.
// If username is non-empty, Proxy-Authorization is set using HTTP Basic auth.
func Request(tgt resolve.Target, port uint16, username, password string) []byte {
	var b strings.Builder
	b.WriteString("CONNECT ")
	b.WriteString(tgt.Addr())
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(int(port)))
	b.WriteString(" HTTP/1.1\r\nHost: ")
	b.WriteString(tgt.Host)
	b.WriteString("\r\n")
	if username != "" {
		b.WriteString("Proxy-Authorization: Basic ")
		b.WriteString(base64.StdEncoding.EncodeToString([]byte(username + ":" + password)))
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// Negotiate sends CONNECT over conn, which must already be connected to the
// proxy, and waits for the end of the response header block.
//
// The returned net.Conn must be used instead of conn: it replays any tunnel
// bytes the proxy sent after the header block. On failure conn is closed.
func Negotiate(conn net.Conn, tgt resolve.Target, port uint16, username, password string) (net.Conn, proxyconf.Result, error) {
	fail := func(err error) (net.Conn, proxyconf.Result, error) {
		_ = conn.Close()
		return nil, proxyconf.Result{}, err
	}

	if _, err := conn.Write(Request(tgt, port, username, password)); err != nil {
		return fail(proxyerr.IO(protocol, "write request", err))
	}

	lr := &io.LimitedReader{R: conn, N: maxHeaderBytes}
	br := bufio.NewReader(lr)
	tr := textproto.NewReader(br)
	readErr := func(stage string, err error) error {
		if lr.N <= 0 {
			return proxyerr.Protocol(protocol, "proxy response header too large")
		}
		return proxyerr.IO(protocol, stage, err)
	}

	status, err := tr.ReadLine()
	if err != nil {
		return fail(readErr("read status", err))
	}
	// The header block has to be consumed before the tunnel starts, whatever
	// the status. ReadLine accepts both CRLF and bare LF line endings.
	for {
		line, err := tr.ReadLine()
		if err != nil {
			return fail(readErr("read headers", err))
		}
		if line == "" {
			break
		}
	}

	code, reason, err := parseStatus(status)
	if err != nil {
		return fail(err)
	}
	if code != 200 {
		return fail(&proxyerr.HTTPTunnelError{
			StatusCode:         code,
			Reason:             reason,
			ConnectUnsupported: code == 400 || code == 403 || code == 405,
		})
	}

	res := proxyconf.Result{
		BoundAddr: "0.0.0.0",
		PeerHost:  tgt.Addr(),
		PeerPort:  int(port),
	}
	if br.Buffered() > 0 {
		return &bufferedConn{Conn: conn, r: br}, res, nil
	}
	return conn, res, nil
}

func parseStatus(line string) (int, string, error) {
	proto, rest, _ := strings.Cut(line, " ")
	if proto != "HTTP/1.0" && proto != "HTTP/1.1" {
		return 0, "", proxyerr.Protocol(protocol, "proxy server does not appear to be an HTTP proxy")
	}
	codeStr, reason, _ := strings.Cut(rest, " ")
	code, err := strconv.Atoi(codeStr)
	if err != nil {
		return 0, "", &proxyerr.ProtocolError{Protocol: protocol, Msg: "proxy server did not return a valid HTTP status", Err: err}
	}
	return code, reason, nil
}

// bufferedConn serves reads from the header reader until it drains.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	if c.r != nil {
		if c.r.Buffered() > 0 {
			return c.r.Read(p)
		}
		c.r = nil
	}
	return c.Conn.Read(p)
}

func (c *bufferedConn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return c.Conn.Close()
}

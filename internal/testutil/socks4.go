package testutil

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
	"testing"
)

const (
	socks4Version = 0x04
	socks4Connect = 0x01

	SOCKS4Granted  = 0x5a
	SOCKS4Rejected = 0x5b
)

// SOCKS4Request is a parsed SOCKS4 or SOCKS4a CONNECT request.
type SOCKS4Request struct {
	Command byte
	Port    uint16
	IP      netip.Addr
	UserID  string
	// Host is set for SOCKS4a requests.
	Host string
}

// Dest returns the host:port the request asks for.
func (r *SOCKS4Request) Dest() string {
	host := r.Host
	if host == "" {
		host = r.IP.String()
	}
	return net.JoinHostPort(host, strconv.Itoa(int(r.Port)))
}

// ReadSOCKS4Request reads a request from br.
func ReadSOCKS4Request(br *bufio.Reader) (*SOCKS4Request, error) {
	hdr := make([]byte, 8)
	if _, err := io.ReadFull(br, hdr); err != nil {
		return nil, err
	}
	if hdr[0] != socks4Version {
		return nil, fmt.Errorf("socks4: unexpected version %#x", hdr[0])
	}

	req := &SOCKS4Request{
		Command: hdr[1],
		Port:    binary.BigEndian.Uint16(hdr[2:4]),
		IP:      netip.AddrFrom4([4]byte(hdr[4:8])),
	}

	user, err := br.ReadString(0)
	if err != nil {
		return nil, err
	}
	req.UserID = user[:len(user)-1]

	// 0.0.0.x with x != 0 marks a SOCKS4a request with a trailing name.
	if hdr[4] == 0 && hdr[5] == 0 && hdr[6] == 0 && hdr[7] != 0 {
		host, err := br.ReadString(0)
		if err != nil {
			return nil, err
		}
		req.Host = host[:len(host)-1]
	}

	return req, nil
}

// WriteSOCKS4Reply writes an 8-byte reply with the given code and bound
// address.
func WriteSOCKS4Reply(w io.Writer, code byte, bound netip.AddrPort) error {
	b := make([]byte, 8)
	b[1] = code
	binary.BigEndian.PutUint16(b[2:4], bound.Port())
	if bound.Addr().Is4() {
		ip := bound.Addr().As4()
		copy(b[4:8], ip[:])
	}
	_, err := w.Write(b)
	return err
}

// ServeSOCKS4 starts a SOCKS4/4a proxy. decide is called for every request
// and returns the reply code; anything other than SOCKS4Granted is sent back
// without connecting. A nil decide grants every request.
func ServeSOCKS4(t *testing.T, ctx context.Context, decide func(*SOCKS4Request) byte) net.Listener {
	t.Helper()

	return StartServer(t, ctx, func(c net.Conn) {
		br := bufio.NewReader(c)
		req, err := ReadSOCKS4Request(br)
		if err != nil {
			return
		}

		code := byte(SOCKS4Granted)
		if req.Command != socks4Connect {
			code = SOCKS4Rejected
		} else if decide != nil {
			code = decide(req)
		}
		if code != SOCKS4Granted {
			_ = WriteSOCKS4Reply(c, code, netip.AddrPort{})
			return
		}

		var d net.Dialer
		up, err := d.DialContext(ctx, "tcp4", req.Dest())
		if err != nil {
			_ = WriteSOCKS4Reply(c, SOCKS4Rejected, netip.AddrPort{})
			return
		}

		bound, _ := netip.ParseAddrPort(up.LocalAddr().String())
		if err := WriteSOCKS4Reply(c, SOCKS4Granted, bound); err != nil {
			_ = up.Close()
			return
		}
		splice(c, up, br)
	})
}

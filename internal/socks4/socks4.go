// Package socks4 implements the client side of the SOCKS4 CONNECT handshake,
// including the SOCKS4a extension for names resolved by the proxy.
package socks4

import (
	"encoding/binary"
	"io"
	"net"
	"net/netip"

	"github.com/die-net/proxytunnel/internal/proxyconf"
	"github.com/die-net/proxytunnel/internal/proxyerr"
	"github.com/die-net/proxytunnel/internal/resolve"
)

const protocol = "socks4"

const (
	Version      = 0x04
	CmdConnect   = 0x01
	ReplyVersion = 0x00

	Granted                = 0x5a
	Rejected               = 0x5b
	RejectedIdentdFailed   = 0x5c
	RejectedIdentdMismatch = 0x5d
)

// Placeholder is the DSTIP a SOCKS4a client sends when the proxy should
// resolve the name that follows the userid.
var Placeholder = netip.AddrFrom4([4]byte{0, 0, 0, 1})

// Cause returns the human-readable cause for a reply code.
func Cause(code byte) string {
	switch code {
	case Rejected:
		return "Request rejected or failed"
	case RejectedIdentdFailed:
		return "Request rejected because SOCKS server cannot connect to identd on the client"
	case RejectedIdentdMismatch:
		return "Request rejected because the client program and identd report different user-ids"
	default:
		return "Unknown error"
	}
}

// Request builds the CONNECT request for tgt.
//
//	+----+----+----+----+----+----+----+----+----+----+....+----+
//	| VN | CD | DSTPORT |      DSTIP        | USERID       |NULL|
//	+----+----+----+----+----+----+----+----+----+----+....+----+
//
// In remote mode DSTIP is 0.0.0.1 and the name follows, NUL terminated.
func Request(tgt resolve.Target, port uint16, userID string) []byte {
	ip := tgt.IP
	if tgt.Remote() {
		ip = Placeholder
	}
	ip4 := ip.As4()

	req := make([]byte, 0, 9+len(userID)+len(tgt.Name)+1)
	req = append(req, Version, CmdConnect)
	req = binary.BigEndian.AppendUint16(req, port)
	req = append(req, ip4[:]...)
	req = append(req, userID...)
	req = append(req, 0)
	if tgt.Remote() {
		req = append(req, tgt.Name...)
		req = append(req, 0)
	}
	return req
}

// Negotiate performs the SOCKS4 handshake over conn, which must already be
// connected to the proxy. On failure conn is closed.
func Negotiate(conn net.Conn, tgt resolve.Target, port uint16, userID string) (proxyconf.Result, error) {
	fail := func(err error) (proxyconf.Result, error) {
		_ = conn.Close()
		return proxyconf.Result{}, err
	}

	if _, err := conn.Write(Request(tgt, port, userID)); err != nil {
		return fail(proxyerr.IO(protocol, "write request", err))
	}

	// +----+----+----+----+----+----+----+----+
	// | VN | CD | DSTPORT |      DSTIP        |
	// +----+----+----+----+----+----+----+----+
	var resp [8]byte
	if _, err := io.ReadFull(conn, resp[:]); err != nil {
		return fail(proxyerr.IO(protocol, "read reply", err))
	}
	if resp[0] != ReplyVersion {
		return fail(proxyerr.Protocol(protocol, "proxy server sent invalid data"))
	}
	if resp[1] != Granted {
		return fail(&proxyerr.RejectionError{Protocol: protocol, Code: resp[1], Cause: Cause(resp[1])})
	}

	return proxyconf.Result{
		BoundAddr: netip.AddrFrom4([4]byte(resp[4:8])).String(),
		BoundPort: int(binary.BigEndian.Uint16(resp[2:4])),
		PeerHost:  tgt.Addr(),
		PeerPort:  int(port),
	}, nil
}

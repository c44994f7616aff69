package socks5

import (
	"encoding/binary"
	"io"
	"net"
	"net/netip"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/die-net/proxytunnel/internal/proxyconf"
	"github.com/die-net/proxytunnel/internal/proxyerr"
	"github.com/die-net/proxytunnel/internal/resolve"
)

const protocol = "socks5"

// Negotiate performs the SOCKS5 method negotiation, optional username/password
// subnegotiation, and CONNECT request over conn, which must already be
// connected to the proxy. On failure conn is closed.
func Negotiate(conn net.Conn, auth Auth, tgt resolve.Target, port uint16) (proxyconf.Result, error) {
	fail := func(err error) (proxyconf.Result, error) {
		_ = conn.Close()
		return proxyconf.Result{}, err
	}

	if err := ClientNegotiate(conn, auth); err != nil {
		return fail(err)
	}
	res, err := ClientConnect(conn, tgt, port)
	if err != nil {
		return fail(err)
	}
	return res, nil
}

// Methods returns the authentication methods offered for auth. Username and
// password are only offered when both are set.
func Methods(auth Auth) []byte {
	if auth.Username != "" && auth.Password != "" {
		return []byte{txsocks5.MethodNone, txsocks5.MethodUsernamePassword}
	}
	return []byte{txsocks5.MethodNone}
}

// ClientNegotiate offers the methods for auth and completes whichever one the
// server chooses. It does not close conn.
func ClientNegotiate(conn net.Conn, auth Auth) error {
	methods := Methods(auth)

	if _, err := txsocks5.NewNegotiationRequest(methods).WriteTo(conn); err != nil {
		return proxyerr.IO(protocol, "write negotiation", err)
	}

	neg, err := txsocks5.NewNegotiationReplyFrom(conn)
	if err != nil {
		return proxyerr.IO(protocol, "read negotiation", err)
	}
	if neg.Ver != txsocks5.Ver {
		return proxyerr.Protocol(protocol, "proxy server sent invalid data")
	}

	switch neg.Method {
	case txsocks5.MethodUsernamePassword:
		if len(methods) < 2 {
			return proxyerr.Protocol(protocol, "proxy server chose an authentication method that was not offered")
		}
		return userPass(conn, auth)
	case methodNoAcceptable:
		return &proxyerr.AuthenticationError{Protocol: protocol, Msg: "all offered authentication methods were rejected"}
	default:
		// Anything other than username/password is treated as no
		// authentication required.
		return nil
	}
}

func userPass(conn net.Conn, auth Auth) error {
	if _, err := txsocks5.NewUserPassNegotiationRequest([]byte(auth.Username), []byte(auth.Password)).WriteTo(conn); err != nil {
		return proxyerr.IO(protocol, "write userpass", err)
	}
	rep, err := txsocks5.NewUserPassNegotiationReplyFrom(conn)
	if err != nil {
		return proxyerr.IO(protocol, "read userpass", err)
	}
	if rep.Ver != txsocks5.UserPassVer {
		return proxyerr.Protocol(protocol, "proxy server sent invalid data")
	}
	if rep.Status != txsocks5.UserPassStatusSuccess {
		return &proxyerr.AuthenticationError{Protocol: protocol, Msg: "authentication failed"}
	}
	return nil
}

// ClientConnect sends the CONNECT request for tgt and parses the reply. It
// does not close conn.
func ClientConnect(conn net.Conn, tgt resolve.Target, port uint16) (proxyconf.Result, error) {
	atyp, dstAddr := encodeTarget(tgt)
	dstPort := binary.BigEndian.AppendUint16(nil, port)

	if _, err := txsocks5.NewRequest(txsocks5.CmdConnect, atyp, dstAddr, dstPort).WriteTo(conn); err != nil {
		return proxyconf.Result{}, proxyerr.IO(protocol, "write request", err)
	}

	// The reply code is checked before the bound address is read; a
	// failing proxy may not send one.
	var hdr [4]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return proxyconf.Result{}, proxyerr.IO(protocol, "read reply", err)
	}
	if hdr[0] != txsocks5.Ver {
		return proxyconf.Result{}, proxyerr.Protocol(protocol, "proxy server sent invalid data")
	}
	if hdr[1] != txsocks5.RepSuccess {
		return proxyconf.Result{}, &proxyerr.RejectionError{Protocol: protocol, Code: hdr[1], Cause: Cause(hdr[1])}
	}

	bound, err := readAddr(conn, hdr[3])
	if err != nil {
		return proxyconf.Result{}, err
	}
	var bport [2]byte
	if _, err := io.ReadFull(conn, bport[:]); err != nil {
		return proxyconf.Result{}, proxyerr.IO(protocol, "read bound port", err)
	}

	return proxyconf.Result{
		BoundAddr: bound,
		BoundPort: int(binary.BigEndian.Uint16(bport[:])),
		PeerHost:  tgt.Addr(),
		PeerPort:  int(port),
	}, nil
}

func encodeTarget(tgt resolve.Target) (byte, []byte) {
	if tgt.Remote() {
		// NewRequest adds the length prefix for domain names.
		return txsocks5.ATYPDomain, []byte(tgt.Name)
	}
	ip4 := tgt.IP.As4()
	return txsocks5.ATYPIPv4, ip4[:]
}

func readAddr(r io.Reader, atyp byte) (string, error) {
	switch atyp {
	case txsocks5.ATYPIPv4:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return "", proxyerr.IO(protocol, "read bound address", err)
		}
		return netip.AddrFrom4(b).String(), nil
	case txsocks5.ATYPDomain:
		var n [1]byte
		if _, err := io.ReadFull(r, n[:]); err != nil {
			return "", proxyerr.IO(protocol, "read bound address", err)
		}
		b := make([]byte, int(n[0]))
		if _, err := io.ReadFull(r, b); err != nil {
			return "", proxyerr.IO(protocol, "read bound address", err)
		}
		return string(b), nil
	case txsocks5.ATYPIPv6:
		var b [16]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return "", proxyerr.IO(protocol, "read bound address", err)
		}
		return netip.AddrFrom16(b).String(), nil
	default:
		return "", proxyerr.Protocol(protocol, "proxy server sent invalid data")
	}
}

package socks5

import (
	"fmt"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

const (
	// CmdConnect is the SOCKS5 CONNECT command value.
	CmdConnect = txsocks5.CmdConnect

	// RFC 1928: 0xFF indicates no acceptable methods.
	methodNoAcceptable byte = 0xff
)

// Auth configures optional username/password authentication for SOCKS5
// negotiation.
type Auth struct {
	Username string
	Password string
}

var causes = map[byte]string{
	txsocks5.RepServerFailure:       "General SOCKS server failure",
	txsocks5.RepNotAllowed:          "Connection not allowed by ruleset",
	txsocks5.RepNetworkUnreachable:  "Network unreachable",
	txsocks5.RepHostUnreachable:     "Host unreachable",
	txsocks5.RepConnectionRefused:   "Connection refused",
	txsocks5.RepTTLExpired:          "TTL expired",
	txsocks5.RepCommandNotSupported: "Command not supported, or protocol error",
	txsocks5.RepAddressNotSupported: "Address type not supported",
}

// Cause returns the human-readable cause for a nonzero reply code.
func Cause(rep byte) string {
	if c, ok := causes[rep]; ok {
		return c
	}
	return "Unknown error"
}

// WriteReply writes a SOCKS5 failure reply with a zero bound address.
func WriteReply(conn net.Conn, rep byte) {
	_, _ = newZeroAddrReply(rep).WriteTo(conn)
}

// WriteCommandNotSupportedReply writes a SOCKS5 reply indicating that the
// requested command is not supported.
func WriteCommandNotSupportedReply(conn net.Conn) {
	WriteReply(conn, txsocks5.RepCommandNotSupported)
}

// WriteHostUnreachableReply writes a SOCKS5 reply indicating that the
// destination could not be reached.
func WriteHostUnreachableReply(conn net.Conn) {
	WriteReply(conn, txsocks5.RepHostUnreachable)
}

// WriteSuccessReply writes a SOCKS5 success reply using localAddr as the bound
// address.
func WriteSuccessReply(conn net.Conn, localAddr net.Addr) error {
	a, addr, port, err := txsocks5.ParseAddress(localAddr.String())
	if err != nil {
		return fmt.Errorf("parse local address %q: %w", localAddr.String(), err)
	}
	if a == txsocks5.ATYPDomain {
		addr = addr[1:]
	}
	if _, err := txsocks5.NewReply(txsocks5.RepSuccess, a, addr, port).WriteTo(conn); err != nil {
		return fmt.Errorf("success reply: %w", err)
	}
	return nil
}

func newZeroAddrReply(rep byte) *txsocks5.Reply {
	return txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00})
}

package socks5

import (
	"errors"
	"fmt"
	"net"
	"slices"

	txsocks5 "github.com/txthinking/socks5"
)

var (
	errAuthFailed = errors.New("auth failed")
	errNoMethod   = errors.New("no acceptable authentication method")
	errRejected   = errors.New("request rejected")
)

// Server is the proxy side of a SOCKS5 handshake. The zero value accepts
// unauthenticated CONNECT requests.
type Server struct {
	// Auth, when Username is set, requires username/password
	// authentication with these credentials.
	Auth Auth

	// ChooseMethod, if set, picks the method sent back for the offered
	// list instead of the choice implied by Auth. It may return a method
	// that was not offered.
	ChooseMethod func(offered []byte) byte

	// Reply, if set, returns the reply code for a CONNECT request. A code
	// other than RepSuccess is sent to the client with a zero bound
	// address and ReadRequest fails.
	Reply func(req *txsocks5.Request) byte
}

func (s *Server) chooseMethod(offered []byte) byte {
	if s.ChooseMethod != nil {
		return s.ChooseMethod(offered)
	}
	want := byte(txsocks5.MethodNone)
	if s.Auth.Username != "" {
		want = txsocks5.MethodUsernamePassword
	}
	if !slices.Contains(offered, want) {
		return methodNoAcceptable
	}
	return want
}

// Negotiate reads the client's method offer, answers it, and runs
// username/password authentication if that method was chosen.
func (s *Server) Negotiate(conn net.Conn) error {
	neg, err := txsocks5.NewNegotiationRequestFrom(conn)
	if err != nil {
		return fmt.Errorf("negotiation request: %w", err)
	}

	method := s.chooseMethod(neg.Methods)
	if _, err := txsocks5.NewNegotiationReply(method).WriteTo(conn); err != nil {
		return fmt.Errorf("negotiation reply: %w", err)
	}

	switch method {
	case methodNoAcceptable:
		return errNoMethod
	case txsocks5.MethodUsernamePassword:
		return s.checkUserPass(conn)
	default:
		return nil
	}
}

func (s *Server) checkUserPass(conn net.Conn) error {
	urq, err := txsocks5.NewUserPassNegotiationRequestFrom(conn)
	if err != nil {
		return fmt.Errorf("read userpass: %w", err)
	}
	if string(urq.Uname) != s.Auth.Username || string(urq.Passwd) != s.Auth.Password {
		_, _ = txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusFailure).WriteTo(conn)
		return errAuthFailed
	}
	if _, err := txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusSuccess).WriteTo(conn); err != nil {
		return fmt.Errorf("write userpass: %w", err)
	}
	return nil
}

// ReadRequest reads the client's request and returns it if it is an accepted
// CONNECT. Other commands get "command not supported"; requests refused by
// Reply get the chosen code.
func (s *Server) ReadRequest(conn net.Conn) (*txsocks5.Request, error) {
	req, err := txsocks5.NewRequestFrom(conn)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	if req.Cmd != CmdConnect {
		WriteCommandNotSupportedReply(conn)
		return nil, fmt.Errorf("unsupported command: %d", req.Cmd)
	}
	if s.Reply != nil {
		if rep := s.Reply(req); rep != txsocks5.RepSuccess {
			WriteReply(conn, rep)
			return nil, fmt.Errorf("%w: %#x", errRejected, rep)
		}
	}
	return req, nil
}

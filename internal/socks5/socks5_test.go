package socks5

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
	txsocks5 "github.com/txthinking/socks5"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/proxytunnel/internal/proxyerr"
	"github.com/die-net/proxytunnel/internal/resolve"
)

func TestClientDialToServer(t *testing.T) {
	tests := []struct {
		name string
		auth Auth
	}{
		{name: "no_auth"},
		{name: "user_pass", auth: Auth{Username: "user", Password: "pass"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientConn, serverConn := net.Pipe()
			defer clientConn.Close()
			defer serverConn.Close()

			g := errgroup.Group{}
			g.Go(func() error {
				srv := &Server{Auth: tt.auth}
				if err := srv.Negotiate(serverConn); err != nil {
					return err
				}

				req, err := srv.ReadRequest(serverConn)
				if err != nil {
					return err
				}
				if req.Address() != "127.0.0.1:80" {
					return fmt.Errorf("unexpected address: %s", req.Address())
				}

				return WriteSuccessReply(serverConn, &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345})
			})

			res, err := Negotiate(clientConn, tt.auth, target(t, "127.0.0.1", true), 80)
			if err != nil {
				t.Fatal(err)
			}
			if err := g.Wait(); err != nil {
				t.Fatal(err)
			}
			if res.BoundAddr != "127.0.0.1" || res.BoundPort != 12345 {
				t.Fatalf("unexpected bound address %s:%d", res.BoundAddr, res.BoundPort)
			}
		})
	}
}

func TestServerRejectsBadCredentials(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()

	g := errgroup.Group{}
	g.Go(func() error {
		srv := &Server{Auth: Auth{Username: "user", Password: "pass"}}
		if err := srv.Negotiate(serverConn); !errors.Is(err, errAuthFailed) {
			return fmt.Errorf("expected auth failure, got %v", err)
		}
		return nil
	})

	_, err := Negotiate(clientConn, Auth{Username: "user", Password: "wrong"}, target(t, "127.0.0.1", true), 80)
	var ae *proxyerr.AuthenticationError
	require.ErrorAs(t, err, &ae)
	require.NoError(t, g.Wait())
}

type step struct {
	expect []byte
	reply  []byte
}

// script runs a fake proxy on the far side of a pipe that checks each expected
// client message in turn and answers with the paired reply. The far side is
// closed after the last step.
func script(t *testing.T, steps ...step) (net.Conn, *errgroup.Group) {
	t.Helper()

	client, server := net.Pipe()
	t.Cleanup(func() { _ = client.Close() })

	g := &errgroup.Group{}
	g.Go(func() error {
		defer server.Close()
		for i, s := range steps {
			got := make([]byte, len(s.expect))
			if _, err := io.ReadFull(server, got); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
			if !bytes.Equal(got, s.expect) {
				return fmt.Errorf("step %d: got % x want % x", i, got, s.expect)
			}
			if _, err := server.Write(s.reply); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
		}
		return nil
	})
	return client, g
}

func target(t *testing.T, host string, remote bool) resolve.Target {
	t.Helper()
	tgt, err := resolve.Plan(context.Background(), nil, host, remote)
	require.NoError(t, err)
	return tgt
}

var (
	offerNoAuth   = []byte{0x05, 0x01, 0x00}
	offerUserPass = []byte{0x05, 0x02, 0x00, 0x02}
	connectIP     = []byte{0x05, 0x01, 0x00, 0x01, 10, 0, 0, 1, 0x00, 0x50}
	successIPv4   = []byte{0x05, 0x00, 0x00, 0x01, 1, 2, 3, 4, 0x04, 0x38}
)

func TestMethodOffer(t *testing.T) {
	t.Parallel()

	require.Equal(t, []byte{0x00}, Methods(Auth{}))
	require.Equal(t, []byte{0x00}, Methods(Auth{Username: "user"}))
	require.Equal(t, []byte{0x00}, Methods(Auth{Password: "pass"}))
	require.Equal(t, []byte{0x00, 0x02}, Methods(Auth{Username: "user", Password: "pass"}))
}

func TestNegotiateNoAuth(t *testing.T) {
	t.Parallel()

	conn, g := script(t,
		step{offerNoAuth, []byte{0x05, 0x00}},
		step{connectIP, successIPv4},
	)
	res, err := Negotiate(conn, Auth{}, target(t, "10.0.0.1", false), 80)
	require.NoError(t, err)
	require.NoError(t, g.Wait())
	require.Equal(t, "1.2.3.4", res.BoundAddr)
	require.Equal(t, 1080, res.BoundPort)
	require.Equal(t, "10.0.0.1", res.PeerHost)
	require.Equal(t, 80, res.PeerPort)
}

func TestNegotiateUserPass(t *testing.T) {
	t.Parallel()

	subneg := append(append([]byte{0x01, 4}, "user"...), append([]byte{6}, "secret"...)...)
	conn, g := script(t,
		step{offerUserPass, []byte{0x05, 0x02}},
		step{subneg, []byte{0x01, 0x00}},
		step{connectIP, successIPv4},
	)
	_, err := Negotiate(conn, Auth{Username: "user", Password: "secret"}, target(t, "10.0.0.1", false), 80)
	require.NoError(t, err)
	require.NoError(t, g.Wait())
}

func TestNegotiateDomainRequest(t *testing.T) {
	t.Parallel()

	req := append([]byte{0x05, 0x01, 0x00, 0x03, 11}, "example.com"...)
	req = append(req, 0x01, 0xbb)
	conn, g := script(t,
		step{offerNoAuth, []byte{0x05, 0x00}},
		step{req, successIPv4},
	)
	res, err := Negotiate(conn, Auth{}, target(t, "example.com", true), 443)
	require.NoError(t, err)
	require.NoError(t, g.Wait())
	require.Equal(t, "example.com", res.PeerHost)
}

func TestNegotiateBoundAddressTypes(t *testing.T) {
	t.Parallel()

	v6 := netip.MustParseAddr("2001:db8::7").As16()
	tests := []struct {
		name  string
		reply []byte
		want  string
	}{
		{"ipv4", successIPv4, "1.2.3.4"},
		{"domain", append(append([]byte{0x05, 0x00, 0x00, 0x03, 9}, "proxy.lan"...), 0x04, 0x38), "proxy.lan"},
		{"ipv6", append(append([]byte{0x05, 0x00, 0x00, 0x04}, v6[:]...), 0x04, 0x38), "2001:db8::7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, g := script(t,
				step{offerNoAuth, []byte{0x05, 0x00}},
				step{connectIP, tt.reply},
			)
			res, err := Negotiate(conn, Auth{}, target(t, "10.0.0.1", false), 80)
			require.NoError(t, err)
			require.NoError(t, g.Wait())
			require.Equal(t, tt.want, res.BoundAddr)
			require.Equal(t, 1080, res.BoundPort)
		})
	}
}

func TestNegotiateReplyCodes(t *testing.T) {
	t.Parallel()

	want := map[byte]string{
		0x01: "General SOCKS server failure",
		0x02: "Connection not allowed by ruleset",
		0x03: "Network unreachable",
		0x04: "Host unreachable",
		0x05: "Connection refused",
		0x06: "TTL expired",
		0x07: "Command not supported, or protocol error",
		0x08: "Address type not supported",
		0x09: "Unknown error",
		0xfe: "Unknown error",
	}

	seen := map[string]bool{}
	for code, cause := range want {
		t.Run(cause, func(t *testing.T) {
			// Only the reply header is sent; the client must not wait for a
			// bound address after a failure code.
			conn, g := script(t,
				step{offerNoAuth, []byte{0x05, 0x00}},
				step{connectIP, []byte{0x05, code, 0x00, 0x01}},
			)
			_, err := Negotiate(conn, Auth{}, target(t, "10.0.0.1", false), 80)
			require.NoError(t, g.Wait())

			var re *proxyerr.RejectionError
			require.ErrorAs(t, err, &re)
			require.Equal(t, code, re.Code)
			require.Equal(t, cause, re.Cause)
			requireClosed(t, conn)
		})
		if code <= 0x08 {
			require.False(t, seen[cause], "duplicate cause %q", cause)
			seen[cause] = true
		}
	}
}

func TestNegotiateFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		auth    Auth
		steps   []step
		wantErr any
		closed  bool
	}{
		{
			name:    "bad method version",
			steps:   []step{{offerNoAuth, []byte{0x04, 0x00}}},
			wantErr: new(*proxyerr.ProtocolError),
		},
		{
			name: "userpass rejected",
			auth: Auth{Username: "u", Password: "p"},
			steps: []step{
				{offerUserPass, []byte{0x05, 0x02}},
				{[]byte{0x01, 1, 'u', 1, 'p'}, []byte{0x01, 0x01}},
			},
			wantErr: new(*proxyerr.AuthenticationError),
		},
		{
			name: "userpass bad version",
			auth: Auth{Username: "u", Password: "p"},
			steps: []step{
				{offerUserPass, []byte{0x05, 0x02}},
				{[]byte{0x01, 1, 'u', 1, 'p'}, []byte{0x05, 0x00}},
			},
			wantErr: new(*proxyerr.ProtocolError),
		},
		{
			name: "bad reply version",
			steps: []step{
				{offerNoAuth, []byte{0x05, 0x00}},
				{connectIP, []byte{0x04, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0}},
			},
			wantErr: new(*proxyerr.ProtocolError),
		},
		{
			name: "unsupported bound address type",
			steps: []step{
				{offerNoAuth, []byte{0x05, 0x00}},
				{connectIP, []byte{0x05, 0x00, 0x00, 0x07}},
			},
			wantErr: new(*proxyerr.ProtocolError),
		},
		{
			name: "truncated reply",
			steps: []step{
				{offerNoAuth, []byte{0x05, 0x00}},
				{connectIP, []byte{0x05, 0x00, 0x00, 0x01, 1, 2}},
			},
			wantErr: new(*proxyerr.ProtocolError),
			closed:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, g := script(t, tt.steps...)
			_, err := Negotiate(conn, tt.auth, target(t, "10.0.0.1", false), 80)
			require.Error(t, err)
			require.ErrorAs(t, err, tt.wantErr)
			if tt.closed {
				require.ErrorIs(t, err, proxyerr.ErrUnexpectedClose)
			}
			_ = g.Wait()
			requireClosed(t, conn)
		})
	}
}

func TestNegotiateAgainstServer(t *testing.T) {
	t.Parallel()

	chooses := func(m byte) func([]byte) byte {
		return func([]byte) byte { return m }
	}
	replies := func(rep byte) func(*txsocks5.Request) byte {
		return func(*txsocks5.Request) byte { return rep }
	}

	tests := []struct {
		name      string
		server    *Server
		auth      Auth
		wantErr   any
		wantCode  byte
		wantCause string
		serverErr error
	}{
		{
			name:      "no acceptable methods",
			server:    &Server{ChooseMethod: chooses(0xff)},
			wantErr:   new(*proxyerr.AuthenticationError),
			serverErr: errNoMethod,
		},
		{
			name:    "auth required but not configured",
			server:  &Server{Auth: Auth{Username: "user", Password: "pass"}},
			wantErr: new(*proxyerr.AuthenticationError),
		},
		{
			name:    "userpass chosen but not offered",
			server:  &Server{Auth: Auth{Username: "user", Password: "pass"}, ChooseMethod: chooses(0x02)},
			wantErr: new(*proxyerr.ProtocolError),
		},
		{
			name:      "wrong password",
			server:    &Server{Auth: Auth{Username: "user", Password: "pass"}},
			auth:      Auth{Username: "user", Password: "nope"},
			wantErr:   new(*proxyerr.AuthenticationError),
			serverErr: errAuthFailed,
		},
		{
			name:      "ruleset",
			server:    &Server{Reply: replies(txsocks5.RepNotAllowed)},
			wantErr:   new(*proxyerr.RejectionError),
			wantCode:  0x02,
			wantCause: "Connection not allowed by ruleset",
			serverErr: errRejected,
		},
		{
			name:      "connection refused",
			server:    &Server{Reply: replies(txsocks5.RepConnectionRefused)},
			wantErr:   new(*proxyerr.RejectionError),
			wantCode:  0x05,
			wantCause: "Connection refused",
			serverErr: errRejected,
		},
		{
			name:      "unknown code",
			server:    &Server{Reply: replies(0x42)},
			wantErr:   new(*proxyerr.RejectionError),
			wantCode:  0x42,
			wantCause: "Unknown error",
			serverErr: errRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientConn, serverConn := net.Pipe()
			defer serverConn.Close()

			serverErrc := make(chan error, 1)
			go func() {
				defer serverConn.Close()
				if err := tt.server.Negotiate(serverConn); err != nil {
					serverErrc <- err
					return
				}
				_, err := tt.server.ReadRequest(serverConn)
				serverErrc <- err
			}()

			_, err := Negotiate(clientConn, tt.auth, target(t, "10.0.0.1", false), 80)
			require.ErrorAs(t, err, tt.wantErr)
			requireClosed(t, clientConn)

			var re *proxyerr.RejectionError
			if errors.As(err, &re) {
				require.Equal(t, tt.wantCode, re.Code)
				require.Equal(t, tt.wantCause, re.Cause)
			}

			serverErr := <-serverErrc
			require.Error(t, serverErr)
			if tt.serverErr != nil {
				require.ErrorIs(t, serverErr, tt.serverErr)
			}
		})
	}
}

func TestNegotiatePermissiveMethod(t *testing.T) {
	t.Parallel()

	// A server choosing a method other than username/password (here GSSAPI)
	// is treated as requiring no authentication.
	conn, g := script(t,
		step{offerNoAuth, []byte{0x05, 0x01}},
		step{connectIP, successIPv4},
	)
	_, err := Negotiate(conn, Auth{}, target(t, "10.0.0.1", false), 80)
	require.NoError(t, err)
	require.NoError(t, g.Wait())
}

func requireClosed(t *testing.T, c net.Conn) {
	t.Helper()
	_, err := c.Write([]byte{0})
	require.ErrorIs(t, err, io.ErrClosedPipe)
}

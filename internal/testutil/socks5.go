package testutil

import (
	"context"
	"net"
	"testing"

	"github.com/die-net/proxytunnel/internal/socks5"
)

// ServeSOCKS5 starts a SOCKS5 proxy that handshakes as srv does and then
// connects accepted requests. Each requested destination is sent to seen if
// it is non-nil.
func ServeSOCKS5(t *testing.T, ctx context.Context, srv *socks5.Server, seen chan<- string) net.Listener {
	t.Helper()

	return StartServer(t, ctx, func(c net.Conn) {
		if err := srv.Negotiate(c); err != nil {
			return
		}
		req, err := srv.ReadRequest(c)
		if err != nil {
			return
		}

		dest := req.Address()
		if seen != nil {
			select {
			case seen <- dest:
			default:
			}
		}

		var d net.Dialer
		up, err := d.DialContext(ctx, "tcp4", dest)
		if err != nil {
			socks5.WriteHostUnreachableReply(c)
			return
		}
		if err := socks5.WriteSuccessReply(c, up.LocalAddr()); err != nil {
			_ = up.Close()
			return
		}
		splice(c, up, c)
	})
}

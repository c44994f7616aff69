package testutil

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"testing"
)

// HTTPConnectOptions configures ServeHTTPConnect.
type HTTPConnectOptions struct {
	Username string
	Password string
	// Status, if set to something other than 200, is returned for every
	// CONNECT instead of opening a tunnel.
	Status int
}

// ServeHTTPConnect starts an HTTP proxy that only understands CONNECT.
func ServeHTTPConnect(t *testing.T, ctx context.Context, opts HTTPConnectOptions) net.Listener {
	t.Helper()

	wantAuth := ""
	if opts.Username != "" {
		wantAuth = "Basic " + base64.StdEncoding.EncodeToString([]byte(opts.Username+":"+opts.Password))
	}

	return StartServer(t, ctx, func(c net.Conn) {
		br := bufio.NewReader(c)
		req, err := http.ReadRequest(br)
		if err != nil {
			return
		}

		switch {
		case req.Method != http.MethodConnect:
			writeStatus(c, http.StatusMethodNotAllowed)
			return
		case wantAuth != "" && req.Header.Get("Proxy-Authorization") != wantAuth:
			writeStatus(c, http.StatusProxyAuthRequired)
			return
		case opts.Status != 0 && opts.Status != http.StatusOK:
			writeStatus(c, opts.Status)
			return
		}

		var d net.Dialer
		up, err := d.DialContext(ctx, "tcp4", req.URL.Host)
		if err != nil {
			writeStatus(c, http.StatusBadGateway)
			return
		}
		if _, err := fmt.Fprint(c, "HTTP/1.1 200 Connection established\r\n\r\n"); err != nil {
			_ = up.Close()
			return
		}
		splice(c, up, br)
	})
}

func writeStatus(c net.Conn, code int) {
	_, _ = fmt.Fprintf(c, "HTTP/1.1 %d %s\r\nContent-Length: 0\r\n\r\n", code, http.StatusText(code))
}

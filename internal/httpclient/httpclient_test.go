package httpclient

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/die-net/proxytunnel/internal/dialer"
	"github.com/die-net/proxytunnel/internal/socks5"
	"github.com/die-net/proxytunnel/internal/testutil"
)

func TestClientThroughSOCKS5(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "hello from "+r.URL.Path)
	}))
	defer origin.Close()

	seen := make(chan string, 1)
	proxyLn := testutil.ServeSOCKS5(t, ctx, &socks5.Server{Auth: socks5.Auth{Username: "user", Password: "pass"}}, seen)

	d, err := dialer.NewFromURL(dialer.Config{DialTimeout: time.Second}, "socks5://user:pass@"+proxyLn.Addr().String())
	require.NoError(t, err)

	client := NewClient(d, Config{Timeout: 2 * time.Second})
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin.URL+"/path", nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "hello from /path", string(body))
	require.Equal(t, origin.Listener.Addr().String(), <-seen)
}

func TestTransportDefaults(t *testing.T) {
	t.Parallel()

	tr := NewTransport(dialer.NewDirectDialer(dialer.Config{}), Config{IdleTimeout: time.Minute})
	require.Nil(t, tr.Proxy)
	require.Equal(t, 100, tr.MaxIdleConns)
	require.Equal(t, time.Minute, tr.IdleConnTimeout)
	require.Equal(t, uint16(tls.VersionTLS12), tr.TLSClientConfig.MinVersion)
}

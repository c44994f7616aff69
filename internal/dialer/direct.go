package dialer

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/net/proxy"
)

// DirectDialer connects without a proxy, applying DialTimeout and KeepAlive.
type DirectDialer struct {
	cfg Config
}

var (
	_ proxy.Dialer        = (*DirectDialer)(nil)
	_ proxy.ContextDialer = (*DirectDialer)(nil)
)

func NewDirectDialer(cfg Config) *DirectDialer {
	return &DirectDialer{cfg: cfg}
}

func (f *DirectDialer) Dial(network, address string) (net.Conn, error) {
	return f.DialContext(context.Background(), network, address)
}

func (f *DirectDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	dd := net.Dialer{Timeout: f.cfg.DialTimeout}

	conn, err := dd.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(f.cfg.KeepAlive)
	}

	return conn, nil
}

package dialer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/proxy"

	"github.com/die-net/proxytunnel/internal/httpconnect"
	"github.com/die-net/proxytunnel/internal/proxyconf"
	"github.com/die-net/proxytunnel/internal/proxyerr"
	"github.com/die-net/proxytunnel/internal/resolve"
	"github.com/die-net/proxytunnel/internal/socks4"
	"github.com/die-net/proxytunnel/internal/socks5"
)

// negotiator runs one variant's handshake over a connection to the proxy. It
// closes conn on failure.
type negotiator func(d *Dialer, conn net.Conn, tgt resolve.Target, port uint16) (net.Conn, proxyconf.Result, error)

var negotiators = map[proxyconf.Variant]negotiator{
	proxyconf.SOCKS4: negotiateSOCKS4,
	proxyconf.SOCKS5: negotiateSOCKS5,
	proxyconf.HTTP:   negotiateHTTP,
}

// Dialer dials outbound TCP connections through a single configured proxy.
type Dialer struct {
	cfg       Config
	proxy     proxyconf.Config
	forward   proxy.ContextDialer
	negotiate negotiator
}

var (
	_ proxy.Dialer        = (*Dialer)(nil)
	_ proxy.ContextDialer = (*Dialer)(nil)
)

// New constructs a Dialer for pc. The configuration is validated here; a
// Variant of proxyconf.None yields a dialer that connects directly.
func New(cfg Config, pc proxyconf.Config) (*Dialer, error) {
	if err := pc.Validate(); err != nil {
		return nil, err
	}

	d := &Dialer{cfg: cfg, proxy: pc, forward: cfg.Forward}
	if d.forward == nil {
		d.forward = NewDirectDialer(cfg)
	}
	if pc.Variant != proxyconf.None {
		d.negotiate = negotiators[pc.Variant]
	}
	return d, nil
}

// NewFromURL parses upstream (see proxyconf.ParseURL) and constructs a
// Dialer for it.
func NewFromURL(cfg Config, upstream string) (*Dialer, error) {
	pc, err := proxyconf.ParseURL(upstream)
	if err != nil {
		return nil, err
	}
	return New(cfg, pc)
}

// Proxy returns the proxy configuration.
func (d *Dialer) Proxy() proxyconf.Config {
	return d.proxy
}

// WithProxy returns a Dialer sharing d's Config but using pc.
func (d *Dialer) WithProxy(pc proxyconf.Config) (*Dialer, error) {
	return New(d.cfg, pc)
}

// Dial connects to address through the proxy.
func (d *Dialer) Dial(network, address string) (net.Conn, error) {
	return d.DialContext(context.Background(), network, address)
}

// DialContext connects to address through the proxy. Only TCP over IPv4 is
// supported.
func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if network != "tcp" && network != "tcp4" {
		return nil, proxyerr.Invalid("network", "%q is not supported", network)
	}
	dst, err := proxyconf.ParseDestination(address)
	if err != nil {
		return nil, err
	}
	conn, err := d.Connect(ctx, dst)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Connect establishes a tunnel to dst.
//
// The destination is validated before any I/O. Failures reaching the proxy
// are reported as *proxyerr.ProxyConnectionError; failures after the proxy
// accepted the TCP connection come from the handshake, which closes the
// connection before returning. The handshake is bounded by
// NegotiationTimeout and by ctx.
func (d *Dialer) Connect(ctx context.Context, dst proxyconf.Destination) (*Conn, error) {
	if err := dst.Validate(); err != nil {
		return nil, err
	}
	if d.negotiate == nil {
		return d.connectDirect(ctx, dst)
	}

	tgt, err := resolve.Plan(ctx, d.cfg.Resolver, dst.Host, d.proxy.RemoteDNS())
	if err != nil {
		return nil, err
	}

	addr := d.proxy.Endpoint()
	raw, err := d.forward.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &proxyerr.ProxyConnectionError{Addr: addr, Err: err}
	}

	if deadline, ok := d.negotiationDeadline(ctx); ok {
		_ = raw.SetDeadline(deadline)
	}
	// Unblock the handshake if ctx is canceled.
	stop := context.AfterFunc(ctx, func() {
		_ = raw.SetDeadline(aLongTimeAgo)
	})

	c, res, err := d.handshake(ctx, raw, tgt, uint16(dst.Port))
	if !stop() && err == nil {
		_ = c.Close()
		err = ctx.Err()
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, contextError(d.proxy.Variant, ctxErr)
		}
		return nil, err
	}

	_ = raw.SetDeadline(time.Time{})

	return &Conn{
		Conn:      c,
		result:    res,
		proxyAddr: raw.RemoteAddr(),
		peer:      proxyconf.Addr{Host: res.PeerHost, Port: res.PeerPort},
	}, nil
}

var aLongTimeAgo = time.Unix(1, 0)

func (d *Dialer) handshake(ctx context.Context, raw net.Conn, tgt resolve.Target, port uint16) (net.Conn, proxyconf.Result, error) {
	conn := raw
	if d.proxy.TLS {
		tlsConn := tls.Client(raw, &tls.Config{MinVersion: tls.VersionTLS12, ServerName: d.proxy.Host})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = tlsConn.Close()
			return nil, proxyconf.Result{}, proxyerr.IO("http connect", "tls handshake", err)
		}
		conn = tlsConn
	}
	return d.negotiate(d, conn, tgt, port)
}

func (d *Dialer) negotiationDeadline(ctx context.Context) (time.Time, bool) {
	var deadline time.Time
	if d.cfg.NegotiationTimeout > 0 {
		deadline = time.Now().Add(d.cfg.NegotiationTimeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
		deadline = ctxDeadline
	}
	return deadline, !deadline.IsZero()
}

func contextError(v proxyconf.Variant, err error) error {
	op := v.String() + " handshake"
	if errors.Is(err, context.DeadlineExceeded) {
		return &proxyerr.TimeoutError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (d *Dialer) connectDirect(ctx context.Context, dst proxyconf.Destination) (*Conn, error) {
	if _, _, err := resolve.ParseIPv4(dst.Host); err != nil {
		return nil, err
	}
	c, err := d.forward.DialContext(ctx, "tcp4", dst.String())
	if err != nil {
		return nil, err
	}
	return &Conn{
		Conn:   c,
		result: proxyconf.Result{PeerHost: dst.Host, PeerPort: dst.Port},
		peer:   c.RemoteAddr(),
	}, nil
}

func negotiateSOCKS4(d *Dialer, conn net.Conn, tgt resolve.Target, port uint16) (net.Conn, proxyconf.Result, error) {
	res, err := socks4.Negotiate(conn, tgt, port, d.proxy.Username)
	return conn, res, err
}

func negotiateSOCKS5(d *Dialer, conn net.Conn, tgt resolve.Target, port uint16) (net.Conn, proxyconf.Result, error) {
	auth := socks5.Auth{Username: d.proxy.Username, Password: d.proxy.Password}
	res, err := socks5.Negotiate(conn, auth, tgt, port)
	return conn, res, err
}

func negotiateHTTP(d *Dialer, conn net.Conn, tgt resolve.Target, port uint16) (net.Conn, proxyconf.Result, error) {
	return httpconnect.Negotiate(conn, tgt, port, d.proxy.Username, d.proxy.Password)
}

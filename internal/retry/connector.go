package retry

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/net/proxy"

	"github.com/die-net/proxytunnel/internal/dialer"
	"github.com/die-net/proxytunnel/internal/proxyconf"
	"github.com/die-net/proxytunnel/internal/proxyerr"
	"github.com/die-net/proxytunnel/internal/resolve"
	"github.com/die-net/proxytunnel/internal/socks4"
)

const DefaultDelay = 100 * time.Millisecond

type Options struct {
	Dialer dialer.Config
	Proxy  proxyconf.Config

	// Cache is shared by every Connector that should learn from the same
	// proxies. Nil allocates a private permanent cache.
	Cache Cache

	// Delay between attempts. Zero uses DefaultDelay.
	Delay time.Duration

	Logger zerolog.Logger
}

// Connector dials through a proxy, retrying the failures that a second
// attempt can fix.
type Connector struct {
	base   *dialer.Dialer
	cache  Cache
	delay  time.Duration
	logger zerolog.Logger
}

var (
	_ proxy.Dialer        = (*Connector)(nil)
	_ proxy.ContextDialer = (*Connector)(nil)
)

func New(opts Options) (*Connector, error) {
	base, err := dialer.New(opts.Dialer, opts.Proxy)
	if err != nil {
		return nil, err
	}

	c := &Connector{
		base:   base,
		cache:  opts.Cache,
		delay:  opts.Delay,
		logger: opts.Logger,
	}
	if c.cache == nil {
		c.cache = NewCache(0)
	}
	if c.delay <= 0 {
		c.delay = DefaultDelay
	}
	return c, nil
}

func (c *Connector) Dial(network, address string) (net.Conn, error) {
	return c.DialContext(context.Background(), network, address)
}

func (c *Connector) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if network != "tcp" && network != "tcp4" {
		return nil, proxyerr.Invalid("network", "%q is not supported", network)
	}
	dst, err := proxyconf.ParseDestination(address)
	if err != nil {
		return nil, err
	}
	conn, err := c.Connect(ctx, dst)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Connect establishes a tunnel to dst.
//
// A SOCKS4 rejection of a remotely resolved name is retried with local
// resolution and remembered for the proxy endpoint. A connection the proxy
// closed mid-handshake is retried unchanged. Anything else is returned as
// is, as is the last error once attempts run out.
func (c *Connector) Connect(ctx context.Context, dst proxyconf.Destination) (*dialer.Conn, error) {
	d := c.base
	pc := d.Proxy()
	endpoint := pc.Endpoint()
	if pc.Variant == proxyconf.SOCKS4 && pc.RemoteDNS() && c.cache.LocalDNSOnly(endpoint) {
		pc = pc.WithDNS(proxyconf.DNSLocal)
		var err error
		if d, err = c.base.WithProxy(pc); err != nil {
			return nil, err
		}
	}

	attempts := 2
	if pc.Variant == proxyconf.SOCKS4 && pc.RemoteDNS() {
		attempts = 3
	}

	logger := c.logger.With().
		Str("dial_id", uuid.NewString()).
		Str("proxy", pc.String()).
		Str("dest", dst.String()).
		Logger()

	for attempt := 1; ; attempt++ {
		logger.Debug().Int("attempt", attempt).Bool("remote_dns", pc.RemoteDNS()).Msg("dialing")

		conn, err := d.Connect(ctx, dst)
		if err == nil {
			logger.Debug().Str("bound", conn.BoundAddr().String()).Msg("connected")
			return conn, nil
		}
		if attempt >= attempts {
			return nil, err
		}

		switch {
		case rejectedRemoteName(pc, dst, err):
			logger.Info().Err(err).Msg("proxy rejected remote name resolution, retrying with local DNS")
			c.cache.MarkLocalDNSOnly(endpoint)
			pc = pc.WithDNS(proxyconf.DNSLocal)
			if d, err = c.base.WithProxy(pc); err != nil {
				return nil, err
			}
		case errors.Is(err, proxyerr.ErrUnexpectedClose):
			logger.Info().Err(err).Msg("proxy closed connection, retrying")
		default:
			return nil, err
		}

		if err := sleep(ctx, c.delay); err != nil {
			return nil, err
		}
	}
}

func rejectedRemoteName(pc proxyconf.Config, dst proxyconf.Destination, err error) bool {
	if pc.Variant != proxyconf.SOCKS4 || !pc.RemoteDNS() || resolve.IsIPv4(dst.Host) {
		return false
	}
	var re *proxyerr.RejectionError
	return errors.As(err, &re) && re.Code == socks4.Rejected
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/net/proxy"

	"github.com/die-net/proxytunnel/internal/dialer"
	"github.com/die-net/proxytunnel/internal/dnsresolver"
	"github.com/die-net/proxytunnel/internal/forward"
	"github.com/die-net/proxytunnel/internal/httpclient"
	"github.com/die-net/proxytunnel/internal/proxyconf"
	"github.com/die-net/proxytunnel/internal/retry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		upstream = pflag.String("proxy", defaultUpstream(), "Proxy URL: direct:// | socks4://[user@]host:port | socks4a://... | socks5://[user:pass@]host:port | socks5h://... | http://[user:pass@]host:port | https://...")
		noProxy  = pflag.String("no-proxy", defaultNoProxy(), "Comma-separated hosts, domains (.example.com), IPs, and CIDRs to reach without the proxy")

		dialTimeout        = pflag.Duration("dial-timeout", 10*time.Second, "Timeout for the TCP connect to the proxy")
		negotiationTimeout = pflag.Duration("negotiation-timeout", 10*time.Second, "Timeout for the proxy handshake")
		tcpKeepAlive       = pflag.String("tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
		dnsServers         = pflag.StringSlice("dns-server", nil, "DNS server for local name resolution (repeatable). Empty uses the system resolver")
		retryDelay         = pflag.Duration("retry-delay", retry.DefaultDelay, "Delay between connection attempts")
		capabilityTTL      = pflag.Duration("capability-ttl", 0, "How long to remember that a SOCKS4 proxy needs local DNS. 0 remembers for the life of the process")

		listen  = pflag.String("listen", "", "Listen on this address and forward every connection to the destination")
		fetch   = pflag.String("fetch", "", "Fetch this URL through the proxy and write the body to stdout")
		verbose = pflag.Bool("verbose", false, "Enable debug logging")
	)

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] [host:port]\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	logger := newLogger(*verbose)

	ka, err := parseTCPKeepAlive(*tcpKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	pc, err := proxyconf.ParseURL(*upstream)
	if err != nil {
		return fmt.Errorf("invalid --proxy: %w", err)
	}

	dialCfg := dialer.Config{
		DialTimeout:        *dialTimeout,
		NegotiationTimeout: *negotiationTimeout,
		KeepAlive:          ka,
	}
	if len(*dnsServers) > 0 {
		r, err := dnsresolver.New(*dnsServers, *dialTimeout)
		if err != nil {
			return fmt.Errorf("invalid --dns-server: %w", err)
		}
		dialCfg.Resolver = r
	}

	connector, err := retry.New(retry.Options{
		Dialer: dialCfg,
		Proxy:  pc,
		Cache:  retry.NewCache(*capabilityTTL),
		Delay:  *retryDelay,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("invalid --proxy: %w", err)
	}

	d := bypassDialer(connector, dialer.NewDirectDialer(dialCfg), *noProxy)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *fetch != "" {
		if pflag.NArg() != 0 {
			return errors.New("--fetch does not take a destination")
		}
		return fetchURL(ctx, d, *fetch, *negotiationTimeout)
	}

	if pflag.NArg() != 1 {
		pflag.Usage()
		return errors.New("expected exactly one host:port destination")
	}
	dst, err := proxyconf.ParseDestination(pflag.Arg(0))
	if err != nil {
		return err
	}

	if *listen != "" {
		ln, err := forward.ListenTCP(ctx, "tcp", *listen, ka)
		if err != nil {
			return err
		}
		logger.Info().Str("listen", ln.Addr().String()).Str("dest", dst.String()).Str("proxy", pc.String()).Msg("forwarding")

		srv := &forward.Server{Dialer: d, Destination: dst, Logger: logger}
		err = srv.Serve(ctx, ln)
		logger.Info().Msg("shutting down")
		return err
	}

	return netcat(ctx, d, dst)
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()
}

// netcat connects stdin and stdout to dst.
func netcat(ctx context.Context, d proxy.ContextDialer, dst proxyconf.Destination) error {
	conn, err := d.DialContext(ctx, "tcp", dst.String())
	if err != nil {
		return err
	}
	defer conn.Close()

	context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})

	// Stdin may never reach EOF; the session ends when the peer closes.
	go func() {
		_, _ = io.Copy(conn, os.Stdin)
		if cw, ok := conn.(interface{ CloseWrite() error }); ok {
			_ = cw.CloseWrite()
		}
	}()

	_, err = io.Copy(os.Stdout, conn)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// bypassDialer routes hosts matched by noProxy (NO_PROXY syntax) to direct
// and everything else to via.
func bypassDialer(via, direct proxy.Dialer, noProxy string) proxy.ContextDialer {
	if strings.TrimSpace(noProxy) == "" {
		if cd, ok := via.(proxy.ContextDialer); ok {
			return cd
		}
	}
	perHost := proxy.NewPerHost(via, direct)
	perHost.AddFromString(noProxy)
	return perHost
}

func fetchURL(ctx context.Context, d proxy.ContextDialer, rawURL string, tlsTimeout time.Duration) error {
	client := httpclient.NewClient(d, httpclient.Config{TLSHandshakeTimeout: tlsTimeout})
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("invalid --fetch: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(os.Stdout, resp.Body); err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("fetch %s: %s", rawURL, resp.Status)
	}
	return nil
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return net.KeepAliveConfig{}, errors.New("empty")
	}
	if s == "on" {
		return net.KeepAliveConfig{Enable: true}, nil
	}
	if s == "off" {
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveSeconds(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveSeconds(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     keepIdle,
		Interval: keepIntvl,
		Count:    keepCnt,
	}, nil
}

func parsePositiveSeconds(s string) (time.Duration, error) {
	n, err := parsePositiveInt(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}

func defaultUpstream() string {
	return firstEnv("ALL_PROXY", "all_proxy", "direct://")
}

func defaultNoProxy() string {
	return firstEnv("NO_PROXY", "no_proxy", "")
}

func firstEnv(upper, lower, fallback string) string {
	if p := os.Getenv(upper); p != "" {
		return p
	}
	if p := os.Getenv(lower); p != "" {
		return p
	}
	return fallback
}

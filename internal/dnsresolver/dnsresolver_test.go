package dnsresolver

import (
	"context"
	"net"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

type testDNSServer struct {
	truncateUDP bool
	udpQueries  atomic.Int32
	tcpQueries  atomic.Int32
}

func (s *testDNSServer) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)

	if _, ok := w.RemoteAddr().(*net.UDPAddr); ok {
		s.udpQueries.Add(1)
		if s.truncateUDP {
			m.Truncated = true
			_ = w.WriteMsg(m)
			return
		}
	} else {
		s.tcpQueries.Add(1)
	}

	q := r.Question[0]
	switch {
	case q.Name == "example.test." && q.Qtype == dns.TypeA:
		m.Answer = append(m.Answer,
			&dns.CNAME{Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: 60}, Target: "www.example.test."},
			&dns.A{Hdr: dns.RR_Header{Name: "www.example.test.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60}, A: net.ParseIP("192.0.2.10")},
		)
	case q.Name == "empty.test.":
	default:
		m.SetRcode(r, dns.RcodeNameError)
	}
	_ = w.WriteMsg(m)
}

// startDNSServer serves h over UDP and TCP on the same loopback port.
func startDNSServer(t *testing.T, h dns.Handler) string {
	t.Helper()

	tcpLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	udpConn, err := net.ListenPacket("udp", tcpLn.Addr().String())
	if err != nil {
		_ = tcpLn.Close()
		t.Skipf("udp port unavailable: %v", err)
	}

	udpSrv := &dns.Server{PacketConn: udpConn, Handler: h}
	tcpSrv := &dns.Server{Listener: tcpLn, Handler: h}
	go func() { _ = udpSrv.ActivateAndServe() }()
	go func() { _ = tcpSrv.ActivateAndServe() }()

	t.Cleanup(func() {
		_ = udpSrv.Shutdown()
		_ = tcpSrv.Shutdown()
	})

	return tcpLn.Addr().String()
}

func TestLookupNetIP(t *testing.T) {
	srv := &testDNSServer{}
	addr := startDNSServer(t, srv)

	r, err := New([]string{addr}, time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ips, err := r.LookupNetIP(ctx, "ip4", "example.test")
	require.NoError(t, err)
	require.Equal(t, []netip.Addr{netip.MustParseAddr("192.0.2.10")}, ips)
	require.Equal(t, int32(0), srv.tcpQueries.Load())

	_, err = r.LookupNetIP(ctx, "ip4", "missing.test")
	var dnsErr *net.DNSError
	require.ErrorAs(t, err, &dnsErr)
	require.True(t, dnsErr.IsNotFound)

	_, err = r.LookupNetIP(ctx, "ip4", "empty.test")
	require.ErrorAs(t, err, &dnsErr)
	require.True(t, dnsErr.IsNotFound)

	ips, err = r.LookupNetIP(ctx, "ip", "192.0.2.1")
	require.NoError(t, err)
	require.Equal(t, []netip.Addr{netip.MustParseAddr("192.0.2.1")}, ips)

	_, err = r.LookupNetIP(ctx, "ip6", "example.test")
	require.Error(t, err)
}

func TestLookupNetIPTruncatedFallsBackToTCP(t *testing.T) {
	srv := &testDNSServer{truncateUDP: true}
	addr := startDNSServer(t, srv)

	r, err := New([]string{addr}, time.Second)
	require.NoError(t, err)

	ips, err := r.LookupNetIP(context.Background(), "ip4", "example.test")
	require.NoError(t, err)
	require.Equal(t, []netip.Addr{netip.MustParseAddr("192.0.2.10")}, ips)
	require.Equal(t, int32(1), srv.udpQueries.Load())
	require.Equal(t, int32(1), srv.tcpQueries.Load())
}

func TestLookupNetIPTriesNextServer(t *testing.T) {
	// Nothing listens on the first server; the short timeout moves on.
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := pc.LocalAddr().String()
	t.Cleanup(func() { _ = pc.Close() })

	addr := startDNSServer(t, &testDNSServer{})

	r, err := New([]string{dead, addr}, 100*time.Millisecond)
	require.NoError(t, err)

	ips, err := r.LookupNetIP(context.Background(), "ip4", "example.test")
	require.NoError(t, err)
	require.Len(t, ips, 1)
}

func TestNewDefaultsPort(t *testing.T) {
	t.Parallel()

	r, err := New([]string{"192.0.2.53", " 192.0.2.54:5353 ", ""}, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"192.0.2.53:53", "192.0.2.54:5353"}, r.servers)

	_, err = New(nil, 0)
	require.Error(t, err)
}

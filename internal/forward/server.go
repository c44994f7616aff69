package forward

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/net/proxy"

	"github.com/die-net/proxytunnel/internal/proxyconf"
)

// Server accepts local connections and tunnels each one to Destination.
type Server struct {
	Dialer      proxy.ContextDialer
	Destination proxyconf.Destination
	Logger      zerolog.Logger

	wg sync.WaitGroup
}

// Serve accepts connections on ln until it is closed or ctx is canceled, then
// waits for in-flight connections to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.Destination.Validate(); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()
	defer s.wg.Wait()

	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, c)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	logger := s.Logger.With().
		Str("conn_id", uuid.NewString()).
		Stringer("client", conn.RemoteAddr()).
		Logger()

	up, err := s.Dialer.DialContext(ctx, "tcp", s.Destination.String())
	if err != nil {
		_ = conn.Close()
		logger.Warn().Err(err).Msg("dial failed")
		return
	}
	logger.Debug().Stringer("peer", up.RemoteAddr()).Msg("tunnel open")

	if err := CopyBidirectional(ctx, conn, up); err != nil && ctx.Err() == nil {
		logger.Debug().Err(err).Msg("tunnel closed with error")
		return
	}
	logger.Debug().Msg("tunnel closed")
}

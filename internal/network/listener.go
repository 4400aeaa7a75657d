package network

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/bf2statistics/battlespy/internal/config"
	"github.com/bf2statistics/battlespy/internal/events"
	"github.com/bf2statistics/battlespy/internal/registry"
)

// QueryListener accepts browse connections and runs one Session per
// connection. Sessions share no mutable state except the registry.
type QueryListener struct {
	cfg      *config.Config
	registry *registry.Registry
	bus      *events.Bus

	listener net.Listener
	nextID   atomic.Uint64
}

// NewQueryListener creates the TCP acceptor for the query endpoint.
func NewQueryListener(cfg *config.Config, reg *registry.Registry, bus *events.Bus) *QueryListener {
	return &QueryListener{
		cfg:      cfg,
		registry: reg,
		bus:      bus,
	}
}

// Start binds the listen endpoint and accepts until the context ends.
// A bind failure is returned to the caller, which treats it as fatal.
func (l *QueryListener) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", l.cfg.Server.ListenAddress, l.cfg.Server.ListenPort)

	lc := reuseAddrListenConfig()
	var err error
	l.listener, err = lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind query endpoint %s: %w", addr, err)
	}

	log.Info().Str("addr", addr).Msg("query listener started")

	go func() {
		<-ctx.Done()
		l.listener.Close()
	}()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info().Msg("query listener stopping")
				return nil
			default:
				log.Error().Err(err).Msg("failed to accept connection")
				continue
			}
		}

		id := l.nextID.Add(1)
		log.Debug().
			Uint64("conn_id", id).
			Str("remote", conn.RemoteAddr().String()).
			Msg("query connection accepted")

		go NewSession(id, conn, l.registry, l.bus).Handle()
	}
}

// Stop closes the listening socket.
func (l *QueryListener) Stop() error {
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}

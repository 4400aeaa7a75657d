// Package network implements the TCP query acceptor with its per-connection
// sessions and the UDP heartbeat listener that feeds the registry.
package network

import (
	"bytes"
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bf2statistics/battlespy/internal/events"
	"github.com/bf2statistics/battlespy/internal/filter"
	"github.com/bf2statistics/battlespy/internal/protocol"
	"github.com/bf2statistics/battlespy/internal/registry"
)

const (
	// sessionReadTimeout closes sessions that never send a request.
	sessionReadTimeout = 30 * time.Second

	// sessionWriteTimeout bounds the response write.
	sessionWriteTimeout = 10 * time.Second
)

// Session handles one accepted query connection: receive, split frames,
// normalise the filter, encode, encrypt, send, close. It responds at most
// once and owns the connection until dispose.
type Session struct {
	id   uint64
	conn net.Conn

	registry *registry.Registry
	bus      *events.Bus
	logger   zerolog.Logger

	disposeOnce sync.Once
}

// NewSession wraps an accepted connection.
func NewSession(id uint64, conn net.Conn, reg *registry.Registry, bus *events.Bus) *Session {
	return &Session{
		id:       id,
		conn:     conn,
		registry: reg,
		bus:      bus,
		logger: log.With().
			Str("component", "session").
			Uint64("conn_id", id).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}
}

// Handle runs the session to completion. The connection is released on
// every exit path and the disconnect broadcast fires exactly once.
func (s *Session) Handle() {
	defer s.dispose()

	buf := make([]byte, 0, 1024)
	chunk := make([]byte, 1024)

	for len(buf) < protocol.MaxRequestSize {
		s.conn.SetReadDeadline(time.Now().Add(sessionReadTimeout))
		n, err := s.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if s.respondTo(buf) {
				return
			}
		}
		if err != nil {
			// Peer disconnect or idle timeout before a valid request.
			s.logger.Debug().Err(err).Msg("session closed without response")
			return
		}
	}

	s.logger.Warn().Int("bytes", len(buf)).Msg("request exceeded size limit, dropping")
}

// respondTo scans the buffered bytes for a complete browse request and
// answers the first valid one. Returns true once a response was written (or
// irrecoverably failed); the session closes either way.
func (s *Session) respondTo(buf []byte) bool {
	// Frames are complete only once a delimiter is present.
	if !bytes.Contains(buf, []byte{0x00, 0x00, 0x00, 0x00}) {
		return false
	}

	for _, frame := range protocol.SplitFrames(buf) {
		req, err := protocol.ParseBrowseRequest(frame)
		if err != nil {
			// Foreign tags and malformed frames are ignored silently.
			s.logger.Debug().Err(err).Msg("ignoring frame")
			continue
		}
		s.answer(req)
		return true
	}
	return false
}

// answer runs the query pipeline for one parsed request.
func (s *Session) answer(req *protocol.BrowseRequest) {
	canonical := filter.Normalize(req.RawFilter)
	pred, err := filter.Parse(canonical)
	if err != nil {
		// Unparseable after repair: log and fall back to match-all so the
		// client still gets a usable list.
		s.logger.Error().
			Err(err).
			Str("filter", req.RawFilter).
			Str("canonical", canonical).
			Msg("filter rejected, returning unfiltered list")
		pred = nil
	}

	snapshot := s.registry.Snapshot()
	matched := filter.Select(pred, snapshot, req.RawFilter)

	clientIP := net.IPv4zero
	if addr, ok := s.conn.RemoteAddr().(*net.TCPAddr); ok {
		clientIP = addr.IP
	}

	blob, err := protocol.EncodeServerList(clientIP, req.Fields, matched)
	if err != nil {
		s.logger.Error().Err(err).Msg("server list encoding failed, closing session")
		return
	}

	response := protocol.EncryptServerList([]byte(protocol.GameKey), req.Validate, blob)

	s.conn.SetWriteDeadline(time.Now().Add(sessionWriteTimeout))
	if _, err := s.conn.Write(response); err != nil {
		s.logger.Debug().Err(err).Msg("peer went away before response completed")
		return
	}

	s.logger.Debug().
		Int("servers", len(matched)).
		Int("fields", len(req.Fields)).
		Int("bytes", len(response)).
		Msg("server list sent")
}

// dispose releases the connection and broadcasts the disconnect. Safe to
// call from any exit path; only the first call has effect.
func (s *Session) dispose() {
	s.disposeOnce.Do(func() {
		remote := s.conn.RemoteAddr().String()
		s.conn.Close()
		if s.bus != nil {
			s.bus.Emit(context.Background(), events.Event{
				Type:   events.EventClientDisconnect,
				Source: "session",
				Payload: events.SessionPayload{
					ConnectionID: s.id,
					RemoteAddr:   remote,
				},
			})
		}
	})
}

package network

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/bf2statistics/battlespy/internal/config"
	"github.com/bf2statistics/battlespy/internal/registry"
)

// QR2 reporting message types.
const (
	hbChallengeResponse byte = 0x01
	hbHeartbeat         byte = 0x03
	hbKeepalive         byte = 0x08
)

// challengeHeader prefixes the challenge packet sent back to a reporting
// server.
var challengeHeader = []byte{0xFE, 0xFD, 0x01}

// HeartbeatListener receives UDP server reports, maintains the registry,
// and runs the staleness janitor. Apart from the console's evict command,
// it is the registry's only writer.
type HeartbeatListener struct {
	cfg      *config.Config
	registry *registry.Registry
	logger   zerolog.Logger

	conn net.PacketConn

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	pending  map[string][]byte // addr -> instance key awaiting validation
}

// NewHeartbeatListener creates the reporting listener.
func NewHeartbeatListener(cfg *config.Config, reg *registry.Registry) *HeartbeatListener {
	return &HeartbeatListener{
		cfg:      cfg,
		registry: reg,
		logger:   log.With().Str("component", "heartbeat").Logger(),
		limiters: make(map[string]*rate.Limiter),
		pending:  make(map[string][]byte),
	}
}

// Start binds the UDP endpoint and processes reports until the context
// ends.
func (h *HeartbeatListener) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", h.cfg.Server.ListenAddress, h.cfg.Heartbeat.ListenPort)

	lc := reuseAddrListenConfig()
	conn, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return fmt.Errorf("failed to bind heartbeat endpoint %s: %w", addr, err)
	}
	h.conn = conn

	h.logger.Info().Str("addr", addr).Msg("heartbeat listener started")

	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go h.janitor(ctx)

	buf := make([]byte, 1500)
	for {
		n, src, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				h.logger.Info().Msg("heartbeat listener stopping")
				return nil
			default:
				h.logger.Error().Err(err).Msg("heartbeat read error")
				continue
			}
		}

		udpAddr, ok := src.(*net.UDPAddr)
		if !ok || n < 5 {
			continue
		}
		if !h.allow(udpAddr.IP.String()) {
			continue
		}
		h.handlePacket(ctx, buf[:n], udpAddr)
	}
}

// allow applies the per-source rate limit.
func (h *HeartbeatListener) allow(ip string) bool {
	pps := h.cfg.Heartbeat.RateLimitPPS
	if pps <= 0 {
		return true
	}

	h.mu.Lock()
	lim, ok := h.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(pps), pps*2)
		h.limiters[ip] = lim
	}
	h.mu.Unlock()

	return lim.Allow()
}

func (h *HeartbeatListener) handlePacket(ctx context.Context, pkt []byte, src *net.UDPAddr) {
	msgType := pkt[0]
	instance := pkt[1:5]
	payload := pkt[5:]
	key := fmt.Sprintf("%s:%d", src.IP.String(), src.Port)

	switch msgType {
	case hbHeartbeat:
		h.handleHeartbeat(ctx, instance, payload, src, key)
	case hbChallengeResponse:
		h.handleChallengeResponse(ctx, instance, payload, src, key)
	case hbKeepalive:
		h.registry.Touch(src.IP.String(), uint16(src.Port))
	default:
		h.logger.Debug().
			Uint8("type", msgType).
			Str("server", key).
			Msg("unknown report message")
	}
}

// handleHeartbeat parses the advertised key/value pairs and upserts the
// record. Unvalidated servers get a challenge; a statechanged=2 report
// means the server is shutting down.
func (h *HeartbeatListener) handleHeartbeat(ctx context.Context, instance, payload []byte, src *net.UDPAddr, key string) {
	attrs := parseKeyValues(payload)
	if len(attrs) == 0 {
		return
	}

	if attrs["statechanged"] == "2" {
		h.logger.Info().Str("server", key).Msg("server reported shutdown")
		h.registry.Remove(ctx, src.IP.String(), uint16(src.Port))
		h.forget(key)
		return
	}

	rec := buildServerRecord(attrs, src)
	h.registry.Upsert(rec)

	if cur, ok := h.registry.Get(rec.IP, rec.QueryPort); ok && cur.IsValidated {
		h.registry.MarkOnline(ctx, rec.IP, rec.QueryPort)
		return
	}
	h.sendChallenge(instance, src, key)
}

// sendChallenge issues the validation challenge and remembers the instance
// key the response must echo.
func (h *HeartbeatListener) sendChallenge(instance []byte, src *net.UDPAddr, key string) {
	h.mu.Lock()
	h.pending[key] = append([]byte(nil), instance...)
	h.mu.Unlock()

	challenge := challengeText(src)
	pkt := make([]byte, 0, len(challengeHeader)+4+len(challenge)+1)
	pkt = append(pkt, challengeHeader...)
	pkt = append(pkt, instance...)
	pkt = append(pkt, challenge...)
	pkt = append(pkt, 0x00)

	if _, err := h.conn.WriteTo(pkt, src); err != nil {
		h.logger.Warn().Err(err).Str("server", key).Msg("failed to send challenge")
	}
}

// handleChallengeResponse completes the handshake when the echoed instance
// key matches the challenge we issued.
func (h *HeartbeatListener) handleChallengeResponse(ctx context.Context, instance, payload []byte, src *net.UDPAddr, key string) {
	h.mu.Lock()
	expected, ok := h.pending[key]
	if ok {
		delete(h.pending, key)
	}
	h.mu.Unlock()

	if !ok || !bytes.Equal(expected, instance) || len(bytes.TrimRight(payload, "\x00")) == 0 {
		h.logger.Debug().Str("server", key).Msg("challenge response rejected")
		return
	}

	h.registry.MarkValidated(ctx, src.IP.String(), uint16(src.Port))
}

func (h *HeartbeatListener) forget(key string) {
	h.mu.Lock()
	delete(h.pending, key)
	h.mu.Unlock()
}

// janitor evicts stale records and resets the limiter table once it holds
// more than 4096 sources.
func (h *HeartbeatListener) janitor(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stale := time.Duration(h.cfg.Heartbeat.StaleAfter) * time.Second
			if n := h.registry.EvictStale(ctx, stale); n > 0 {
				h.logger.Info().Int("count", n).Msg("stale servers evicted")
			}

			h.mu.Lock()
			if len(h.limiters) > 4096 {
				h.limiters = make(map[string]*rate.Limiter)
			}
			h.mu.Unlock()
		}
	}
}

// challengeText derives the challenge string from the reporting address.
func challengeText(src *net.UDPAddr) string {
	return strings.ToUpper(hex.EncodeToString(src.IP.To4())) + fmt.Sprintf("%04X", src.Port)
}

// parseKeyValues decodes the NUL-separated key/value list of a heartbeat.
// An empty key terminates the list; trailing player sections are ignored.
func parseKeyValues(payload []byte) map[string]string {
	attrs := make(map[string]string)
	parts := bytes.Split(payload, []byte{0x00})
	for i := 0; i+1 < len(parts); i += 2 {
		k := string(parts[i])
		if k == "" {
			break
		}
		attrs[k] = string(parts[i+1])
	}
	return attrs
}

// buildServerRecord maps advertised attributes onto a registry record. The
// reporting source address is authoritative for identity; the advertised
// hostport only fills the game port.
func buildServerRecord(attrs map[string]string, src *net.UDPAddr) registry.GameServer {
	return registry.GameServer{
		IP:        src.IP.String(),
		QueryPort: uint16(src.Port),
		GamePort:  parseU16(attrs["hostport"]),

		Hostname:       attrs["hostname"],
		GameName:       attrs["gamename"],
		GameVersion:    attrs["gamever"],
		GameType:       attrs["gametype"],
		GameVariant:    attrs["gamevariant"],
		GameMode:       attrs["gamemode"],
		MapName:        attrs["mapname"],
		NumPlayers:     parseU8(attrs["numplayers"]),
		MaxPlayers:     parseU8(attrs["maxplayers"]),
		TimeLimit:      parseU16(attrs["timelimit"]),
		RoundTime:      parseU16(attrs["roundtime"]),
		ConnectionType: attrs["connectiontype"],
		Password:       parseBool(attrs["password"]),
		Dedicated:      parseBool(attrs["bf2_dedicated"]),
		Ranked:         parseBool(attrs["bf2_ranked"]),
		Punkbuster:     parseBool(attrs["bf2_anticheat"]),
		OS:             attrs["bf2_os"],
		Voip:           parseBool(attrs["bf2_voip"]),
		Autobalanced:   parseBool(attrs["bf2_autobalanced"]),
		FriendlyFire:   parseBool(attrs["bf2_friendlyfire"]),
		TKMode:         attrs["bf2_tkmode"],
		StartDelay:     parseU16(attrs["bf2_startdelay"]),
		ScoreLimit:     parseU16(attrs["bf2_scorelimit"]),
		TicketRatio:    parseU16(attrs["bf2_ticketratio"]),
		TeamRatio:      parseU16(attrs["bf2_teamratio"]),
		Team1:          attrs["bf2_team1"],
		Team2:          attrs["bf2_team2"],
		Bots:           parseU8(attrs["bf2_bots"]),
		Pure:           parseBool(attrs["bf2_pure"]),
		MapSize:        parseU16(attrs["bf2_mapsize"]),
		GlobalUnlocks:  parseBool(attrs["bf2_globalunlocks"]),
		ReservedSlots:  parseU8(attrs["bf2_reservedslots"]),
		NoVehicles:     parseBool(attrs["bf2_novehicles"]),
		SponsorText:    attrs["bf2_sponsortext"],
		SponsorLogo:    attrs["bf2_sponsorlogo_url"],
		CommunityLogo:  attrs["bf2_communitylogo_url"],
	}
}

func parseU8(s string) uint8 {
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0
	}
	return uint8(n)
}

func parseU16(s string) uint16 {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0
	}
	return uint16(n)
}

func parseBool(s string) bool {
	return s == "1" || strings.EqualFold(s, "true")
}

// Package api implements the status HTTP API: a JSON view of the live
// registry and process health for dashboards and monitoring.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/bf2statistics/battlespy/internal/config"
	"github.com/bf2statistics/battlespy/internal/geoip"
	"github.com/bf2statistics/battlespy/internal/registry"
	"github.com/bf2statistics/battlespy/internal/util"
)

// Server is the status API server.
type Server struct {
	cfg      *config.Config
	registry *registry.Registry
	geo      *geoip.Provider

	httpServer *http.Server
	startedAt  time.Time
}

// NewServer creates the status API. geo may be nil when GeoIP is disabled.
func NewServer(cfg *config.Config, reg *registry.Registry, geo *geoip.Provider) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:       cfg,
		registry:  reg,
		geo:       geo,
		startedAt: time.Now(),
	}
}

// Start serves the API until the context ends.
func (s *Server) Start(ctx context.Context) error {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	router.GET("/api/ping", s.handlePing)
	router.GET("/api/servers", s.handleServers)
	router.GET("/api/status", s.handleStatus)

	addr := fmt.Sprintf(":%d", s.cfg.API.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("status API starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status API error: %w", err)
	}
	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pong": true})
}

// serverView is the JSON shape of one registry record.
type serverView struct {
	IP         string `json:"ip"`
	QueryPort  uint16 `json:"query_port"`
	GamePort   uint16 `json:"game_port"`
	Hostname   string `json:"hostname"`
	GameType   string `json:"gametype"`
	MapName    string `json:"mapname"`
	NumPlayers uint8  `json:"numplayers"`
	MaxPlayers uint8  `json:"maxplayers"`
	Ranked     bool   `json:"ranked"`
	Password   bool   `json:"password"`
	Country    string `json:"country,omitempty"`
	LastSeen   int64  `json:"last_seen"`
}

func (s *Server) handleServers(c *gin.Context) {
	snapshot := s.registry.Snapshot()
	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].Key() < snapshot[j].Key()
	})

	views := make([]serverView, 0, len(snapshot))
	for i := range snapshot {
		srv := &snapshot[i]
		v := serverView{
			IP:         srv.IP,
			QueryPort:  srv.QueryPort,
			GamePort:   srv.GamePort,
			Hostname:   srv.Hostname,
			GameType:   srv.GameType,
			MapName:    srv.MapName,
			NumPlayers: srv.NumPlayers,
			MaxPlayers: srv.MaxPlayers,
			Ranked:     srv.Ranked,
			Password:   srv.Password,
			LastSeen:   srv.LastRefreshed.Unix(),
		}
		if s.geo != nil {
			v.Country = s.geo.CountryCode(srv.IP)
		}
		views = append(views, v)
	}

	c.JSON(http.StatusOK, gin.H{"count": len(views), "servers": views})
}

func (s *Server) handleStatus(c *gin.Context) {
	total, validated := s.registry.Count()
	c.JSON(http.StatusOK, gin.H{
		"uptime_sec":        int(time.Since(s.startedAt).Seconds()),
		"servers_total":     total,
		"servers_validated": validated,
		"process":           util.GetProcessUsage(),
	})
}

// requestLogger logs each API request with zerolog.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("component", "api").
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

// Package config handles configuration loading, validation, and persistence
// for the BattleSpy master server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"

	DefaultListenPort    = 28910
	DefaultHeartbeatPort = 27900
	DefaultAPIPort       = 8080
	DefaultDatabasePort  = 3306
)

// Config is the root configuration structure.
type Config struct {
	path string

	Database  Database  `json:"database"`
	Server    Server    `json:"server"`
	Heartbeat Heartbeat `json:"heartbeat"`
	API       API       `json:"api"`
	MQTT      MQTT      `json:"mqtt"`
	GeoIP     GeoIP     `json:"geoip"`
	Logging   Logging   `json:"logging"`
}

// Database identifies the master database the registry persists through.
type Database struct {
	Hostname       string `json:"hostname"`
	Port           uint32 `json:"port"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	MasterDatabase string `json:"master_database"`
}

// Server is the bind endpoint for the query TCP acceptor.
type Server struct {
	ListenAddress string `json:"listen_address"`
	ListenPort    int    `json:"listen_port"`
}

// Heartbeat configures the UDP reporting listener.
type Heartbeat struct {
	ListenPort   int `json:"listen_port"`
	StaleAfter   int `json:"stale_after_sec"`
	RateLimitPPS int `json:"rate_limit_pps"`
}

// API configures the status HTTP endpoint.
type API struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// MQTT configures the optional telemetry publisher.
type MQTT struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	ClientID  string `json:"client_id"`
}

// GeoIP configures the optional country lookup.
type GeoIP struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Logging configures the log sink.
type Logging struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: Database{
			Hostname:       "localhost",
			Port:           DefaultDatabasePort,
			Username:       "battlespy",
			MasterDatabase: "battlespy_master",
		},
		Server: Server{
			ListenAddress: "0.0.0.0",
			ListenPort:    DefaultListenPort,
		},
		Heartbeat: Heartbeat{
			ListenPort:   DefaultHeartbeatPort,
			StaleAfter:   300,
			RateLimitPPS: 10,
		},
		API: API{
			Enabled: true,
			Port:    DefaultAPIPort,
		},
		MQTT: MQTT{
			Port: 8883,
		},
		GeoIP: GeoIP{
			Path: "config/country.mmdb",
		},
		Logging: Logging{
			Level:      "info",
			Directory:  "logs",
			MaxBackups: 5,
		},
	}
}

// Load reads configuration from a JSON file, creating it with defaults when
// absent. The file is re-saved after loading so it always reflects the
// complete set of options.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// ValidationError describes one rejected configuration field.
type ValidationError struct {
	Field   string
	Message string
}

// Validate checks the configuration for fatal problems. Any returned error
// aborts startup.
func Validate(c *Config) []ValidationError {
	var errs []ValidationError

	if c.Database.Hostname == "" {
		errs = append(errs, ValidationError{"database.hostname", "database hostname is required"})
	}
	if c.Database.Port == 0 || c.Database.Port > 65535 {
		errs = append(errs, ValidationError{"database.port", "database port must be 1-65535"})
	}
	if c.Database.Username == "" {
		errs = append(errs, ValidationError{"database.username", "database username is required"})
	}
	if c.Database.MasterDatabase == "" {
		errs = append(errs, ValidationError{"database.master_database", "master database name is required"})
	}
	if c.Server.ListenPort <= 0 || c.Server.ListenPort > 65535 {
		errs = append(errs, ValidationError{"server.listen_port", "listen port must be 1-65535"})
	}
	if c.Heartbeat.ListenPort <= 0 || c.Heartbeat.ListenPort > 65535 {
		errs = append(errs, ValidationError{"heartbeat.listen_port", "heartbeat port must be 1-65535"})
	}
	if c.Heartbeat.StaleAfter <= 0 {
		errs = append(errs, ValidationError{"heartbeat.stale_after_sec", "staleness threshold must be positive"})
	}
	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		errs = append(errs, ValidationError{"api.port", "api port must be 1-65535"})
	}
	if c.MQTT.Enabled && c.MQTT.BrokerURL == "" {
		errs = append(errs, ValidationError{"mqtt.broker_url", "mqtt broker url is required when mqtt is enabled"})
	}
	return errs
}

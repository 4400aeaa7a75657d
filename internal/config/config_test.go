package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

func TestDefaultConfigValidates(t *testing.T) {
	if errs := Validate(DefaultConfig()); len(errs) != 0 {
		t.Fatalf("default config rejected: %+v", errs)
	}
}

func TestValidateCatchesBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Hostname = ""
	cfg.Server.ListenPort = 0
	cfg.Heartbeat.StaleAfter = 0
	cfg.MQTT.Enabled = true

	errs := Validate(cfg)
	fields := map[string]bool{}
	for _, e := range errs {
		fields[e.Field] = true
	}
	for _, want := range []string{
		"database.hostname",
		"server.listen_port",
		"heartbeat.stale_after_sec",
		"mqtt.broker_url",
	} {
		if !fields[want] {
			t.Errorf("missing validation error for %s (got %+v)", want, errs)
		}
	}
}

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.ListenPort != DefaultListenPort {
		t.Errorf("ListenPort = %d, want %d", cfg.Server.ListenPort, DefaultListenPort)
	}
	if _, err := os.Stat(filepath.Join(dir, DefaultConfigFile)); err != nil {
		t.Errorf("default config file not written: %v", err)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	partial := `{"server": {"listen_port": 12345}}`
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(partial), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.ListenPort != 12345 {
		t.Errorf("ListenPort = %d, want 12345", cfg.Server.ListenPort)
	}
	// Untouched sections keep their defaults.
	if cfg.Heartbeat.ListenPort != DefaultHeartbeatPort {
		t.Errorf("Heartbeat.ListenPort = %d, want default %d", cfg.Heartbeat.ListenPort, DefaultHeartbeatPort)
	}
}

func TestLoadRejectsBrokenJSON(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for broken config JSON")
	}
}

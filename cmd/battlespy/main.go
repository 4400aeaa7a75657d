// BattleSpy - GameSpy master server for Battlefield 2.
//
// BattleSpy accepts heartbeat reports from game servers over UDP, keeps a
// validated registry of live servers, and answers encrypted server-list
// queries from game clients over TCP. A status HTTP API, MQTT telemetry and
// an interactive console ride along for operations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"

	"github.com/bf2statistics/battlespy/internal/api"
	"github.com/bf2statistics/battlespy/internal/cli"
	"github.com/bf2statistics/battlespy/internal/config"
	"github.com/bf2statistics/battlespy/internal/events"
	"github.com/bf2statistics/battlespy/internal/geoip"
	"github.com/bf2statistics/battlespy/internal/network"
	"github.com/bf2statistics/battlespy/internal/registry"
	"github.com/bf2statistics/battlespy/internal/storage"
	"github.com/bf2statistics/battlespy/internal/telemetry"
	"github.com/bf2statistics/battlespy/internal/util"
)

const (
	AppName    = "BattleSpy"
	AppVersion = "1.0.0"
	Banner     = `
  ____        _   _   _      ____
 | __ )  __ _| |_| |_| | ___/ ___| _ __  _   _
 |  _ \ / _' | __| __| |/ _ \___ \| '_ \| | | |
 | |_) | (_| | |_| |_| |  __/___) | |_) | |_| |
 |____/ \__,_|\__|\__|_|\___|____/| .__/ \__, |
                                  |_|    |___/  v%s
 Battlefield 2 Master Server
`
)

// Options are the command-line flags.
type Options struct {
	ConfigDir string `short:"c" long:"config" description:"Configuration directory" default:"config"`
	LogLevel  string `long:"log-level" description:"Override the configured log level"`
	NoConsole bool   `long:"no-console" description:"Disable the interactive console"`
	Version   bool   `short:"v" long:"version" description:"Print version and exit"`
}

func main() {
	var opts Options
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			return
		}
		os.Exit(1)
	}
	if opts.Version {
		fmt.Printf("%s %s (%s/%s)\n", AppName, AppVersion, runtime.GOOS, runtime.GOARCH)
		return
	}

	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting BattleSpy")

	// Load configuration
	cfg, err := config.Load(opts.ConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Re-initialize logger with config-based settings
	logCfg := util.LogConfig{
		Level:      cfg.Logging.Level,
		Directory:  cfg.Logging.Directory,
		MaxBackups: cfg.Logging.MaxBackups,
		Console:    true,
	}
	if opts.LogLevel != "" {
		logCfg.Level = opts.LogLevel
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	// Connect to the master database. Unreachable at startup is fatal;
	// failures after startup are absorbed by the registry.
	db, err := storage.Connect(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to master database")
	}
	defer db.Close()

	// Optional GeoIP provider
	var geo *geoip.Provider
	if cfg.GeoIP.Enabled {
		geo, err = geoip.Open(cfg.GeoIP.Path)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.GeoIP.Path).Msg("GeoIP disabled: database not readable")
		} else {
			defer geo.Close()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core components
	eventBus := events.NewBus()
	reg := registry.New(db, eventBus)

	queryListener := network.NewQueryListener(cfg, reg, eventBus)
	heartbeat := network.NewHeartbeatListener(cfg, reg)

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	// Task 1: heartbeat listener (registry writer)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := startWithRetry(ctx, "heartbeat listener", heartbeat.Start, 5); err != nil {
			errCh <- fmt.Errorf("heartbeat listener: %w", err)
		}
	}()

	// Task 2: query listener (the reason we are here)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := startWithRetry(ctx, "query listener", queryListener.Start, 5); err != nil {
			errCh <- fmt.Errorf("query listener: %w", err)
		}
	}()

	// Task 3: status API
	if cfg.API.Enabled {
		apiServer := api.NewServer(cfg, reg, geo)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := startWithRetry(ctx, "status API", apiServer.Start, 5); err != nil {
				log.Warn().Err(err).Msg("status API failed after retries (non-fatal)")
			}
		}()
	}

	// Task 4: MQTT telemetry
	if cfg.MQTT.Enabled {
		publisher, err := telemetry.NewPublisher(cfg, eventBus, reg)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := publisher.Start(ctx); err != nil {
					log.Warn().Err(err).Msg("MQTT telemetry failed (non-fatal)")
				}
			}()
		}
	}

	// Task 5: interactive console
	if !opts.NoConsole {
		console := cli.NewCLI(reg, eventBus, geo)
		wg.Add(1)
		go func() {
			defer wg.Done()
			console.Start(ctx)
		}()
	}

	// Shutdown on signal, console quit, or a fatal listener error.
	shutdownCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main", func(context.Context, events.Event) error {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested from console")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
		exitCode = 1
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("shutdown timed out, forcing exit")
	}

	eventBus.Stop()
	log.Info().Msg("BattleSpy stopped")
	os.Exit(exitCode)
}

// startWithRetry attempts to start a listener with retries on bind errors,
// giving the OS time to release sockets from a previous run.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return nil
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}

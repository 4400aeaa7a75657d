// Package telemetry publishes registry activity over MQTT for external
// monitoring. Entirely optional: the query path never depends on it.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/bf2statistics/battlespy/internal/config"
	"github.com/bf2statistics/battlespy/internal/events"
	"github.com/bf2statistics/battlespy/internal/registry"
	"github.com/bf2statistics/battlespy/internal/util"
)

// MQTT topics.
const (
	TopicServerOnline  = "master/server/online"
	TopicServerOffline = "master/server/offline"
	TopicSummary       = "master/summary"
)

// Publisher forwards server lifecycle events and a periodic registry
// summary to an MQTT broker.
type Publisher struct {
	cfg      *config.Config
	bus      *events.Bus
	registry *registry.Registry
	client   mqtt.Client
	hostname string
}

// NewPublisher configures the MQTT client. Returns an error when telemetry
// is disabled.
func NewPublisher(cfg *config.Config, bus *events.Bus, reg *registry.Registry) (*Publisher, error) {
	if !cfg.MQTT.Enabled {
		return nil, fmt.Errorf("MQTT telemetry is disabled")
	}

	sysInfo := util.GetSystemInfo()
	p := &Publisher{
		cfg:      cfg,
		bus:      bus,
		registry: reg,
		hostname: sysInfo.Hostname,
	}

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if cfg.MQTT.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.MQTT.BrokerURL, cfg.MQTT.Port))

	if cfg.MQTT.ClientID != "" {
		opts.SetClientID(cfg.MQTT.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("battlespy-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)

	if cfg.MQTT.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	p.client = mqtt.NewClient(opts)
	return p, nil
}

// Start connects to the broker, subscribes to registry events, and
// publishes summaries until the context ends.
func (p *Publisher) Start(ctx context.Context) error {
	token := p.client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return fmt.Errorf("MQTT connect timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT connect failed: %w", err)
	}

	p.bus.Subscribe(events.EventServerOnline, "telemetry", func(_ context.Context, ev events.Event) error {
		p.publish(TopicServerOnline, ev.Payload)
		return nil
	})
	p.bus.Subscribe(events.EventServerOffline, "telemetry", func(_ context.Context, ev events.Event) error {
		p.publish(TopicServerOffline, ev.Payload)
		return nil
	})

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.client.Disconnect(250)
			return nil
		case <-ticker.C:
			total, validated := p.registry.Count()
			p.publish(TopicSummary, map[string]interface{}{
				"hostname":          p.hostname,
				"servers_total":     total,
				"servers_validated": validated,
				"timestamp":         time.Now().Unix(),
			})
		}
	}
}

func (p *Publisher) publish(topic string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal telemetry payload")
		return
	}
	token := p.client.Publish(topic, 0, false, data)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("telemetry publish failed")
		}
	}()
}

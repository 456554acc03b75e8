// Package telemetry publishes server events to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/yume-project/yume/internal/config"
	"github.com/yume-project/yume/internal/events"
	"github.com/yume-project/yume/internal/util"
)

// Topic suffixes, appended to the configured prefix.
const (
	TopicServer       = "server/status"
	TopicUsers        = "users"
	TopicScores       = "scores"
	TopicLeaderboards = "leaderboards"
	TopicStats        = "stats"
	TopicMatches      = "matches"
)

// publisher is the slice of the MQTT client the handler uses.
type publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTHandler forwards bus events to MQTT topics as JSON.
type MQTTHandler struct {
	cfg    config.MQTTConfig
	bus    *events.Bus
	client mqtt.Client
	pub    publisher

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a handler for an enabled MQTT configuration.
func NewMQTTHandler(cfg config.MQTTConfig, bus *events.Bus) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	h := &MQTTHandler{
		cfg: cfg,
		bus: bus,
		metadata: map[string]interface{}{
			"hostname":    sysInfo.Hostname,
			"platform":    sysInfo.Platform,
			"cpu_cores":   sysInfo.CPUCores,
			"memory_mb":   sysInfo.TotalMemory,
			"app_version": "1.0.0",
		},
	}

	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("yume-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if cfg.UseTLS {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.CertFile != "" && cfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	h.client = mqtt.NewClient(opts)
	h.pub = h.client
	return h, nil
}

// Start connects to the broker, subscribes to the bus and blocks until ctx
// is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()
	h.publish(TopicServer, map[string]interface{}{"event": "startup"})

	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")
	return nil
}

func (h *MQTTHandler) subscribeEvents() {
	forward := func(topic string) events.HandlerFunc {
		return func(_ context.Context, event events.Event) error {
			h.publish(topic, map[string]interface{}{
				"event":   string(event.Type),
				"source":  event.Source,
				"payload": event.Payload,
			})
			return nil
		}
	}

	routes := map[events.EventType]string{
		events.EventUserLogin:          TopicUsers,
		events.EventUserLogout:         TopicUsers,
		events.EventScoreSubmitted:     TopicScores,
		events.EventLeaderboardRefresh: TopicLeaderboards,
		events.EventStatsUpdated:       TopicStats,
		events.EventMatchCreated:       TopicMatches,
		events.EventMatchStarted:       TopicMatches,
		events.EventMatchDisbanded:     TopicMatches,
	}
	for eventType, topic := range routes {
		h.bus.Subscribe(eventType, "mqtt."+string(eventType), forward(topic))
	}
}

func (h *MQTTHandler) topic(suffix string) string {
	if h.cfg.TopicPrefix == "" {
		return suffix
	}
	return h.cfg.TopicPrefix + "/" + suffix
}

// publish sends a JSON message to a topic. Messages are dropped while the
// client is disconnected.
func (h *MQTTHandler) publish(suffix string, payload interface{}) {
	if !h.pub.IsConnected() {
		return
	}
	topic := h.topic(suffix)

	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.pub.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

// PublishShutdown announces the shutdown to the broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicServer, map[string]interface{}{"event": "shutdown"})
}

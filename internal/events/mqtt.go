package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"realtime-stt-gateway/internal/observability/metrics"
)

const sinkMQTT = "mqtt"

// MQTTConfig holds MQTT sink configuration.
type MQTTConfig struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// publishClient is the subset of paho.Client the sink uses.
type publishClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes transcript events to per-session MQTT topics:
// <prefix>/sessions/<session>/{partial,final,export}.
type MQTTPublisher struct {
	cfg     MQTTConfig
	client  publishClient
	metrics *metrics.Metrics
}

// NewMQTTPublisher connects to the broker and returns a ready sink.
func NewMQTTPublisher(cfg MQTTConfig) (*MQTTPublisher, error) {
	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Error().Err(err).Msg("MQTT connection lost")
	})

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt %s: %w", cfg.BrokerURL, token.Error())
	}

	log.Info().
		Str("broker", cfg.BrokerURL).
		Str("topicPrefix", cfg.TopicPrefix).
		Msg("MQTT publisher initialized")

	return newMQTTPublisher(cfg, client), nil
}

func newMQTTPublisher(cfg MQTTConfig, client publishClient) *MQTTPublisher {
	return &MQTTPublisher{cfg: cfg, client: client, metrics: metrics.DefaultMetrics}
}

// Name implements Sink.
func (p *MQTTPublisher) Name() string { return sinkMQTT }

// PublishPartial implements Sink.
func (p *MQTTPublisher) PublishPartial(ctx context.Context, key string, event any) error {
	return p.publish(ctx, "partial", key, event)
}

// PublishFinal implements Sink.
func (p *MQTTPublisher) PublishFinal(ctx context.Context, key string, event any) error {
	return p.publish(ctx, "final", key, event)
}

// PublishExportReady implements Sink.
func (p *MQTTPublisher) PublishExportReady(ctx context.Context, key string, event any) error {
	return p.publish(ctx, "export", key, event)
}

// Topic returns the topic an event of kind for session key is published on.
func (p *MQTTPublisher) Topic(key, kind string) string {
	prefix := strings.TrimSuffix(p.cfg.TopicPrefix, "/")
	if prefix == "" {
		return "sessions/" + key + "/" + kind
	}
	return prefix + "/sessions/" + key + "/" + kind
}

func (p *MQTTPublisher) publish(ctx context.Context, kind, key string, event any) error {
	start := time.Now()
	topic := p.Topic(key, kind)

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	token := p.client.Publish(topic, p.cfg.QoS, false, payload)
	select {
	case <-token.Done():
		err = token.Error()
	case <-ctx.Done():
		err = ctx.Err()
	}

	// Per-session topics would explode label cardinality.
	p.metrics.RecordPublish(sinkMQTT, kind, kind, err, time.Since(start).Seconds())
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to publish to MQTT")
		return err
	}
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}

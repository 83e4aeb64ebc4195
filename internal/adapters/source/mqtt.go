package source

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/okian/guardian/pkg/logger"
	"github.com/okian/guardian/pkg/metrics"
)

// MQTTConfig selects the broker and topic filter.
type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
}

// MQTTSubscriber feeds readings published on a topic into a Batcher.
type MQTTSubscriber struct {
	cfg     MQTTConfig
	client  mqtt.Client
	batcher *Batcher
	log     logger.Logger
}

// NewMQTTSubscriber creates a subscriber; Start connects.
func NewMQTTSubscriber(cfg MQTTConfig, batcher *Batcher) *MQTTSubscriber {
	if cfg.ClientID == "" {
		cfg.ClientID = "guardian"
	}
	s := &MQTTSubscriber{cfg: cfg, batcher: batcher, log: logger.Named("source.mqtt")}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(s.onConnect)
	s.client = mqtt.NewClient(opts)
	return s
}

// Start connects and subscribes. Subscriptions are renewed on reconnect.
func (s *MQTTSubscriber) Start(ctx context.Context) error {
	tok := s.client.Connect()
	if !tok.WaitTimeout(10*time.Second) && !s.client.IsConnectionOpen() {
		s.log.Warn(ctx, "mqtt broker not reachable yet, retrying in background", logger.String("broker", s.cfg.Broker))
		return nil
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", s.cfg.Broker, err)
	}
	return nil
}

func (s *MQTTSubscriber) onConnect(c mqtt.Client) {
	tok := c.Subscribe(s.cfg.Topic, s.cfg.QoS, s.handle)
	tok.Wait()
	if err := tok.Error(); err != nil {
		s.log.Error(context.Background(), "mqtt subscribe failed", logger.String("topic", s.cfg.Topic), logger.Error(err))
		return
	}
	s.log.Info(context.Background(), "mqtt subscribed", logger.String("topic", s.cfg.Topic))
}

func (s *MQTTSubscriber) handle(_ mqtt.Client, msg mqtt.Message) {
	ctx := context.Background()
	recs, err := DecodePayload(msg.Payload())
	if err != nil {
		metrics.RecordReadingRejected("undecodable")
		s.log.Warn(ctx, "mqtt message dropped", logger.String("topic", msg.Topic()), logger.Error(err))
		return
	}
	s.batcher.Add(ctx, recs...)
}

// Stop unsubscribes and disconnects.
func (s *MQTTSubscriber) Stop() {
	if s.client.IsConnected() {
		s.client.Unsubscribe(s.cfg.Topic).WaitTimeout(time.Second)
	}
	s.client.Disconnect(250)
}

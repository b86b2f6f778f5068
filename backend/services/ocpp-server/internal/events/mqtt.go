package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Client is the part of the paho client used by MQTTPublisher.
type Client interface {
	IsConnected() bool
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// MQTTPublisher publishes events as JSON to {prefix}/{station_id}/{type}.
type MQTTPublisher struct {
	client  Client
	prefix  string
	qos     byte
	timeout time.Duration
	logger  *zap.Logger
}

// NewMQTTPublisher connects to the broker.
func NewMQTTPublisher(cfg MQTTConfig, logger *zap.Logger) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return newMQTTPublisher(client, cfg.TopicPrefix, cfg.QoS, logger), nil
}

func newMQTTPublisher(client Client, prefix string, qos byte, logger *zap.Logger) *MQTTPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "ocpp"
	}
	return &MQTTPublisher{
		client:  client,
		prefix:  strings.TrimRight(prefix, "/"),
		qos:     qos,
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

// Topic returns the topic an event is published to.
func (p *MQTTPublisher) Topic(event Event) string {
	return fmt.Sprintf("%s/%s/%s", p.prefix, event.StationID, event.Type)
}

// Publish implements Publisher.
func (p *MQTTPublisher) Publish(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	token := p.client.Publish(p.Topic(event), p.qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.timeout):
		return errors.New("mqtt publish timed out")
	}
	if err := token.Error(); err != nil {
		p.logger.Warn("mqtt publish failed",
			zap.String("station_id", event.StationID),
			zap.String("type", event.Type),
			zap.Error(err))
		return err
	}
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

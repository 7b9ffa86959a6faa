package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// ClientSender delivers messages through an external MQTT broker.
type ClientSender struct {
	Sender
	client mqtt.Client
}

// DialClientSender connects to brokerURL and returns a sender publishing
// under prefix.
func DialClientSender(ctx context.Context, brokerURL, prefix string, ttl time.Duration, logger *slog.Logger) (*ClientSender, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID("hagw-pixie-" + uuid.NewString()).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("service edge connection lost", "broker", brokerURL, "error", err)
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.Info("connected to service edge", "broker", brokerURL)
		})

	client := mqtt.NewClient(opts)
	if err := waitToken(ctx, client.Connect()); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", brokerURL, err)
	}

	return &ClientSender{
		client: client,
		Sender: &topicSender{
			prefix: prefix,
			ttl:    ttl,
			now:    time.Now,
			publish: func(ctx context.Context, topic string, data []byte) error {
				return waitToken(ctx, client.Publish(topic, 0, false, data))
			},
		},
	}, nil
}

// Close disconnects from the broker.
func (s *ClientSender) Close() {
	s.client.Disconnect(250)
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

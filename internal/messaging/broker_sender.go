package messaging

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrNoSubscribers is returned when an embedded-broker delivery reached nobody.
var ErrNoSubscribers = errors.New("no subscribers for topic")

// TopicPublisher is satisfied by *mqttbroker.Broker.
type TopicPublisher interface {
	Publish(topic string, payload []byte) (int, error)
}

// NewBrokerSender delivers messages through the embedded broker. A delivery
// that reaches no subscriber is reported as ErrNoSubscribers.
func NewBrokerSender(broker TopicPublisher, prefix string, ttl time.Duration, logger *slog.Logger) Sender {
	return &topicSender{
		prefix: prefix,
		ttl:    ttl,
		now:    time.Now,
		publish: func(ctx context.Context, topic string, data []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, err := broker.Publish(topic, data)
			if err != nil {
				return err
			}
			logger.Debug("published to embedded broker", "topic", topic, "subscribers", n)
			if n == 0 {
				return ErrNoSubscribers
			}
			return nil
		},
	}
}

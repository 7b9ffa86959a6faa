package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"hagw/pixie-gateway/internal/model"
)

// Sender delivers a payload to a requester-designated service.
type Sender interface {
	Send(ctx context.Context, service string, payload any) error
}

// publishFunc is the transport step of a topicSender.
type publishFunc func(ctx context.Context, topic string, data []byte) error

// TopicFor maps a service name such as "jlr.com/vin/1234/pixie/report" onto
// the MQTT topic "<prefix>/jlr.com/vin/1234/pixie/report".
func TopicFor(prefix, service string) (string, error) {
	service = strings.Trim(strings.TrimSpace(service), "/")
	if service == "" {
		return "", fmt.Errorf("empty service name")
	}
	if strings.ContainsAny(service, "+#") {
		return "", fmt.Errorf("service name %q contains topic wildcards", service)
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return service, nil
	}
	return prefix + "/" + service, nil
}

// EncodeEnvelope wraps payload in the Service Edge message block. The
// timeout is the absolute unix time after which the message may be dropped.
func EncodeEnvelope(service string, payload any, now time.Time, ttl time.Duration) ([]byte, error) {
	env := model.Envelope{
		ServiceName: service,
		Timeout:     now.Add(ttl).Unix(),
		Parameters:  []any{payload},
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope for %s: %w", service, err)
	}
	return data, nil
}

type topicSender struct {
	prefix  string
	ttl     time.Duration
	now     func() time.Time
	publish publishFunc
}

func (s *topicSender) Send(ctx context.Context, service string, payload any) error {
	topic, err := TopicFor(s.prefix, service)
	if err != nil {
		return err
	}

	data, err := EncodeEnvelope(service, payload, s.now(), s.ttl)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.ttl)
	defer cancel()

	if err := s.publish(ctx, topic, data); err != nil {
		return fmt.Errorf("send to %s: %w", service, err)
	}
	return nil
}

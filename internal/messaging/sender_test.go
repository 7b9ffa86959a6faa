package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hagw/pixie-gateway/internal/model"
	"hagw/pixie-gateway/internal/mqttbroker"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePublisher struct {
	mu      sync.Mutex
	topics  []string
	payload [][]byte
	reached int
	err     error
}

func (f *fakePublisher) Publish(topic string, payload []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	f.payload = append(f.payload, payload)
	return f.reached, f.err
}

func TestTopicFor(t *testing.T) {
	topic, err := TopicFor("rvi", "/jlr.com/vin/1234/pixie/report")
	require.NoError(t, err)
	assert.Equal(t, "rvi/jlr.com/vin/1234/pixie/report", topic)

	topic, err = TopicFor("", "phone/report")
	require.NoError(t, err)
	assert.Equal(t, "phone/report", topic)

	_, err = TopicFor("rvi", "  ")
	assert.Error(t, err)

	_, err = TopicFor("rvi", "phone/#")
	assert.Error(t, err)
}

func TestEncodeEnvelope(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	data, err := EncodeEnvelope("phone/report", map[string]int{"status": 0}, now, 10*time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"service_name":"phone/report","timeout":1700000010,"parameters":[{"status":0}]}`, string(data))

	data, err = EncodeEnvelope("phone/report", nil, now, time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"service_name":"phone/report","timeout":1700000001,"parameters":[null]}`, string(data))
}

func TestBrokerSender(t *testing.T) {
	pub := &fakePublisher{reached: 1}
	sender := NewBrokerSender(pub, "rvi", 10*time.Second, discardLogger())

	report := &model.LocationReport{Username: "u", PixiePoints: map[string]model.LocatedPoint{}}
	require.NoError(t, sender.Send(context.Background(), "phone/report", report))

	require.Len(t, pub.topics, 1)
	assert.Equal(t, "rvi/phone/report", pub.topics[0])

	var env model.Envelope
	require.NoError(t, json.Unmarshal(pub.payload[0], &env))
	assert.Equal(t, "phone/report", env.ServiceName)
	require.Len(t, env.Parameters, 1)
}

func TestBrokerSenderFailures(t *testing.T) {
	sender := NewBrokerSender(&fakePublisher{reached: 0}, "rvi", time.Second, discardLogger())
	err := sender.Send(context.Background(), "phone/report", nil)
	assert.ErrorIs(t, err, ErrNoSubscribers)

	boom := errors.New("closed")
	sender = NewBrokerSender(&fakePublisher{err: boom}, "rvi", time.Second, discardLogger())
	err = sender.Send(context.Background(), "phone/report", nil)
	assert.ErrorIs(t, err, boom)

	err = sender.Send(context.Background(), "", nil)
	assert.Error(t, err)
}

func TestClientSenderThroughEmbeddedBroker(t *testing.T) {
	broker := mqttbroker.New(discardLogger())
	_, err := broker.Start(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = broker.Stop() })

	received := make(chan mqttbroker.Message, 1)
	broker.SetPublishHandler(func(_ context.Context, msg mqttbroker.Message) { received <- msg })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sender, err := DialClientSender(ctx, "tcp://"+broker.Addr().String(), "rvi", 5*time.Second, discardLogger())
	require.NoError(t, err)
	t.Cleanup(sender.Close)

	require.NoError(t, sender.Send(ctx, "/phone/report", map[string]string{"hello": "world"}))

	select {
	case msg := <-received:
		assert.Equal(t, "rvi/phone/report", msg.Topic)
		var env model.Envelope
		require.NoError(t, json.Unmarshal(msg.Payload, &env))
		assert.Equal(t, "/phone/report", env.ServiceName)
	case <-ctx.Done():
		t.Fatal("message not received by broker")
	}
}

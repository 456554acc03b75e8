package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yume-project/yume/internal/config"
	"github.com/yume-project/yume/internal/events"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

type message struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	mu        sync.Mutex
	connected bool
	sent      []message
}

func (f *fakePublisher) IsConnected() bool { return f.connected }

func (f *fakePublisher) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, message{topic: topic, payload: payload.([]byte)})
	return doneToken{}
}

func (f *fakePublisher) messages() []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message(nil), f.sent...)
}

func newTestHandler(connected bool) (*MQTTHandler, *fakePublisher, *events.Bus) {
	pub := &fakePublisher{connected: connected}
	bus := events.NewBus()
	h := &MQTTHandler{
		cfg:      config.MQTTConfig{TopicPrefix: "yume"},
		bus:      bus,
		pub:      pub,
		metadata: map[string]interface{}{"hostname": "test"},
	}
	h.subscribeEvents()
	return h, pub, bus
}

func TestEventsArePublishedToTopics(t *testing.T) {
	_, pub, bus := newTestHandler(true)

	require.NoError(t, bus.EmitSync(context.Background(), events.Event{
		Type:    events.EventScoreSubmitted,
		Source:  "scoring",
		Payload: events.ScorePayload{ScoreID: 7, Username: "alice"},
	}))
	require.NoError(t, bus.EmitSync(context.Background(), events.Event{
		Type:    events.EventUserLogin,
		Payload: events.UserPayload{UserID: 3},
	}))

	sent := pub.messages()
	require.Len(t, sent, 2)
	assert.Equal(t, "yume/scores", sent[0].topic)
	assert.Equal(t, "yume/users", sent[1].topic)

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(sent[0].payload, &msg))
	assert.Equal(t, "test", msg["hostname"])
	assert.NotEmpty(t, msg["timestamp"])
	inner := msg["payload"].(map[string]interface{})
	assert.Equal(t, "score_submitted", inner["event"])
}

func TestDisconnectedClientDropsMessages(t *testing.T) {
	h, pub, bus := newTestHandler(false)
	require.NoError(t, bus.EmitSync(context.Background(), events.Event{Type: events.EventMatchCreated}))
	h.PublishShutdown()
	assert.Empty(t, pub.messages())
}

func TestDisabledConfigIsRejected(t *testing.T) {
	_, err := NewMQTTHandler(config.MQTTConfig{}, events.NewBus())
	assert.Error(t, err)
}

func TestTopicWithoutPrefix(t *testing.T) {
	h := &MQTTHandler{}
	assert.Equal(t, TopicStats, h.topic(TopicStats))
}

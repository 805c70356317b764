package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/clambin/irrigator/internal/notifier"
	"github.com/clambin/irrigator/internal/sensor"
	"github.com/clambin/irrigator/pkg/pubsub"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMirror_Run(t *testing.T) {
	var c fakeClient
	readings := pubsub.New[sensor.Reading](slog.Default())
	m := New(&c, "irrigator/board0", 1, readings, slog.Default())
	now := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error)
	go func() { errCh <- m.Run(ctx) }()

	assert.Eventually(t, func() bool { return readings.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	readings.Publish(sensor.Reading{Average: 1105, Percentage: 50})
	assert.Eventually(t, func() bool { return len(c.get()) == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)

	msg := c.get()[0]
	assert.Equal(t, "irrigator/board0/readings", msg.topic)
	assert.JSONEq(t, `{"sensor_id":1,"average":1105,"percentage":50,"time":"2024-06-01T12:00:00Z"}`, string(msg.payload))
}

func TestMirror_Notify(t *testing.T) {
	var c fakeClient
	m := New(&c, "irrigator", 2, nil, slog.Default())

	m.Notify(notifier.Event{Action: notifier.SequenceStarted, Reason: "foo", Time: time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)})
	require.Len(t, c.get(), 1)
	msg := c.get()[0]
	assert.Equal(t, "irrigator/events", msg.topic)

	var event EventMessage
	require.NoError(t, json.Unmarshal(msg.payload, &event))
	assert.Equal(t, EventMessage{SensorID: 2, Action: "watering sequence started", Reason: "foo", Time: time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)}, event)
}

func TestMirror_send(t *testing.T) {
	c := fakeClient{err: errors.New("not connected")}
	m := New(&c, "irrigator", 1, nil, slog.Default())
	assert.Error(t, m.send("irrigator/events", EventMessage{}))

	c = fakeClient{timeout: true}
	m.Timeout = time.Millisecond
	assert.ErrorIs(t, m.send("irrigator/events", EventMessage{}), errTimeout)
}

type message struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	messages []message
	err      error
	timeout  bool
	lock     sync.Mutex
}

func (f *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.messages = append(f.messages, message{topic: topic, payload: payload.([]byte)})
	return &fakeToken{err: f.err, timeout: f.timeout}
}

func (f *fakeClient) get() []message {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]message(nil), f.messages...)
}

var _ mqtt.Token = &fakeToken{}

type fakeToken struct {
	err     error
	timeout bool
}

func (f *fakeToken) Wait() bool                       { return !f.timeout }
func (f *fakeToken) WaitTimeout(_ time.Duration) bool { return !f.timeout }
func (f *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !f.timeout {
		close(ch)
	}
	return ch
}
func (f *fakeToken) Error() error { return f.err }

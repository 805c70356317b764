// Package telemetry mirrors readings and valve events to an MQTT broker.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/clambin/irrigator/internal/notifier"
	"github.com/clambin/irrigator/internal/sensor"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher is the part of mqtt.Client the mirror uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type Subscriber[T any] interface {
	Subscribe() <-chan T
	Unsubscribe(<-chan T)
}

type ReadingMessage struct {
	SensorID   uint32    `json:"sensor_id"`
	Average    uint16    `json:"average"`
	Percentage uint8     `json:"percentage"`
	Time       time.Time `json:"time"`
}

type EventMessage struct {
	SensorID uint32    `json:"sensor_id"`
	Action   string    `json:"action"`
	Reason   string    `json:"reason"`
	Time     time.Time `json:"time"`
}

var errTimeout = errors.New("timeout")

// Mirror publishes every reading on <topic>/readings and every valve event on <topic>/events.
// Publishing is best effort: failures are logged and dropped.
type Mirror struct {
	Client   Publisher
	Topic    string
	SensorID uint32
	Readings Subscriber[sensor.Reading]
	Timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

var _ notifier.Notifier = &Mirror{}

func New(client Publisher, topic string, sensorID uint32, readings Subscriber[sensor.Reading], logger *slog.Logger) *Mirror {
	return &Mirror{
		Client:   client,
		Topic:    topic,
		SensorID: sensorID,
		Readings: readings,
		Timeout:  5 * time.Second,
		logger:   logger,
		now:      time.Now,
	}
}

func (m *Mirror) Run(ctx context.Context) error {
	m.logger.Debug("started", "topic", m.Topic)
	defer m.logger.Debug("stopped")

	ch := m.Readings.Subscribe()
	defer m.Readings.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case reading := <-ch:
			m.publish(m.Topic+"/readings", ReadingMessage{
				SensorID:   m.SensorID,
				Average:    reading.Average,
				Percentage: reading.Percentage,
				Time:       m.now(),
			})
		}
	}
}

func (m *Mirror) Notify(event notifier.Event) {
	m.publish(m.Topic+"/events", EventMessage{
		SensorID: m.SensorID,
		Action:   event.Action.String(),
		Reason:   event.Reason,
		Time:     event.Time,
	})
}

func (m *Mirror) publish(topic string, message any) {
	if err := m.send(topic, message); err != nil {
		m.logger.Warn("failed to publish telemetry", "topic", topic, "err", err)
	}
}

func (m *Mirror) send(topic string, message any) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	token := m.Client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(m.Timeout) {
		return errTimeout
	}
	return token.Error()
}

// Config holds the broker connection settings.
type Config struct {
	Broker     string `yaml:"broker"`
	Topic      string `yaml:"topic"`
	ClientID   string `yaml:"clientID"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	MaxRetries uint64 `yaml:"maxRetries"`
}

// Connect connects to the broker, retrying with exponential backoff. The connection is closed when ctx is done.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "err", err)
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = time.Minute

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			logger.Warn("failed to connect to mqtt broker", "broker", cfg.Broker, "err", token.Error())
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, cfg.MaxRetries), ctx))
	if err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	logger.Info("connected to mqtt broker", "broker", cfg.Broker)

	go func() {
		<-ctx.Done()
		client.Disconnect(250)
		logger.Debug("mqtt connection closed")
	}()
	return client, nil
}

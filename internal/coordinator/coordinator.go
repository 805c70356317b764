// Package coordinator exchanges state records with the remote coordinator over HTTP/JSON.
package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/clambin/irrigator/internal/remotestate"
	"github.com/sony/gobreaker"
)

var (
	// ErrMalformedRecord indicates the coordinator's record is missing a field or holds a value of the wrong type.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrNoSensorEntry indicates the coordinator's record has no entry for the board's sensor slot.
	ErrNoSensorEntry = errors.New("no entry for sensor slot")
)

const maxBodySize = 64 * 1024

// Client talks to the coordinator. Every request is bounded by the client's timeout.
type Client struct {
	url        string
	slot       int
	httpClient *http.Client
	timeout    time.Duration
	breaker    *gobreaker.CircuitBreaker
}

type Option func(*Client)

// WithRoundTripper sets the transport used for all requests.
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.httpClient.Transport = rt
	}
}

// WithTimeout sets the deadline of each request.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithBreaker fails requests fast after the given number of consecutive failures. The breaker lets one request
// through after openFor has passed.
func WithBreaker(failures uint32, openFor time.Duration, logger *slog.Logger) Option {
	return func(c *Client) {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "coordinator",
			Timeout: openFor,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			},
		})
	}
}

// New returns a Client for the coordinator at url. slot selects the entry of the sensor array this board reads.
func New(url string, slot int, options ...Option) *Client {
	c := Client{
		url:        url,
		slot:       slot,
		httpClient: &http.Client{Transport: http.DefaultTransport},
		timeout:    5 * time.Second,
	}
	for _, option := range options {
		option(&c)
	}
	return &c
}

type incomingRecord struct {
	SensorData      *[]sensorEntry `json:"sensor_data"`
	WateringProcess *int           `json:"watering_process"`
	SprinklerState  *int           `json:"sprinkler_state"`
}

type sensorEntry struct {
	SensorID   *uint32  `json:"sensor_id"`
	Humidity   *float32 `json:"humidity"`
	IsSensorOn *int     `json:"is_sensor_on"`
}

// Fetch retrieves the coordinator's current state record. The record is only returned if every field is present
// and valid.
func (c *Client) Fetch(ctx context.Context) (remotestate.Record, error) {
	req, err := http.NewRequest(http.MethodGet, c.url, nil)
	if err != nil {
		return remotestate.Record{}, fmt.Errorf("request: %w", err)
	}
	body, err := c.do(ctx, req)
	if err != nil {
		return remotestate.Record{}, err
	}
	return parseRecord(body, c.slot)
}

func parseRecord(body []byte, slot int) (remotestate.Record, error) {
	var in incomingRecord
	if err := json.Unmarshal(body, &in); err != nil {
		return remotestate.Record{}, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}
	if in.SensorData == nil {
		return remotestate.Record{}, fmt.Errorf("%w: missing sensor_data", ErrMalformedRecord)
	}
	if slot < 0 || slot >= len(*in.SensorData) {
		return remotestate.Record{}, fmt.Errorf("%w: slot %d", ErrNoSensorEntry, slot)
	}
	entry := (*in.SensorData)[slot]
	if entry.SensorID == nil || entry.Humidity == nil {
		return remotestate.Record{}, fmt.Errorf("%w: incomplete sensor entry", ErrMalformedRecord)
	}

	var record remotestate.Record
	record.SensorID = *entry.SensorID
	record.Humidity = *entry.Humidity
	var err error
	if record.SensorEnabled, err = flag("is_sensor_on", entry.IsSensorOn); err == nil {
		if record.AutoWatering, err = flag("watering_process", in.WateringProcess); err == nil {
			record.ManualOverride, err = flag("sprinkler_state", in.SprinklerState)
		}
	}
	return record, err
}

func flag(name string, value *int) (bool, error) {
	if value == nil {
		return false, fmt.Errorf("%w: missing %s", ErrMalformedRecord, name)
	}
	switch *value {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: invalid %s: %d", ErrMalformedRecord, name, *value)
	}
}

// Report sends one reading to the coordinator.
func (c *Client) Report(ctx context.Context, record remotestate.OutgoingRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = c.do(ctx, req)
	return err
}

func (c *Client) do(ctx context.Context, req *http.Request) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req = req.WithContext(ctx)

	if c.breaker == nil {
		return c.roundTrip(req)
	}
	body, err := c.breaker.Execute(func() (any, error) {
		return c.roundTrip(req)
	})
	if err != nil {
		return nil, err
	}
	return body.([]byte), nil
}

func (c *Client) roundTrip(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s: %s", req.Method, req.URL.Redacted(), resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return body, nil
}

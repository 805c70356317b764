package collector

import (
	"context"
	"log/slog"
	"sync"

	"github.com/clambin/irrigator/internal/remotestate"
	"github.com/clambin/irrigator/internal/sensor"
	"github.com/clambin/irrigator/internal/sequencer"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	moisturePercentage = prometheus.NewDesc(
		prometheus.BuildFQName("irrigator", "moisture", "percentage"),
		"Soil moisture in percentage (0-100)",
		nil,
		nil,
	)
	moistureRawAverage = prometheus.NewDesc(
		prometheus.BuildFQName("irrigator", "moisture", "raw_average"),
		"Average raw value of the moisture sensor, in device units",
		nil,
		nil,
	)
	valveOpen = prometheus.NewDesc(
		prometheus.BuildFQName("irrigator", "valve", "open"),
		"1 if the valve is commanded open",
		nil,
		nil,
	)
	sequencerPhase = prometheus.NewDesc(
		prometheus.BuildFQName("irrigator", "sequencer", "phase"),
		"Current phase of the sequencer. Always 1. Label phase specifies the phase",
		[]string{"phase"},
		nil,
	)
	remoteAutoWatering = prometheus.NewDesc(
		prometheus.BuildFQName("irrigator", "remote", "auto_watering"),
		"1 if the coordinator requests automatic watering",
		nil,
		nil,
	)
	remoteManualOverride = prometheus.NewDesc(
		prometheus.BuildFQName("irrigator", "remote", "manual_override"),
		"1 if the coordinator requests manual watering",
		nil,
		nil,
	)
	coordinatorConnected = prometheus.NewDesc(
		prometheus.BuildFQName("irrigator", "coordinator", "connected"),
		"1 if the last exchange with the coordinator succeeded",
		nil,
		nil,
	)
)

type Subscriber[T any] interface {
	Subscribe() <-chan T
	Unsubscribe(<-chan T)
}

type PhaseReader interface {
	Phase() sequencer.Phase
}

type LinkReader interface {
	Connected() bool
}

// Collector exports the controller's state as Prometheus metrics. Sequencer and Link are optional.
type Collector struct {
	Readings    Subscriber[sensor.Reading]
	State       Subscriber[remotestate.Snapshot]
	Sequencer   PhaseReader
	Link        LinkReader
	Logger      *slog.Logger
	lock        sync.RWMutex
	lastReading *sensor.Reading
	lastState   *remotestate.Snapshot
}

func (c *Collector) Run(ctx context.Context) error {
	c.Logger.Debug("started")
	defer c.Logger.Debug("stopped")

	readings := c.Readings.Subscribe()
	defer c.Readings.Unsubscribe(readings)
	states := c.State.Subscribe()
	defer c.State.Unsubscribe(states)

	for {
		select {
		case <-ctx.Done():
			return nil
		case reading := <-readings:
			c.lock.Lock()
			c.lastReading = &reading
			c.lock.Unlock()
		case state := <-states:
			c.lock.Lock()
			c.lastState = &state
			c.lock.Unlock()
		}
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- moisturePercentage
	ch <- moistureRawAverage
	ch <- valveOpen
	ch <- sequencerPhase
	ch <- remoteAutoWatering
	ch <- remoteManualOverride
	ch <- coordinatorConnected
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	if c.lastReading != nil {
		ch <- prometheus.MustNewConstMetric(moisturePercentage, prometheus.GaugeValue, float64(c.lastReading.Percentage))
		ch <- prometheus.MustNewConstMetric(moistureRawAverage, prometheus.GaugeValue, float64(c.lastReading.Average))
	}
	if c.lastState != nil {
		ch <- prometheus.MustNewConstMetric(remoteAutoWatering, prometheus.GaugeValue, boolValue(c.lastState.AutoWatering))
		ch <- prometheus.MustNewConstMetric(remoteManualOverride, prometheus.GaugeValue, boolValue(c.lastState.ManualOverride))
	}
	if c.Sequencer != nil {
		phase := c.Sequencer.Phase()
		ch <- prometheus.MustNewConstMetric(valveOpen, prometheus.GaugeValue, boolValue(phase.Active()))
		ch <- prometheus.MustNewConstMetric(sequencerPhase, prometheus.GaugeValue, 1, phase.String())
	}
	if c.Link != nil {
		ch <- prometheus.MustNewConstMetric(coordinatorConnected, prometheus.GaugeValue, boolValue(c.Link.Connected()))
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Package reporter periodically measures soil moisture, reports it to the coordinator and updates the hydration lights.
package reporter

import (
	"context"
	"log/slog"
	"time"

	"github.com/clambin/irrigator/internal/indicator"
	"github.com/clambin/irrigator/internal/remotestate"
	"github.com/clambin/irrigator/internal/sensor"
	"github.com/clambin/irrigator/pkg/pubsub"
)

type Conditioner interface {
	Read(ctx context.Context) (sensor.Reading, error)
}

type Coordinator interface {
	Report(ctx context.Context, record remotestate.OutgoingRecord) error
}

type State interface {
	Read() remotestate.Snapshot
	Outgoing(percentage uint8) remotestate.OutgoingRecord
}

type Panel interface {
	SetHydration(percentage uint8) indicator.Level
}

type LinkReporter interface {
	Report(connected bool)
}

// Intervals sets the delay between two cycles, depending on the remote state.
type Intervals struct {
	Normal   time.Duration `yaml:"normal"`
	Watering time.Duration `yaml:"watering"`
	Manual   time.Duration `yaml:"manual"`
}

var DefaultIntervals = Intervals{
	Normal:   30 * time.Minute,
	Watering: 18 * time.Minute,
	Manual:   time.Minute,
}

// Next returns the delay before the next cycle. Manual override takes precedence over automatic watering.
func (i Intervals) Next(snapshot remotestate.Snapshot) time.Duration {
	switch {
	case snapshot.ManualOverride:
		return i.Manual
	case snapshot.AutoWatering:
		return i.Watering
	default:
		return i.Normal
	}
}

// Reporter runs the reporting loop. Each successful reading is published to subscribers.
type Reporter struct {
	*pubsub.Publisher[sensor.Reading]
	Conditioner Conditioner
	Coordinator Coordinator
	State       State
	Panel       Panel
	Link        LinkReporter
	Intervals   Intervals
	logger      *slog.Logger
}

func New(conditioner Conditioner, coordinator Coordinator, state State, panel Panel, link LinkReporter, intervals Intervals, logger *slog.Logger) *Reporter {
	return &Reporter{
		Publisher:   pubsub.New[sensor.Reading](logger),
		Conditioner: conditioner,
		Coordinator: coordinator,
		State:       state,
		Panel:       panel,
		Link:        link,
		Intervals:   intervals,
		logger:      logger,
	}
}

func (r *Reporter) Run(ctx context.Context) error {
	r.logger.Debug("started", "intervals", r.Intervals)
	defer r.logger.Debug("stopped")

	for {
		r.cycle(ctx)
		delay := r.Intervals.Next(r.State.Read())
		r.logger.Debug("next reading scheduled", slog.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (r *Reporter) cycle(ctx context.Context) {
	reading, err := r.Conditioner.Read(ctx)
	if err != nil {
		r.logger.Error("failed to read moisture sensor", slog.Any("err", err))
		return
	}

	err = r.Coordinator.Report(ctx, r.State.Outgoing(reading.Percentage))
	if r.Link != nil {
		r.Link.Report(err == nil)
	}
	if err != nil {
		r.logger.Warn("failed to report reading", slog.Any("err", err))
	}

	level := r.Panel.SetHydration(reading.Percentage)
	r.logger.Debug("reading completed", slog.Any("reading", reading), slog.String("level", level.String()))
	r.Publish(reading)
}

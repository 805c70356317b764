// Package sensor turns raw moisture samples into a calibrated hydration percentage.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/clambin/irrigator/internal/hardware"
)

const (
	DefaultSamples   = 20
	DefaultHighBound = 1530
	DefaultLowBound  = 680
)

// Calibration holds the bounds of the sensor's useful range, in device units.
// A dry sensor reads high: HighBound is dry saturation (0%) and LowBound is wet saturation (100%).
type Calibration struct {
	HighBound uint16 `yaml:"highBound"`
	LowBound  uint16 `yaml:"lowBound"`
}

var DefaultCalibration = Calibration{HighBound: DefaultHighBound, LowBound: DefaultLowBound}

func (c Calibration) Validate() error {
	if c.HighBound <= c.LowBound {
		return fmt.Errorf("invalid calibration: high bound (%d) must exceed low bound (%d)", c.HighBound, c.LowBound)
	}
	return nil
}

// Percentage maps an averaged sample onto 0-100%. Values outside the calibrated band are clamped.
func (c Calibration) Percentage(average uint16) uint8 {
	switch {
	case average > c.HighBound:
		return 0
	case average < c.LowBound:
		return 100
	}
	high, low := int32(c.HighBound), int32(c.LowBound)
	return uint8((int32(average) - high) * 100 / (low - high))
}

// Reading is one conditioned sensor reading.
type Reading struct {
	Average    uint16 `json:"average"`
	Percentage uint8  `json:"percentage"`
}

func (r Reading) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("average", int(r.Average)),
		slog.Int("percentage", int(r.Percentage)),
	)
}

// Conditioner averages a fixed number of raw samples and calibrates the result.
type Conditioner struct {
	Sampler     hardware.Sampler
	Samples     int
	Calibration Calibration
}

var ErrNoSamples = errors.New("sample count must be positive")

// Read acquires the samples sequentially and returns the conditioned reading.
// A sampling failure aborts the reading: there are no retries.
func (c Conditioner) Read(ctx context.Context) (Reading, error) {
	if c.Samples <= 0 {
		return Reading{}, ErrNoSamples
	}
	var total uint32
	for i := range c.Samples {
		sample, err := c.Sampler.Sample(ctx)
		if err != nil {
			return Reading{}, fmt.Errorf("sample %d: %w", i, err)
		}
		total += uint32(sample)
	}
	average := uint16(total / uint32(c.Samples))
	return Reading{
		Average:    average,
		Percentage: c.Calibration.Percentage(average),
	}, nil
}

// Package configuration holds the controller's typed configuration.
package configuration

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/clambin/irrigator/internal/reporter"
	"github.com/clambin/irrigator/internal/sensor"
	"github.com/clambin/irrigator/internal/sequencer"
	"github.com/clambin/irrigator/internal/telemetry"
	"github.com/spf13/viper"
)

type Configuration struct {
	Debug       bool                     `yaml:"debug"`
	Coordinator CoordinatorConfiguration `yaml:"coordinator"`
	Board       BoardConfiguration       `yaml:"board"`
	Sensor      SensorConfiguration      `yaml:"sensor"`
	Reporter    reporter.Intervals       `yaml:"reporter"`
	Poller      PollerConfiguration      `yaml:"poller"`
	Sequencer   SequencerConfiguration   `yaml:"sequencer"`
	Pins        PinsConfiguration        `yaml:"pins"`
	Servo       ServoConfiguration       `yaml:"servo"`
	Health      HealthConfiguration      `yaml:"health"`
	Slack       SlackConfiguration       `yaml:"slack"`
	MQTT        telemetry.Config         `yaml:"mqtt"`
}

type CoordinatorConfiguration struct {
	URL     string               `yaml:"url"`
	Timeout time.Duration        `yaml:"timeout"`
	Breaker BreakerConfiguration `yaml:"breaker"`
}

type BreakerConfiguration struct {
	Enabled  bool          `yaml:"enabled"`
	Failures uint32        `yaml:"failures"`
	OpenFor  time.Duration `yaml:"openFor"`
}

// BoardConfiguration selects the board variant. The first board reads slot 0, reports as sensor 1 and drives the valve.
// The second reads slot 1, reports as sensor 2 and has no valve.
type BoardConfiguration struct {
	Driver     string `yaml:"driver"`
	SensorSlot int    `yaml:"sensorSlot"`
	SensorID   uint32 `yaml:"sensorID"`
	Valve      bool   `yaml:"valve"`
}

const (
	DriverSimulated = "sim"
	DriverPeriph    = "periph"
)

// SensorConfiguration holds the calibration of the moisture sensor, in raw ADC units. The defaults match the
// reference sensor board. The periph driver reads an ADS1115, whose range is much wider: calibrate the bounds
// for that converter.
type SensorConfiguration struct {
	Samples            int `yaml:"samples"`
	sensor.Calibration `yaml:",inline"`
}

type PollerConfiguration struct {
	Interval time.Duration `yaml:"interval"`
}

type SequencerConfiguration struct {
	Tick                time.Duration `yaml:"tick"`
	sequencer.Durations `yaml:",inline"`
}

// PinsConfiguration names the bus and pins of the board, as known to periph.io.
type PinsConfiguration struct {
	I2CBus     string `yaml:"i2cBus"`
	ADCAddress uint16 `yaml:"adcAddress"`
	ADCChannel int    `yaml:"adcChannel"`
	Servo      string `yaml:"servo"`
	Low        string `yaml:"low"`
	Moderate   string `yaml:"moderate"`
	Good       string `yaml:"good"`
	Valve      string `yaml:"valve"`
	Link       string `yaml:"link"`
}

type ServoConfiguration struct {
	OpenPulse   time.Duration `yaml:"openPulse"`
	ClosedPulse time.Duration `yaml:"closedPulse"`
	Settle      time.Duration `yaml:"settle"`
}

type HealthConfiguration struct {
	Addr string `yaml:"addr"`
}

type SlackConfiguration struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// Default returns the configuration of the first board variant, running on the simulated board.
func Default() Configuration {
	return Configuration{
		Coordinator: CoordinatorConfiguration{
			URL:     "http://localhost:8000/api/irrigation",
			Timeout: 10 * time.Second,
			Breaker: BreakerConfiguration{Failures: 5, OpenFor: time.Minute},
		},
		Board: BoardConfiguration{
			Driver:   DriverSimulated,
			SensorID: 1,
			Valve:    true,
		},
		Sensor: SensorConfiguration{
			Samples:     sensor.DefaultSamples,
			Calibration: sensor.DefaultCalibration,
		},
		Reporter: reporter.DefaultIntervals,
		Poller:   PollerConfiguration{Interval: time.Second},
		Sequencer: SequencerConfiguration{
			Tick:      sequencer.DefaultTick,
			Durations: sequencer.DefaultDurations,
		},
		Pins: PinsConfiguration{
			ADCAddress: 0x48,
			Servo:      "GPIO18",
			Low:        "GPIO5",
			Moderate:   "GPIO6",
			Good:       "GPIO13",
			Valve:      "GPIO19",
			Link:       "GPIO26",
		},
		Servo: ServoConfiguration{
			OpenPulse:   2100 * time.Microsecond,
			ClosedPulse: 1500 * time.Microsecond,
			Settle:      time.Second,
		},
		Health: HealthConfiguration{Addr: ":8080"},
		MQTT: telemetry.Config{
			Topic:      "irrigator",
			ClientID:   "irrigator",
			MaxRetries: 5,
		},
	}
}

// FromViper reads the configuration from v and validates it.
func FromViper(v *viper.Viper) (Configuration, error) {
	var errs []error
	getUint16 := func(key string) uint16 {
		value := v.GetUint(key)
		if value > math.MaxUint16 {
			errs = append(errs, fmt.Errorf("%s: %d out of range", key, value))
		}
		return uint16(value)
	}

	cfg := Configuration{
		Debug: v.GetBool("debug"),
		Coordinator: CoordinatorConfiguration{
			URL:     v.GetString("coordinator.url"),
			Timeout: v.GetDuration("coordinator.timeout"),
			Breaker: BreakerConfiguration{
				Enabled:  v.GetBool("coordinator.breaker.enabled"),
				Failures: v.GetUint32("coordinator.breaker.failures"),
				OpenFor:  v.GetDuration("coordinator.breaker.openFor"),
			},
		},
		Board: BoardConfiguration{
			Driver:     v.GetString("board.driver"),
			SensorSlot: v.GetInt("board.sensorSlot"),
			SensorID:   v.GetUint32("board.sensorID"),
			Valve:      v.GetBool("board.valve"),
		},
		Sensor: SensorConfiguration{
			Samples: v.GetInt("sensor.samples"),
			Calibration: sensor.Calibration{
				HighBound: getUint16("sensor.highBound"),
				LowBound:  getUint16("sensor.lowBound"),
			},
		},
		Reporter: reporter.Intervals{
			Normal:   v.GetDuration("reporter.normal"),
			Watering: v.GetDuration("reporter.watering"),
			Manual:   v.GetDuration("reporter.manual"),
		},
		Poller: PollerConfiguration{Interval: v.GetDuration("poller.interval")},
		Sequencer: SequencerConfiguration{
			Tick: v.GetDuration("sequencer.tick"),
			Durations: sequencer.Durations{
				Water1: v.GetDuration("sequencer.water1"),
				Pause1: v.GetDuration("sequencer.pause1"),
				Water2: v.GetDuration("sequencer.water2"),
				Pause2: v.GetDuration("sequencer.pause2"),
			},
		},
		Pins: PinsConfiguration{
			I2CBus:     v.GetString("pins.i2cBus"),
			ADCAddress: getUint16("pins.adcAddress"),
			ADCChannel: v.GetInt("pins.adcChannel"),
			Servo:      v.GetString("pins.servo"),
			Low:        v.GetString("pins.low"),
			Moderate:   v.GetString("pins.moderate"),
			Good:       v.GetString("pins.good"),
			Valve:      v.GetString("pins.valve"),
			Link:       v.GetString("pins.link"),
		},
		Servo: ServoConfiguration{
			OpenPulse:   v.GetDuration("servo.openPulse"),
			ClosedPulse: v.GetDuration("servo.closedPulse"),
			Settle:      v.GetDuration("servo.settle"),
		},
		Health: HealthConfiguration{Addr: v.GetString("health.addr")},
		Slack: SlackConfiguration{
			Token:   v.GetString("slack.token"),
			Channel: v.GetString("slack.channel"),
		},
		MQTT: telemetry.Config{
			Broker:     v.GetString("mqtt.broker"),
			Topic:      v.GetString("mqtt.topic"),
			ClientID:   v.GetString("mqtt.clientID"),
			Username:   v.GetString("mqtt.username"),
			Password:   v.GetString("mqtt.password"),
			MaxRetries: v.GetUint64("mqtt.maxRetries"),
		},
	}
	return cfg, errors.Join(append(errs, cfg.Validate())...)
}

// Validate checks the configuration for values the controller can't run with.
func (c Configuration) Validate() error {
	var errs []error
	if c.Coordinator.URL == "" {
		errs = append(errs, errors.New("coordinator.url: missing"))
	}
	if c.Coordinator.Breaker.Enabled && c.Coordinator.Breaker.Failures == 0 {
		errs = append(errs, errors.New("coordinator.breaker.failures: must be positive"))
	}
	if c.Board.Driver != DriverSimulated && c.Board.Driver != DriverPeriph {
		errs = append(errs, fmt.Errorf("board.driver: invalid driver %q", c.Board.Driver))
	}
	if c.Board.SensorSlot < 0 {
		errs = append(errs, fmt.Errorf("board.sensorSlot: invalid slot %d", c.Board.SensorSlot))
	}
	if c.Sensor.Samples <= 0 {
		errs = append(errs, errors.New("sensor.samples: must be positive"))
	}
	if err := c.Sensor.Calibration.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("sensor: %w", err))
	}
	for _, d := range []struct {
		key   string
		value time.Duration
	}{
		{"coordinator.timeout", c.Coordinator.Timeout},
		{"reporter.normal", c.Reporter.Normal},
		{"reporter.watering", c.Reporter.Watering},
		{"reporter.manual", c.Reporter.Manual},
		{"poller.interval", c.Poller.Interval},
		{"sequencer.tick", c.Sequencer.Tick},
		{"sequencer.water1", c.Sequencer.Water1},
		{"sequencer.pause1", c.Sequencer.Pause1},
		{"sequencer.water2", c.Sequencer.Water2},
		{"sequencer.pause2", c.Sequencer.Pause2},
	} {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s: must be positive", d.key))
		}
	}
	return errors.Join(errs...)
}

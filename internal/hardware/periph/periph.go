// Package periph drives a Linux controller board through periph.io: an ADS1115 converter for the moisture sensor,
// a PWM-driven servo for the valve and GPIO pins for the indicator lights.
package periph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clambin/irrigator/internal/hardware"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/host/v3"
)

// Config names the pins and bus of the board.
type Config struct {
	I2CBus      string
	ADCAddress  uint16
	ADCChannel  int
	ServoPin    string
	OpenPulse   time.Duration
	ClosedPulse time.Duration
	Settle      time.Duration
	LightPins   map[hardware.Light]string
}

// Open initializes the board. A driver that fails to initialize is logged and replaced by hardware.Unavailable,
// so the controller keeps running in a degraded state. Open only fails if the host itself cannot be initialized.
func Open(cfg Config, logger *slog.Logger) (*hardware.Board, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host: %w", err)
	}

	board := hardware.Board{}

	sampler, closer, err := openADC(cfg)
	if err != nil {
		logger.Error("failed to configure moisture sensor", "err", err)
		board.Sampler = hardware.Unavailable{}
	} else {
		board.Sampler = sampler
		board.OnClose(closer)
	}

	if actuator, err := openServo(cfg); err != nil {
		logger.Error("failed to configure servo", "err", err)
		board.Actuator = hardware.Unavailable{}
	} else {
		board.Actuator = actuator
	}

	lights, err := openLights(cfg.LightPins)
	if err != nil {
		logger.Error("failed to configure lights", "err", err)
	}
	board.Lights = lights

	logger.Info("board initialized", "board", &board)
	return &board, nil
}

var _ hardware.Sampler = &adc{}

type adc struct {
	pin ads1x15.PinADC
}

func openADC(cfg Config) (*adc, func() error, error) {
	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, nil, fmt.Errorf("i2c: %w", err)
	}
	opts := ads1x15.DefaultOpts
	if cfg.ADCAddress != 0 {
		opts.I2cAddress = cfg.ADCAddress
	}
	dev, err := ads1x15.NewADS1115(bus, &opts)
	if err != nil {
		_ = bus.Close()
		return nil, nil, fmt.Errorf("ads1115: %w", err)
	}
	pin, err := dev.PinForChannel(ads1x15.Channel0+ads1x15.Channel(cfg.ADCChannel), 4096*physic.MilliVolt, 128*physic.Hertz, ads1x15.BestQuality)
	if err != nil {
		_ = bus.Close()
		return nil, nil, fmt.Errorf("ads1115 channel %d: %w", cfg.ADCChannel, err)
	}
	return &adc{pin: pin}, func() error {
		return errors.Join(pin.Halt(), bus.Close())
	}, nil
}

func (a *adc) Sample(ctx context.Context) (hardware.RawSample, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	sample, err := a.pin.Read()
	if err != nil {
		return 0, err
	}
	return toRawSample(sample), nil
}

func toRawSample(sample analog.Sample) hardware.RawSample {
	return hardware.RawSample(min(max(sample.Raw, 0), 0xFFFF))
}

var _ hardware.Actuator = &servo{}

// servo drives a hobby servo with 50 Hz PWM. Each move holds the pulse for the settle time, then stops the output.
type servo struct {
	pin    gpio.PinIO
	pulses map[hardware.Position]time.Duration
	settle time.Duration
}

const servoPeriod = 20 * time.Millisecond

func openServo(cfg Config) (*servo, error) {
	pin := gpioreg.ByName(cfg.ServoPin)
	if pin == nil {
		return nil, fmt.Errorf("unknown pin %q", cfg.ServoPin)
	}
	return &servo{
		pin: pin,
		pulses: map[hardware.Position]time.Duration{
			hardware.Open:   cfg.OpenPulse,
			hardware.Closed: cfg.ClosedPulse,
		},
		settle: cfg.Settle,
	}, nil
}

func (s *servo) SetPosition(ctx context.Context, position hardware.Position) error {
	if err := s.pin.PWM(pulseDuty(s.pulses[position]), 50*physic.Hertz); err != nil {
		return fmt.Errorf("pwm: %w", err)
	}
	select {
	case <-ctx.Done():
	case <-time.After(s.settle):
	}
	return s.pin.Halt()
}

func pulseDuty(pulse time.Duration) gpio.Duty {
	return gpio.Duty(int64(gpio.DutyMax) * int64(pulse) / int64(servoPeriod))
}

var _ hardware.Lights = &lights{}

type lights struct {
	pins map[hardware.Light]gpio.PinOut
}

func openLights(names map[hardware.Light]string) (*lights, error) {
	l := lights{pins: make(map[hardware.Light]gpio.PinOut, len(names))}
	var errs []error
	for light, name := range names {
		pin := gpioreg.ByName(name)
		if pin == nil {
			errs = append(errs, fmt.Errorf("%s: unknown pin %q", light, name))
			continue
		}
		if err := pin.Out(gpio.Low); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", light, err))
			continue
		}
		l.pins[light] = pin
	}
	return &l, errors.Join(errs...)
}

func (l *lights) Set(light hardware.Light, on bool) error {
	pin, ok := l.pins[light]
	if !ok {
		return fmt.Errorf("%s: %w", light, hardware.ErrUnavailable)
	}
	level := gpio.Low
	if on {
		level = gpio.High
	}
	return pin.Out(level)
}

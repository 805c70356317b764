// Package indicator reflects the controller's status on the board's lights.
package indicator

import (
	"log/slog"

	"github.com/clambin/irrigator/internal/hardware"
)

// Level is a coarse hydration level.
type Level int

const (
	Low Level = iota
	Moderate
	Good
)

func (l Level) String() string {
	switch l {
	case Low:
		return "low"
	case Moderate:
		return "moderate"
	default:
		return "good"
	}
}

// Light returns the light showing the level.
func (l Level) Light() hardware.Light {
	switch l {
	case Low:
		return hardware.LowHydration
	case Moderate:
		return hardware.ModerateHydration
	default:
		return hardware.GoodHydration
	}
}

// Hydration maps a percentage onto a Level. 25 counts as Low and 75 as Moderate.
func Hydration(percentage uint8) Level {
	if percentage <= 25 {
		return Low
	}
	if percentage <= 75 {
		return Moderate
	}
	return Good
}

var hydrationLights = []hardware.Light{hardware.LowHydration, hardware.ModerateHydration, hardware.GoodHydration}

// Panel drives the indicator lights. Light failures are logged and never fail the caller.
type Panel struct {
	Lights hardware.Lights
	Logger *slog.Logger
}

// SetHydration turns off all hydration lights, then turns on the one for the percentage.
func (p Panel) SetHydration(percentage uint8) Level {
	level := Hydration(percentage)
	for _, light := range hydrationLights {
		p.set(light, false)
	}
	p.set(level.Light(), true)
	return level
}

// SetValve shows whether a watering operation is active.
func (p Panel) SetValve(on bool) {
	p.set(hardware.Valve, on)
}

// SetLink shows whether the coordinator is reachable.
func (p Panel) SetLink(on bool) {
	p.set(hardware.Link, on)
}

func (p Panel) set(light hardware.Light, on bool) {
	if err := p.Lights.Set(light, on); err != nil {
		p.Logger.Warn("failed to set light", "light", light, "on", on, "err", err)
	}
}

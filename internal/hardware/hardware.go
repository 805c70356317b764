// Package hardware declares the driver capabilities the controller consumes: a raw moisture sampler,
// a valve actuator and a set of indicator lights.
package hardware

import (
	"context"
	"errors"
	"log/slog"
)

// ErrUnavailable is returned by a capability whose driver failed to initialize.
var ErrUnavailable = errors.New("hardware not available")

// RawSample is a single reading of the analog moisture sensor, in device units.
type RawSample uint16

// Sampler acquires one raw sample. Each call may block for the converter's settling time.
type Sampler interface {
	Sample(ctx context.Context) (RawSample, error)
}

// Position is the commanded valve position.
type Position int

const (
	Closed Position = iota
	Open
)

func (p Position) String() string {
	if p == Open {
		return "open"
	}
	return "closed"
}

// Actuator moves the valve.
type Actuator interface {
	SetPosition(ctx context.Context, position Position) error
}

// Light identifies one indicator light on the board.
type Light int

const (
	LowHydration Light = iota
	ModerateHydration
	GoodHydration
	Valve
	Link
)

var lightNames = map[Light]string{
	LowHydration:      "low",
	ModerateHydration: "moderate",
	GoodHydration:     "good",
	Valve:             "valve",
	Link:              "link",
}

func (l Light) String() string {
	if name, ok := lightNames[l]; ok {
		return name
	}
	return "unknown"
}

// Lights switches indicator lights on or off.
type Lights interface {
	Set(light Light, on bool) error
}

// Board groups the capabilities of one controller board.
type Board struct {
	Sampler  Sampler
	Actuator Actuator
	Lights   Lights
	closers  []func() error
}

// OnClose registers a function that releases a driver's resources when the board is closed.
func (b *Board) OnClose(f func() error) {
	b.closers = append(b.closers, f)
}

// Close releases any resources held by the board's drivers.
func (b *Board) Close() error {
	var errs []error
	for _, c := range b.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// Unavailable stands in for a capability whose driver could not be initialized.
// Every operation fails with ErrUnavailable, so the rest of the controller keeps running.
type Unavailable struct{}

var (
	_ Sampler  = Unavailable{}
	_ Actuator = Unavailable{}
	_ Lights   = Unavailable{}
)

func (Unavailable) Sample(context.Context) (RawSample, error)   { return 0, ErrUnavailable }
func (Unavailable) SetPosition(context.Context, Position) error { return ErrUnavailable }
func (Unavailable) Set(Light, bool) error                       { return ErrUnavailable }

// LogValue groups the board's drivers for logging.
func (b *Board) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("sampler", isAvailable(b.Sampler)),
		slog.Bool("actuator", isAvailable(b.Actuator)),
		slog.Bool("lights", isAvailable(b.Lights)),
	)
}

func isAvailable(capability any) bool {
	_, unavailable := capability.(Unavailable)
	return capability != nil && !unavailable
}

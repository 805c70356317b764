package hardware

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// Simulated is an in-memory board: a soil model that dries out over time and gets wetter while the valve is open.
// It lets the controller run on a development machine.
type Simulated struct {
	logger   *slog.Logger
	lights   map[Light]bool
	position Position
	raw      float64
	last     time.Time
	now      func() time.Time
	lock     sync.Mutex
}

const (
	simulatedStart      = 1200.0
	simulatedDry        = 1700.0
	simulatedWet        = 600.0
	simulatedDryPerSec  = 0.05
	simulatedWetPerSec  = 2.0
	simulatedNoiseRange = 8
)

var (
	_ Sampler  = &Simulated{}
	_ Actuator = &Simulated{}
	_ Lights   = &Simulated{}
)

// NewSimulated returns a simulated board.
func NewSimulated(logger *slog.Logger) *Board {
	s := newSimulated(logger, time.Now)
	return &Board{Sampler: s, Actuator: s, Lights: s}
}

func newSimulated(logger *slog.Logger, now func() time.Time) *Simulated {
	return &Simulated{
		logger: logger,
		lights: make(map[Light]bool),
		raw:    simulatedStart,
		last:   now(),
		now:    now,
	}
}

func (s *Simulated) Sample(ctx context.Context) (RawSample, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	s.advance()
	noise := float64(rand.IntN(2*simulatedNoiseRange+1) - simulatedNoiseRange)
	return RawSample(max(0, s.raw+noise)), nil
}

func (s *Simulated) SetPosition(_ context.Context, position Position) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.advance()
	s.position = position
	s.logger.Debug("valve moved", "position", position)
	return nil
}

func (s *Simulated) Set(light Light, on bool) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.lights[light] != on {
		s.logger.Debug("light switched", "light", light, "on", on)
	}
	s.lights[light] = on
	return nil
}

// Light reports whether a light is on.
func (s *Simulated) Light(light Light) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.lights[light]
}

// advance moves the soil model forward. Caller must hold the lock.
func (s *Simulated) advance() {
	now := s.now()
	elapsed := now.Sub(s.last).Seconds()
	s.last = now
	if s.position == Open {
		s.raw = max(simulatedWet, s.raw-simulatedWetPerSec*elapsed)
	} else {
		s.raw = min(simulatedDry, s.raw+simulatedDryPerSec*elapsed)
	}
}

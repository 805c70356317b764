// Package sequencer runs the valve through manual and automatic watering operations.
//
// An automatic operation is a fixed sequence of two watering and two pause phases. Once started, it runs to
// completion: remote flags are only evaluated while idle.
package sequencer

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/clambin/irrigator/internal/hardware"
	"github.com/clambin/irrigator/internal/notifier"
	"github.com/clambin/irrigator/internal/remotestate"
)

// Phase is the state of the sequencer.
type Phase int32

const (
	Idle Phase = iota
	ManualOpen
	AutoWater1
	AutoPause1
	AutoWater2
	AutoPause2
)

var Phases = []Phase{Idle, ManualOpen, AutoWater1, AutoPause1, AutoWater2, AutoPause2}

var phaseNames = map[Phase]string{
	Idle:       "idle",
	ManualOpen: "manual",
	AutoWater1: "water1",
	AutoPause1: "pause1",
	AutoWater2: "water2",
	AutoPause2: "pause2",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "unknown"
}

// Active reports whether the valve is commanded open during the phase.
func (p Phase) Active() bool {
	return p == ManualOpen || p == AutoWater1 || p == AutoWater2
}

// Durations holds the length of each automatic phase.
type Durations struct {
	Water1 time.Duration `yaml:"water1"`
	Pause1 time.Duration `yaml:"pause1"`
	Water2 time.Duration `yaml:"water2"`
	Pause2 time.Duration `yaml:"pause2"`
}

var DefaultDurations = Durations{
	Water1: 2 * time.Minute,
	Pause1: 10 * time.Minute,
	Water2: time.Minute,
	Pause2: 5 * time.Minute,
}

func (d Durations) of(phase Phase) time.Duration {
	switch phase {
	case AutoWater1:
		return d.Water1
	case AutoPause1:
		return d.Pause1
	case AutoWater2:
		return d.Water2
	case AutoPause2:
		return d.Pause2
	default:
		return 0
	}
}

// Total returns the length of a complete automatic sequence.
func (d Durations) Total() time.Duration {
	return d.Water1 + d.Pause1 + d.Water2 + d.Pause2
}

var nextPhase = map[Phase]Phase{
	AutoWater1: AutoPause1,
	AutoPause1: AutoWater2,
	AutoWater2: AutoPause2,
	AutoPause2: Idle,
}

const DefaultTick = 500 * time.Millisecond

type State interface {
	Read() remotestate.Snapshot
}

type Panel interface {
	SetValve(on bool)
}

// Sequencer is a clock-driven state machine. Tick evaluates one step; Run calls Tick on every tick interval.
// Tick calls Notifier inline: use a notifier.Queue to keep slow notifiers off the tick path.
type Sequencer struct {
	State     State
	Actuator  hardware.Actuator
	Panel     Panel
	Notifier  notifier.Notifier
	Durations Durations
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	phase      Phase
	phaseStart time.Time
	current    atomic.Int32
}

func New(state State, actuator hardware.Actuator, panel Panel, n notifier.Notifier, durations Durations, interval time.Duration, logger *slog.Logger) *Sequencer {
	return &Sequencer{
		State:     state,
		Actuator:  actuator,
		Panel:     panel,
		Notifier:  n,
		Durations: durations,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

// Phase returns the current phase. It's safe to call while the sequencer is running.
func (s *Sequencer) Phase() Phase {
	return Phase(s.current.Load())
}

func (s *Sequencer) Run(ctx context.Context) error {
	s.logger.Debug("started", slog.Duration("tick", s.interval), slog.Any("durations", s.Durations))
	defer s.logger.Debug("stopped")

	// the valve may have been left open by a previous run
	s.move(ctx, hardware.Closed)
	s.Panel.SetValve(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown(ctx)
			return nil
		case <-ticker.C:
			s.Tick(ctx, s.now())
		}
	}
}

// shutdown leaves the valve closed.
func (s *Sequencer) shutdown(ctx context.Context) {
	if !s.phase.Active() {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	s.move(ctx, hardware.Closed)
	s.Panel.SetValve(false)
	s.enter(Idle, s.now())
}

// Tick evaluates the state machine at time now. Tick must not be called concurrently.
func (s *Sequencer) Tick(ctx context.Context, now time.Time) {
	switch s.phase {
	case Idle:
		state := s.State.Read()
		if state.AutoWatering && !state.ManualOverride {
			s.move(ctx, hardware.Open)
			s.Panel.SetValve(true)
			s.enter(AutoWater1, now)
			s.notify(notifier.SequenceStarted, "automatic watering requested", now)
		} else if state.ManualOverride {
			s.move(ctx, hardware.Open)
			s.Panel.SetValve(true)
			s.enter(ManualOpen, now)
			s.notify(notifier.ManualOpened, "manual override set", now)
		}
	case ManualOpen:
		if !s.State.Read().ManualOverride {
			s.move(ctx, hardware.Closed)
			s.Panel.SetValve(false)
			s.enter(Idle, now)
			s.notify(notifier.ManualClosed, "manual override cleared", now)
		}
	default:
		if now.Sub(s.phaseStart) < s.Durations.of(s.phase) {
			return
		}
		next := nextPhase[s.phase]
		switch next {
		case Idle:
			s.Panel.SetValve(false)
		case AutoWater2:
			s.move(ctx, hardware.Open)
		default:
			s.move(ctx, hardware.Closed)
		}
		s.enter(next, now)
		if next == Idle {
			s.notify(notifier.SequenceCompleted, "sequence completed", now)
		}
	}
}

func (s *Sequencer) enter(phase Phase, now time.Time) {
	s.logger.Debug("phase changed", slog.String("from", s.phase.String()), slog.String("to", phase.String()))
	s.phase = phase
	s.phaseStart = now
	s.current.Store(int32(phase))
}

// move commands the valve. A failing actuator is logged; the sequence carries on regardless.
func (s *Sequencer) move(ctx context.Context, position hardware.Position) {
	if err := s.Actuator.SetPosition(ctx, position); err != nil {
		s.logger.Error("failed to move valve", slog.String("position", position.String()), slog.Any("err", err))
	}
}

func (s *Sequencer) notify(action notifier.Action, reason string, now time.Time) {
	if s.Notifier != nil {
		s.Notifier.Notify(notifier.Event{Action: action, Reason: reason, Time: now})
	}
}

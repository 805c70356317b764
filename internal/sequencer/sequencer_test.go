package sequencer

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/clambin/irrigator/internal/hardware"
	"github.com/clambin/irrigator/internal/notifier"
	"github.com/clambin/irrigator/internal/remotestate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDurations = Durations{Water1: 2 * time.Minute, Pause1: 10 * time.Minute, Water2: time.Minute, Pause2: 5 * time.Minute}

type env struct {
	store    *remotestate.Store
	actuator *fakeActuator
	panel    *fakePanel
	events   *fakeNotifier
	s        *Sequencer
}

func newEnv() env {
	e := env{
		store:    remotestate.New(1, slog.Default()),
		actuator: &fakeActuator{},
		panel:    &fakePanel{},
		events:   &fakeNotifier{},
	}
	e.s = New(e.store, e.actuator, e.panel, e.events, testDurations, DefaultTick, slog.Default())
	return e
}

// run ticks the sequencer every tick interval, from start until end.
func (e env) run(start time.Time, end time.Duration) time.Time {
	now := start
	for now.Sub(start) <= end {
		e.s.Tick(context.Background(), now)
		now = now.Add(DefaultTick)
	}
	return now
}

func TestSequencer_Automatic(t *testing.T) {
	e := newEnv()
	start := time.Date(2024, time.June, 1, 6, 0, 0, 0, time.UTC)

	e.s.Tick(context.Background(), start)
	assert.Equal(t, Idle, e.s.Phase())
	assert.Empty(t, e.actuator.get())

	e.store.ApplyIncoming(remotestate.Record{AutoWatering: true})
	e.s.Tick(context.Background(), start)
	assert.Equal(t, AutoWater1, e.s.Phase())
	assert.True(t, e.panel.valve)

	// the flag is cleared immediately: the sequence still runs to completion
	e.store.ApplyIncoming(remotestate.Record{})

	checkpoints := []struct {
		at    time.Duration
		phase Phase
		moves []hardware.Position
	}{
		{at: 2*time.Minute - time.Second, phase: AutoWater1, moves: []hardware.Position{hardware.Open}},
		{at: 2 * time.Minute, phase: AutoPause1, moves: []hardware.Position{hardware.Open, hardware.Closed}},
		{at: 12 * time.Minute, phase: AutoWater2, moves: []hardware.Position{hardware.Open, hardware.Closed, hardware.Open}},
		{at: 13 * time.Minute, phase: AutoPause2, moves: []hardware.Position{hardware.Open, hardware.Closed, hardware.Open, hardware.Closed}},
		{at: 18 * time.Minute, phase: Idle, moves: []hardware.Position{hardware.Open, hardware.Closed, hardware.Open, hardware.Closed}},
	}

	phaseStart := start
	for _, c := range checkpoints {
		now := start.Add(c.at)
		for tick := phaseStart; !tick.After(now); tick = tick.Add(DefaultTick) {
			e.s.Tick(context.Background(), tick)
		}
		phaseStart = now.Add(DefaultTick)
		assert.Equal(t, c.phase, e.s.Phase(), c.at)
		assert.Equal(t, c.moves, e.actuator.get(), c.at)
	}
	assert.False(t, e.panel.valve)
	assert.Equal(t, []notifier.Action{notifier.SequenceStarted, notifier.SequenceCompleted}, e.events.get())

	// flags are clear: the sequencer stays idle
	e.run(start.Add(time.Hour), time.Minute)
	assert.Equal(t, Idle, e.s.Phase())
	assert.Len(t, e.actuator.get(), 4)
}

func TestSequencer_Automatic_Repeats(t *testing.T) {
	e := newEnv()
	e.store.ApplyIncoming(remotestate.Record{AutoWatering: true})

	// two full sequences and the start of a third
	e.run(time.Now(), 2*testDurations.Total()+time.Second)
	assert.Equal(t, []hardware.Position{
		hardware.Open, hardware.Closed, hardware.Open, hardware.Closed,
		hardware.Open, hardware.Closed, hardware.Open, hardware.Closed,
		hardware.Open,
	}, e.actuator.get())
}

func TestSequencer_Manual(t *testing.T) {
	e := newEnv()
	start := time.Now()

	e.store.ApplyIncoming(remotestate.Record{ManualOverride: true})
	e.s.Tick(context.Background(), start)
	assert.Equal(t, ManualOpen, e.s.Phase())
	assert.Equal(t, []hardware.Position{hardware.Open}, e.actuator.get())
	assert.True(t, e.panel.valve)

	// the valve stays open as long as the override is set
	now := e.run(start, time.Hour)
	assert.Equal(t, ManualOpen, e.s.Phase())
	assert.Len(t, e.actuator.get(), 1)

	e.store.ApplyIncoming(remotestate.Record{})
	e.s.Tick(context.Background(), now)
	assert.Equal(t, Idle, e.s.Phase())
	assert.Equal(t, []hardware.Position{hardware.Open, hardware.Closed}, e.actuator.get())
	assert.False(t, e.panel.valve)
	assert.Equal(t, []notifier.Action{notifier.ManualOpened, notifier.ManualClosed}, e.events.get())
}

func TestSequencer_BothFlags(t *testing.T) {
	e := newEnv()
	e.store.ApplyIncoming(remotestate.Record{AutoWatering: true, ManualOverride: true})
	e.s.Tick(context.Background(), time.Now())
	assert.Equal(t, ManualOpen, e.s.Phase())
}

func TestSequencer_ManualDuringSequence(t *testing.T) {
	e := newEnv()
	start := time.Now()
	e.store.ApplyIncoming(remotestate.Record{AutoWatering: true})
	e.s.Tick(context.Background(), start)
	require.Equal(t, AutoWater1, e.s.Phase())

	// manual override doesn't interrupt the sequence
	e.store.ApplyIncoming(remotestate.Record{ManualOverride: true})
	e.run(start.Add(DefaultTick), testDurations.Total()-time.Second)
	assert.Equal(t, AutoPause2, e.s.Phase())

	// once the sequence completes, the override opens the valve on the next tick
	now := start.Add(testDurations.Total())
	e.s.Tick(context.Background(), now)
	assert.Equal(t, Idle, e.s.Phase())
	e.s.Tick(context.Background(), now.Add(DefaultTick))
	assert.Equal(t, ManualOpen, e.s.Phase())
}

func TestSequencer_ActuatorFailure(t *testing.T) {
	e := newEnv()
	e.s.Actuator = hardware.Unavailable{}
	e.store.ApplyIncoming(remotestate.Record{AutoWatering: true})

	start := time.Now()
	e.s.Tick(context.Background(), start)
	assert.Equal(t, AutoWater1, e.s.Phase())
	e.s.Tick(context.Background(), start.Add(testDurations.Water1))
	assert.Equal(t, AutoPause1, e.s.Phase())
}

func TestSequencer_Run(t *testing.T) {
	e := newEnv()
	e.s.interval = 10 * time.Millisecond
	e.store.ApplyIncoming(remotestate.Record{ManualOverride: true})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error)
	go func() { errCh <- e.s.Run(ctx) }()

	assert.Eventually(t, func() bool { return e.s.Phase() == ManualOpen }, time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)

	// starting the sequencer closes the valve, as does stopping it
	assert.Equal(t, []hardware.Position{hardware.Closed, hardware.Open, hardware.Closed}, e.actuator.get())
	assert.Equal(t, Idle, e.s.Phase())
}

func TestSequencer_Run_ClosesValveAtStart(t *testing.T) {
	e := newEnv()
	e.s.interval = time.Hour
	e.panel.valve = true

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error)
	go func() { errCh <- e.s.Run(ctx) }()

	assert.Eventually(t, func() bool { return len(e.actuator.get()) == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)

	assert.Equal(t, []hardware.Position{hardware.Closed}, e.actuator.get())
	assert.False(t, e.panel.getValve())
}

func TestSequencer_SlowNotifier(t *testing.T) {
	e := newEnv()
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	slow := &fakeNotifier{release: release}
	e.s.Notifier = notifier.NewQueue(slow, 10, slog.Default())
	e.store.ApplyIncoming(remotestate.Record{AutoWatering: true})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = e.s.Notifier.(*notifier.Queue).Run(ctx) }()

	start := time.Now()
	e.s.Tick(context.Background(), start)
	assert.Less(t, time.Since(start), DefaultTick)
	assert.Equal(t, AutoWater1, e.s.Phase())

	// the notifier is still stuck, but the valve closes on time
	e.s.Tick(context.Background(), start.Add(testDurations.Water1))
	assert.Equal(t, AutoPause1, e.s.Phase())
	assert.Equal(t, []hardware.Position{hardware.Open, hardware.Closed}, e.actuator.get())
	assert.Empty(t, slow.get())
}

func TestPhase_String(t *testing.T) {
	for _, phase := range Phases {
		assert.NotEqual(t, "unknown", phase.String())
	}
	assert.Equal(t, "unknown", Phase(-1).String())
	assert.Equal(t, 18*time.Minute, DefaultDurations.Total())
}

type fakeActuator struct {
	moves []hardware.Position
	lock  sync.Mutex
}

func (f *fakeActuator) SetPosition(_ context.Context, position hardware.Position) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.moves = append(f.moves, position)
	return nil
}

func (f *fakeActuator) get() []hardware.Position {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]hardware.Position(nil), f.moves...)
}

type fakePanel struct {
	valve bool
	lock  sync.Mutex
}

func (f *fakePanel) SetValve(on bool) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.valve = on
}

func (f *fakePanel) getValve() bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.valve
}

type fakeNotifier struct {
	release <-chan struct{}
	actions []notifier.Action
	lock    sync.Mutex
}

func (f *fakeNotifier) Notify(event notifier.Event) {
	if f.release != nil {
		<-f.release
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	f.actions = append(f.actions, event.Action)
}

func (f *fakeNotifier) get() []notifier.Action {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]notifier.Action(nil), f.actions...)
}

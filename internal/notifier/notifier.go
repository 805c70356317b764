// Package notifier announces valve events.
package notifier

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Action is a valve event.
type Action int

const (
	SequenceStarted Action = iota
	SequenceCompleted
	ManualOpened
	ManualClosed
)

var actionNames = map[Action]string{
	SequenceStarted:   "watering sequence started",
	SequenceCompleted: "watering sequence completed",
	ManualOpened:      "valve opened manually",
	ManualClosed:      "valve closed manually",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}

// Event describes one change of the valve.
type Event struct {
	Action Action
	Reason string
	Time   time.Time
}

func (e Event) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("action", e.Action.String()),
		slog.String("reason", e.Reason),
		slog.Time("time", e.Time),
	)
}

type Notifier interface {
	Notify(Event)
}

// Notifiers delivers an event to each of its notifiers in parallel and returns once all are done.
type Notifiers []Notifier

func (n Notifiers) Notify(event Event) {
	var g errgroup.Group
	for _, l := range n {
		g.Go(func() error {
			l.Notify(event)
			return nil
		})
	}
	_ = g.Wait()
}

// Queue decouples the sender of an event from its delivery: Notify only queues the event and Run delivers it.
// When the queue is full, new events are dropped.
type Queue struct {
	Notifier Notifier
	events   chan Event
	logger   *slog.Logger
}

var _ Notifier = &Queue{}

func NewQueue(n Notifier, size int, logger *slog.Logger) *Queue {
	return &Queue{
		Notifier: n,
		events:   make(chan Event, size),
		logger:   logger,
	}
}

func (q *Queue) Notify(event Event) {
	select {
	case q.events <- event:
	default:
		q.logger.Warn("notification queue full. dropping event", "event", event)
	}
}

func (q *Queue) Run(ctx context.Context) error {
	q.logger.Debug("started")
	defer q.logger.Debug("stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-q.events:
			q.Notifier.Notify(event)
		}
	}
}

package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/clambin/irrigator/internal/remotestate"
	"github.com/clambin/irrigator/internal/sensor"
	"github.com/clambin/irrigator/internal/sequencer"
)

type Subscriber[T any] interface {
	Subscribe() <-chan T
	Unsubscribe(<-chan T)
}

type Refresher interface {
	Refresh()
}

type PhaseReader interface {
	Phase() sequencer.Phase
}

// Status is the body of the health endpoint.
type Status struct {
	State   remotestate.Snapshot `json:"state"`
	Reading *sensor.Reading      `json:"reading,omitempty"`
	Phase   string               `json:"phase,omitempty"`
}

// Health serves the controller's status. It reports unavailable until the first coordinator update has been received.
type Health struct {
	State     Subscriber[remotestate.Snapshot]
	Readings  Subscriber[sensor.Reading]
	Poller    Refresher
	Sequencer PhaseReader
	logger    *slog.Logger
	status    Status
	updated   bool
	lock      sync.RWMutex
}

func New(state Subscriber[remotestate.Snapshot], readings Subscriber[sensor.Reading], p Refresher, s PhaseReader, logger *slog.Logger) *Health {
	return &Health{
		State:     state,
		Readings:  readings,
		Poller:    p,
		Sequencer: s,
		logger:    logger,
	}
}

func (h *Health) Run(ctx context.Context) error {
	h.logger.Debug("started")
	defer h.logger.Debug("stopped")

	states := h.State.Subscribe()
	defer h.State.Unsubscribe(states)
	readings := h.Readings.Subscribe()
	defer h.Readings.Unsubscribe(readings)

	for {
		select {
		case <-ctx.Done():
			return nil
		case state := <-states:
			h.lock.Lock()
			h.status.State = state
			h.updated = true
			h.lock.Unlock()
		case reading := <-readings:
			h.lock.Lock()
			h.status.Reading = &reading
			h.lock.Unlock()
		}
	}
}

func (h *Health) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.lock.RLock()
	defer h.lock.RUnlock()
	if !h.updated {
		http.Error(w, "no update yet", http.StatusServiceUnavailable)
		h.Poller.Refresh()
		return
	}

	status := h.status
	if h.Sequencer != nil {
		status.Phase = h.Sequencer.Phase().String()
	}

	w.Header().Set("Content-Type", "application/json")

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(status); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Package link tracks connectivity with the coordinator and shows it on the link light.
package link

import (
	"log/slog"
	"sync"
)

// Indicator shows the link state.
type Indicator interface {
	SetLink(on bool)
}

// Monitor receives the outcome of every exchange with the coordinator. The link light is only switched
// when the connectivity state changes.
type Monitor struct {
	indicator Indicator
	logger    *slog.Logger
	connected *bool
	lock      sync.Mutex
}

func New(indicator Indicator, logger *slog.Logger) *Monitor {
	return &Monitor{indicator: indicator, logger: logger}
}

// Report records the outcome of one exchange.
func (m *Monitor) Report(connected bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.connected != nil && *m.connected == connected {
		return
	}
	if connected {
		m.logger.Info("coordinator connected")
	} else {
		m.logger.Warn("coordinator disconnected")
	}
	m.connected = &connected
	m.indicator.SetLink(connected)
}

// Connected returns the last known state. It's false until the first exchange.
func (m *Monitor) Connected() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.connected != nil && *m.connected
}

// Package remotestate holds the latest directives received from the coordinator.
package remotestate

import (
	"log/slog"
	"sync"
	"time"

	"github.com/clambin/irrigator/pkg/pubsub"
)

// Record is one state record received from the coordinator.
type Record struct {
	Humidity       float32 `json:"humidity"`
	SensorEnabled  bool    `json:"sensor_enabled"`
	SensorID       uint32  `json:"sensor_id"`
	AutoWatering   bool    `json:"auto_watering"`
	ManualOverride bool    `json:"manual_override"`
}

// Snapshot is a consistent copy of the store's state.
type Snapshot struct {
	Record
	Version uint64    `json:"version"`
	Updated time.Time `json:"updated"`
}

func (s Snapshot) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("version", s.Version),
		slog.Int("sensorID", int(s.SensorID)),
		slog.Bool("autoWatering", s.AutoWatering),
		slog.Bool("manualOverride", s.ManualOverride),
	)
}

// OutgoingRecord is the payload reported to the coordinator.
type OutgoingRecord struct {
	SensorID   int `json:"sensor_id"`
	Humidity   int `json:"humidity"`
	IsSensorOn int `json:"is_sensor_on"`
}

// Store is the single shared record of remote state. Updates replace all fields at once and readers
// always get a copy of one complete update. Subscribers receive every applied snapshot.
type Store struct {
	*pubsub.Publisher[Snapshot]
	sensorID uint32
	snapshot Snapshot
	now      func() time.Time
	lock     sync.RWMutex
}

// New returns an empty Store for a board reporting as sensorID. All flags start cleared.
func New(sensorID uint32, logger *slog.Logger) *Store {
	return &Store{
		Publisher: pubsub.New[Snapshot](logger),
		sensorID:  sensorID,
		now:       time.Now,
	}
}

// Read returns the current snapshot.
func (s *Store) Read() Snapshot {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.snapshot
}

// ApplyIncoming replaces the state with the record and publishes the resulting snapshot.
func (s *Store) ApplyIncoming(record Record) Snapshot {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.snapshot = Snapshot{
		Record:  record,
		Version: s.snapshot.Version + 1,
		Updated: s.now(),
	}
	// Publish doesn't block: publishing under the lock keeps subscribers in version order.
	s.Publish(s.snapshot)
	return s.snapshot
}

// Outgoing builds the record reporting the current hydration percentage for this board.
func (s *Store) Outgoing(percentage uint8) OutgoingRecord {
	return OutgoingRecord{
		SensorID:   int(s.sensorID),
		Humidity:   int(percentage),
		IsSensorOn: 1,
	}
}

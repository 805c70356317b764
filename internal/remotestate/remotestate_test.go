package remotestate

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Initial(t *testing.T) {
	s := New(1, slog.Default())
	snapshot := s.Read()
	assert.Zero(t, snapshot.Version)
	assert.False(t, snapshot.AutoWatering)
	assert.False(t, snapshot.ManualOverride)
	assert.False(t, snapshot.SensorEnabled)
}

func TestStore_ApplyIncoming(t *testing.T) {
	s := New(1, slog.Default())
	s.now = func() time.Time { return time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC) }

	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	record := Record{Humidity: 42.5, SensorEnabled: true, SensorID: 1, AutoWatering: true}
	applied := s.ApplyIncoming(record)
	assert.Equal(t, uint64(1), applied.Version)
	assert.Equal(t, record, applied.Record)
	assert.Equal(t, applied, s.Read())
	assert.Equal(t, applied, <-ch)

	applied = s.ApplyIncoming(Record{ManualOverride: true})
	assert.Equal(t, uint64(2), applied.Version)
	assert.False(t, s.Read().AutoWatering)
	assert.True(t, s.Read().ManualOverride)
}

func TestStore_Outgoing(t *testing.T) {
	tests := []struct {
		name       string
		sensorID   uint32
		percentage uint8
		want       OutgoingRecord
	}{
		{name: "board 0", sensorID: 1, percentage: 40, want: OutgoingRecord{SensorID: 1, Humidity: 40, IsSensorOn: 1}},
		{name: "board 1", sensorID: 2, percentage: 100, want: OutgoingRecord{SensorID: 2, Humidity: 100, IsSensorOn: 1}},
		{name: "dry", sensorID: 1, percentage: 0, want: OutgoingRecord{SensorID: 1, Humidity: 0, IsSensorOn: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := New(tt.sensorID, slog.Default())
			assert.Equal(t, tt.want, s.Outgoing(tt.percentage))
		})
	}
}

func TestStore_Concurrent(t *testing.T) {
	s := New(1, slog.Default())

	// every writer sets all fields consistently from one value, so a torn read shows up as a mismatch
	recordFor := func(v uint32) Record {
		return Record{
			Humidity:       float32(v),
			SensorEnabled:  v%2 == 0,
			SensorID:       v,
			AutoWatering:   v%2 == 0,
			ManualOverride: v%2 == 1,
		}
	}

	const writers = 4
	const updates = 1000
	var wg sync.WaitGroup
	wg.Add(writers)
	for w := range writers {
		go func() {
			defer wg.Done()
			for i := range updates {
				s.ApplyIncoming(recordFor(uint32(w*updates + i)))
			}
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	for {
		snapshot := s.Read()
		if snapshot.Version > 0 {
			require.Equal(t, recordFor(snapshot.SensorID), snapshot.Record)
		}
		select {
		case <-done:
			assert.Equal(t, uint64(writers*updates), s.Read().Version)
			return
		default:
		}
	}
}

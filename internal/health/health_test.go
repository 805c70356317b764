package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clambin/irrigator/internal/remotestate"
	"github.com/clambin/irrigator/internal/sensor"
	"github.com/clambin/irrigator/internal/sequencer"
	"github.com/clambin/irrigator/pkg/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth_Handle(t *testing.T) {
	store := remotestate.New(1, slog.Default())
	readings := pubsub.New[sensor.Reading](slog.Default())
	var p fakeRefresher

	h := New(store, readings, &p, fixedPhase(sequencer.ManualOpen), slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error)
	go func() { errCh <- h.Run(ctx) }()

	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, &http.Request{})
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Equal(t, int32(1), p.calls.Load())

	assert.Eventually(t, func() bool { return store.Subscribers() == 1 && readings.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	readings.Publish(sensor.Reading{Average: 1105, Percentage: 50})
	store.ApplyIncoming(remotestate.Record{ManualOverride: true, SensorID: 1})

	assert.Eventually(t, func() bool {
		resp = httptest.NewRecorder()
		h.ServeHTTP(resp, &http.Request{})
		return resp.Code == http.StatusOK
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)

	var status Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.True(t, status.State.ManualOverride)
	assert.Equal(t, uint64(1), status.State.Version)
	assert.Equal(t, "manual", status.Phase)
}

type fakeRefresher struct {
	calls atomic.Int32
}

func (f *fakeRefresher) Refresh() {
	f.calls.Add(1)
}

type fixedPhase sequencer.Phase

func (f fixedPhase) Phase() sequencer.Phase { return sequencer.Phase(f) }

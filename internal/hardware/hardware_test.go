package hardware

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulated(t *testing.T) {
	now := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)
	s := newSimulated(slog.Default(), func() time.Time { return now })
	ctx := context.Background()

	sample, err := s.Sample(ctx)
	require.NoError(t, err)
	assert.InDelta(t, simulatedStart, float64(sample), simulatedNoiseRange)

	// soil dries out while the valve is closed
	now = now.Add(12 * time.Hour)
	sample, err = s.Sample(ctx)
	require.NoError(t, err)
	assert.InDelta(t, simulatedDry, float64(sample), simulatedNoiseRange)

	// and gets wetter while it's open
	require.NoError(t, s.SetPosition(ctx, Open))
	now = now.Add(time.Hour)
	sample, err = s.Sample(ctx)
	require.NoError(t, err)
	assert.InDelta(t, simulatedWet, float64(sample), simulatedNoiseRange)

	require.NoError(t, s.Set(Valve, true))
	assert.True(t, s.Light(Valve))
	assert.False(t, s.Light(Link))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Sample(canceled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBoard(t *testing.T) {
	b := NewSimulated(slog.Default())
	assert.Equal(t, "[sampler=true actuator=true lights=true]", b.LogValue().String())

	var closed int
	b.OnClose(func() error { closed++; return nil })
	b.OnClose(func() error { closed++; return errors.New("fail") })
	assert.Error(t, b.Close())
	assert.Equal(t, 2, closed)

	b = &Board{Sampler: Unavailable{}, Actuator: Unavailable{}, Lights: Unavailable{}}
	assert.Equal(t, "[sampler=false actuator=false lights=false]", b.LogValue().String())
	assert.NoError(t, b.Close())
}

func TestUnavailable(t *testing.T) {
	var u Unavailable
	_, err := u.Sample(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, u.SetPosition(context.Background(), Open), ErrUnavailable)
	assert.ErrorIs(t, u.Set(Link, true), ErrUnavailable)
}

func TestNames(t *testing.T) {
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "moderate", ModerateHydration.String())
	assert.Equal(t, "unknown", Light(99).String())
}

package touch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_ModeFilter(t *testing.T) {
	b := NewEventBus()
	var got []string
	_, err := b.Subscribe(OnInterrupt, ModeOperational, func(Event) { got = append(got, "op") })
	require.NoError(t, err)
	_, err = b.Subscribe(OnInterrupt, ModeOperational|ModeDiagnostic, func(Event) { got = append(got, "op+cat") })
	require.NoError(t, err)
	_, err = b.Subscribe(OnStartupComplete, ModeAny, func(Event) { got = append(got, "startup") })
	require.NoError(t, err)

	assert.Equal(t, 1, b.Publish(Event{Class: OnInterrupt, Mode: ModeDiagnostic}))
	assert.Equal(t, 2, b.Publish(Event{Class: OnInterrupt, Mode: ModeOperational}))
	assert.Equal(t, 2, b.Publish(Event{Class: OnInterrupt}), "unknown mode reaches everyone")
	assert.Zero(t, b.Publish(Event{Class: OnInterrupt, Mode: ModeBootloader}))
	assert.Equal(t, []string{"op+cat", "op", "op+cat", "op", "op+cat"}, got)
}

func TestEventBus_UnsubscribeFromHandler(t *testing.T) {
	b := NewEventBus()
	calls := 0
	var id string
	id, err := b.Subscribe(OnWakeSignal, ModeAny, func(Event) {
		calls++
		assert.NoError(t, b.Unsubscribe(OnWakeSignal, id))
	})
	require.NoError(t, err)
	second := 0
	_, err = b.Subscribe(OnWakeSignal, ModeAny, func(Event) { second++ })
	require.NoError(t, err)

	assert.Equal(t, 2, b.Publish(Event{Class: OnWakeSignal}))
	assert.Equal(t, 1, b.Publish(Event{Class: OnWakeSignal}))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, second)
	assert.Equal(t, 1, b.Len(OnWakeSignal))
}

func TestEventBus_InvalidArguments(t *testing.T) {
	b := NewEventBus()
	_, err := b.Subscribe(numEventClasses, ModeAny, func(Event) {})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = b.Subscribe(OnInterrupt, ModeAny, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorIs(t, b.Unsubscribe(OnInterrupt, "missing"), ErrInvalidArgument)
	assert.Zero(t, b.Publish(Event{Class: numEventClasses}))
}

package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForEventsResolvesFirstFired(t *testing.T) {
	bus := newSignalBus()
	arg, err := ArgOf("payload")
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		bus.emit("b", []Arg{arg})
	}()

	name, args, err := waitForEvents(context.Background(), bus, []string{"a", "b", "c"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "b", name)
	require.Len(t, args, 1)
	assert.JSONEq(t, string(arg), string(args[0]))

	assert.False(t, bus.hasListener("a"))
	assert.False(t, bus.hasListener("c"))
}

func TestWaitForEventsTimesOut(t *testing.T) {
	bus := newSignalBus()

	_, _, err := waitForEvents(context.Background(), bus, []string{"never"}, 10*time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.False(t, bus.hasListener("never"))
}

func TestWaitForEventsReturnsCtxErrOnCancellation(t *testing.T) {
	bus := newSignalBus()
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, _, err := waitForEvents(ctx, bus, []string{"never"}, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, bus.hasListener("never"))
}

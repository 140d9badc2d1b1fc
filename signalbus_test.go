package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalBusOnFiresOnEveryEmit(t *testing.T) {
	bus := newSignalBus()
	var got []string
	cancel := bus.on("tick", func(args []Arg) {
		if len(args) > 0 {
			var s string
			_ = args[0].Decode(&s)
			got = append(got, s)
		}
	})
	defer cancel()

	a, _ := ArgOf("one")
	b, _ := ArgOf("two")
	bus.emit("tick", []Arg{a})
	bus.emit("tick", []Arg{b})

	assert.Equal(t, []string{"one", "two"}, got)
}

func TestSignalBusOnCancelStopsDelivery(t *testing.T) {
	bus := newSignalBus()
	var count int
	cancel := bus.on("tick", func(args []Arg) { count++ })

	bus.emit("tick", nil)
	cancel()
	bus.emit("tick", nil)

	assert.Equal(t, 1, count)
}

func TestSignalBusHasListenerCountsBothKinds(t *testing.T) {
	bus := newSignalBus()
	assert.False(t, bus.hasListener("x"))

	_, cancelOnce := bus.subscribeOnce("x")
	assert.True(t, bus.hasListener("x"))
	cancelOnce()
	assert.False(t, bus.hasListener("x"))

	cancelOn := bus.on("x", func(args []Arg) {})
	assert.True(t, bus.hasListener("x"))
	cancelOn()
	assert.False(t, bus.hasListener("x"))
}

func TestSignalBusClearRemovesPersistentListeners(t *testing.T) {
	bus := newSignalBus()
	var count int
	bus.on("tick", func(args []Arg) { count++ })

	bus.clear()
	bus.emit("tick", nil)

	assert.Equal(t, 0, count)
}

func TestSignalBusMultiplePersistentListenersAllFire(t *testing.T) {
	bus := newSignalBus()
	var a, b int
	cancelA := bus.on("tick", func(args []Arg) { a++ })
	_ = bus.on("tick", func(args []Arg) { b++ })

	bus.emit("tick", nil)
	cancelA()
	bus.emit("tick", nil)

	require.Equal(t, 1, a)
	require.Equal(t, 2, b)
}

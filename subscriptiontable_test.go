package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionTableOnceHandlerRemovedAfterDelivery(t *testing.T) {
	table := newSubscriptionTable()
	var calls int
	handler := func(args []Arg) (any, error) {
		calls++
		return nil, nil
	}

	table.add("vendor.mod.tick", subscriptionEntry{handler: handler, once: true})
	assert.True(t, table.has("vendor.mod.tick"))

	arg, err := ArgOf(42)
	require.NoError(t, err)
	table.deliver(Silent(), "vendor.mod.tick", []Arg{arg})

	assert.Equal(t, 1, calls)
	assert.False(t, table.has("vendor.mod.tick"))

	arg2, err := ArgOf(43)
	require.NoError(t, err)
	table.deliver(Silent(), "vendor.mod.tick", []Arg{arg2})
	assert.Equal(t, 1, calls, "once handler must not fire a second time")
}

func TestSubscriptionTableTargetedRemovalKeepsOthers(t *testing.T) {
	table := newSubscriptionTable()
	var firstCalls, secondCalls int
	first := func(args []Arg) (any, error) { firstCalls++; return nil, nil }
	second := func(args []Arg) (any, error) { secondCalls++; return nil, nil }

	table.add("v.m.e", subscriptionEntry{handler: first})
	table.add("v.m.e", subscriptionEntry{handler: second})

	table.removeHandler("v.m.e", first)
	table.deliver(Silent(), "v.m.e", nil)

	assert.Equal(t, 0, firstCalls)
	assert.Equal(t, 1, secondCalls)
}

func TestSubscriptionTableDuplicateHandlersEachFireIndependently(t *testing.T) {
	table := newSubscriptionTable()
	var calls int
	handler := func(args []Arg) (any, error) { calls++; return nil, nil }

	table.add("v.m.e", subscriptionEntry{handler: handler})
	table.add("v.m.e", subscriptionEntry{handler: handler})

	table.deliver(Silent(), "v.m.e", nil)
	assert.Equal(t, 2, calls)
}

func TestSubscriptionTableRemoveAllDeletesEntry(t *testing.T) {
	table := newSubscriptionTable()
	handler := func(args []Arg) (any, error) { return nil, nil }
	table.add("v.m.e", subscriptionEntry{handler: handler})

	table.removeAll("v.m.e")
	assert.False(t, table.has("v.m.e"))
}

func TestSubscriptionTableHandlerPanicIsIsolated(t *testing.T) {
	table := newSubscriptionTable()
	var secondCalled bool
	panicking := func(args []Arg) (any, error) { panic("boom") }
	second := func(args []Arg) (any, error) { secondCalled = true; return nil, nil }

	table.add("v.m.e", subscriptionEntry{handler: panicking})
	table.add("v.m.e", subscriptionEntry{handler: second})

	assert.NotPanics(t, func() {
		table.deliver(Silent(), "v.m.e", nil)
	})
	assert.True(t, secondCalled)
}

package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerTableInsertIsOneShot(t *testing.T) {
	table := newHandlerTable()
	fn := func(args []Arg) (any, error) { return nil, nil }

	assert.True(t, table.insert("acme.sum.add", handlerEntry{fn: fn}))
	assert.False(t, table.insert("acme.sum.add", handlerEntry{fn: fn}))

	entry, ok := table.get("acme.sum.add")
	require.True(t, ok)
	assert.NotNil(t, entry.fn)
	assert.Equal(t, 1, table.len())
}

func TestHandlerTableKeysPreserveInsertionOrder(t *testing.T) {
	table := newHandlerTable()
	fn := func(args []Arg) (any, error) { return nil, nil }

	for _, name := range []string{"acme.sum.c", "acme.sum.a", "acme.sum.b"} {
		require.True(t, table.insert(name, handlerEntry{fn: fn}))
	}

	assert.Equal(t, []string{"acme.sum.c", "acme.sum.a", "acme.sum.b"}, table.keys())

	table.delete("acme.sum.a")
	assert.Equal(t, []string{"acme.sum.c", "acme.sum.b"}, table.keys())
}

func TestHandlerTablePutOverwritesExistingEntry(t *testing.T) {
	table := newHandlerTable()
	fnA := func(args []Arg) (any, error) { return "a", nil }
	fnB := func(args []Arg) (any, error) { return "b", nil }

	require.True(t, table.insert("acme.sum.add", handlerEntry{fn: fnA}))
	table.put("acme.sum.add", handlerEntry{fn: fnB, relay: true, asker: "acme.other"})

	entry, ok := table.get("acme.sum.add")
	require.True(t, ok)
	assert.True(t, entry.relay)
	assert.Equal(t, "acme.other", entry.asker)
	assert.Equal(t, 1, table.len())
}

func TestHandlerTableDeleteWhereRemovesOnlyMatching(t *testing.T) {
	table := newHandlerTable()
	fn := func(args []Arg) (any, error) { return nil, nil }
	table.put("acme.sum.add", handlerEntry{fn: fn, relay: true, asker: "acme.sum"})
	table.put("acme.avg.mean", handlerEntry{fn: fn, relay: true, asker: "acme.avg"})
	table.put("acme.proxy.local", handlerEntry{fn: fn})

	table.deleteWhere(func(_ string, entry handlerEntry) bool {
		return entry.relay && entry.asker == "acme.sum"
	})

	_, ok := table.get("acme.sum.add")
	assert.False(t, ok)
	_, ok = table.get("acme.avg.mean")
	assert.True(t, ok)
	_, ok = table.get("acme.proxy.local")
	assert.True(t, ok)
}

func TestIsReservedLocalName(t *testing.T) {
	for _, name := range []string{"emit", "on", "off", "once", "callTimeout", "excludeClients"} {
		assert.True(t, isReservedLocalName(name), name)
	}
	assert.False(t, isReservedLocalName("add"))
}

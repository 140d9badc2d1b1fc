package broker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	broker "github.com/zerodensity/realityhub-api"
	"github.com/zerodensity/realityhub-api/internal/testhub"
)

func startHub(t *testing.T) *testhub.Hub {
	t.Helper()
	hub := testhub.New("/core")
	t.Cleanup(hub.Close)
	return hub
}

func connectClient(t *testing.T, hub *testhub.Hub, moduleName string) *broker.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client := broker.NewClient(moduleName, broker.DefaultConfig(), broker.Silent())
	require.NoError(t, client.Connect(ctx, hub.Host(), hub.Port(), hub.Path(), false, broker.DialOptions{}))
	require.NoError(t, client.GetConnectPromise(ctx))
	// Ping synchronously round-trips through the hub, which is how the hub
	// learns this client's moduleName for routed delivery.
	require.NoError(t, client.Ping(ctx))
	t.Cleanup(func() { _ = client.Destroy() })
	return client
}

func TestIntegrationRPCRoundTrip(t *testing.T) {
	hub := startHub(t)
	sum := connectClient(t, hub, "acme.sum")
	require.NoError(t, sum.RegisterAPIHandler("add", func(args []broker.Arg) (any, error) {
		var a, b int
		require.NoError(t, args[0].Decode(&a))
		require.NoError(t, args[1].Decode(&b))
		return a + b, nil
	}))

	caller := connectClient(t, hub, "acme.caller")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := caller.Call(ctx, "acme", "sum", "add", []any{3, 5})
	require.NoError(t, err)
	require.Len(t, data, 1)
	var result int
	require.NoError(t, data[0].Decode(&result))
	assert.Equal(t, 8, result)
}

func TestIntegrationUnknownHandlerFails(t *testing.T) {
	hub := startHub(t)
	connectClient(t, hub, "acme.sum")
	caller := connectClient(t, hub, "acme.caller")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := caller.Call(ctx, "acme", "sum", "add", []any{3, 5})
	require.Error(t, err)
	assert.True(t, broker.IsBrokerError(err))
	assert.Contains(t, err.Error(), "There is no handler registered for this type of message: acme.sum.add")
}

func TestIntegrationCallTimeout(t *testing.T) {
	hub := startHub(t)
	sum := connectClient(t, hub, "acme.sum")
	started := make(chan struct{})
	require.NoError(t, sum.RegisterAPIHandler("slow", func(args []broker.Arg) (any, error) {
		close(started)
		time.Sleep(200 * time.Millisecond)
		return "too late", nil
	}))

	caller := connectClient(t, hub, "acme.caller")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := caller.Call(ctx, "acme", "sum", "slow", nil, broker.WithTimeout(50*time.Millisecond))
	require.Error(t, err)
	assert.True(t, broker.IsTimeout(err))
	<-started
}

func TestIntegrationDuplicateEventFanOut(t *testing.T) {
	hub := startHub(t)
	parent := connectClient(t, hub, "acme.parent")

	dupA, err := parent.Duplicate("acme.dupa")
	require.NoError(t, err)
	dupB, err := parent.Duplicate("acme.dupb")
	require.NoError(t, err)

	var aCount, bCount, parentCount int
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, dupA.SubscribeToAPIEvent(ctx, "v.m.e", func(args []broker.Arg) (any, error) {
		aCount++
		return nil, nil
	}))
	require.NoError(t, dupB.SubscribeToAPIEvent(ctx, "v.m.e", func(args []broker.Arg) (any, error) {
		bCount++
		return nil, nil
	}))
	require.NoError(t, parent.SubscribeToAPIEvent(ctx, "v.m.e", func(args []broker.Arg) (any, error) {
		parentCount++
		return nil, nil
	}))

	emitter := connectClient(t, hub, "v.m")
	require.NoError(t, emitter.Module("v", "m").Emit(ctx, "e", 1))

	require.Eventually(t, func() bool {
		return aCount == 1 && bCount == 1 && parentCount == 1
	}, time.Second, 10*time.Millisecond)
}

// TestIntegrationHubInitiatedPingResubscribesWithoutDeadlock exercises a
// hub-initiated ping (rather than the client calling Ping itself): the
// dispatch path it triggers re-sends a subscribe message and waits for the
// response, and that response can only be read by the client's read loop.
// If that dispatch ran synchronously on the read loop, the awaited
// response could never arrive and the call would hang until its context
// deadline.
func TestIntegrationHubInitiatedPingResubscribesWithoutDeadlock(t *testing.T) {
	hub := startHub(t)
	emitter := connectClient(t, hub, "v.m")
	sub := connectClient(t, hub, "acme.sub")
	var count int
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sub.SubscribeToAPIEvent(ctx, "v.m.e", func(args []broker.Arg) (any, error) {
		count++
		return nil, nil
	}))

	require.True(t, hub.Ping("acme.sub"), "hub must see acme.sub as connected")

	// IsConnected only reads the connection flag. The event emitted below is
	// what needs acme.sub's read loop: had dispatching the ping blocked it,
	// the event would not be read before the deadline.
	require.Eventually(t, func() bool {
		return sub.IsConnected()
	}, time.Second, 10*time.Millisecond, "acme.sub must still be connected after the hub-initiated ping")

	require.NoError(t, emitter.Module("v", "m").Emit(ctx, "e", 1))
	require.Eventually(t, func() bool {
		return count > 0
	}, time.Second, 10*time.Millisecond, "resubscribe triggered by the hub ping must still be in effect")
}

// TestIntegrationReconnectRestoresRPC verifies that after the transport
// drops, the client reconnects on its own after the fixed 1s delay and
// can make RPCs again over the new transport.
func TestIntegrationReconnectRestoresRPC(t *testing.T) {
	hub := startHub(t)
	sum := connectClient(t, hub, "acme.sum")
	require.NoError(t, sum.RegisterAPIHandler("add", func(args []broker.Arg) (any, error) {
		var a, b int
		require.NoError(t, args[0].Decode(&a))
		require.NoError(t, args[1].Decode(&b))
		return a + b, nil
	}))

	caller := connectClient(t, hub, "acme.caller")
	require.NoError(t, caller.ForceReconnect())

	require.Eventually(t, func() bool {
		return caller.IsConnected()
	}, 3*time.Second, 20*time.Millisecond, "client should reconnect after the fixed 1s delay")

	// The hub only learns the reconnected transport's identity once the
	// client speaks on it again.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, caller.Ping(ctx))

	data, err := caller.Call(ctx, "acme", "sum", "add", []any{4, 6})
	require.NoError(t, err)
	require.Len(t, data, 1)
	var result int
	require.NoError(t, data[0].Decode(&result))
	assert.Equal(t, 10, result)
}

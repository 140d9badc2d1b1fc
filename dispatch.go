package broker

import (
	"context"
	"errors"
	"fmt"
)

// dispatch routes an inbound frame by message type. response and event
// frames have no single owner — the parent and every live duplicate each
// act on them independently, since ids and subscriptions are naturally
// scoped per-table. subscribe, unsubscribe, ping, and default (method FQN)
// frames are target-routed: exactly one of the parent or a matching
// duplicate handles and responds.
func (c *Client) dispatch(ctx context.Context, msg *Message) {
	switch msg.Type {
	case TypeResponse:
		c.base.deliverResponse(msg)
		c.forEachDuplicate(func(d *Duplicate) { d.base.deliverResponse(msg) })

	case TypeEvent:
		c.base.subscriptions.deliver(c.base.log, msg.EventName, msg.Data)
		c.forEachDuplicate(func(d *Duplicate) {
			d.base.subscriptions.deliver(d.base.log, msg.EventName, msg.Data)
		})

	case TypeSubscribe, TypeUnsubscribe:
		c.dispatchSubscribeControl(ctx, msg)

	case TypePing:
		c.dispatchPing(ctx, msg)

	default:
		c.dispatchDefault(ctx, msg)
	}
}

// dispatchSubscribeControl handles an inbound subscribe/unsubscribe frame.
func (c *Client) dispatchSubscribeControl(ctx context.Context, msg *Message) {
	target := FQN(msg.EventName).ModuleName()
	local := FQN(msg.EventName).LocalName()
	signal := []Arg{MustArgOf(map[string]string{"eventName": local})}

	if target == c.base.moduleName {
		c.base.bus.emit(string(msg.Type), signal)
		c.base.respond(ctx, msg, true, nil, "")
		return
	}
	if dup, ok := c.findDuplicate(target); ok {
		dup.base.bus.emit(string(msg.Type), signal)
		dup.base.respond(ctx, msg, true, nil, "")
		return
	}
	c.base.respond(ctx, msg, false,
		[]Arg{handlerFailureData(fmt.Sprintf("no module %q is registered on this client", target))}, "")
}

// dispatchPing handles an inbound ping.
func (c *Client) dispatchPing(ctx context.Context, msg *Message) {
	c.mu.Lock()
	c.serverModuleName = msg.ModuleName
	c.mu.Unlock()

	target := msg.TargetModuleName
	if target == "" || target == c.base.moduleName {
		c.handlePingFor(ctx, c.base)
		c.base.respond(ctx, msg, true, nil, "")
		return
	}
	if dup, ok := c.findDuplicate(target); ok {
		c.handlePingFor(ctx, dup.base)
		dup.base.respond(ctx, msg, true, nil, "")
	}
}

// handlePingFor re-subscribes every tracked event and installs the
// idempotent <server>.moduleconnect/moduledisconnect bookkeeping
// subscriptions for a single base.
func (c *Client) handlePingFor(ctx context.Context, b *base) {
	c.resubscribeAll(ctx, b)
	c.installPeerLifecycleSubscriptions(ctx, b)
}

// resubscribeAll re-sends a subscribe message for every event b currently
// tracks.
func (c *Client) resubscribeAll(ctx context.Context, b *base) {
	for _, event := range b.subscriptions.events() {
		msg := &Message{Type: TypeSubscribe, EventName: event, TargetModuleName: FQN(event).ModuleName()}
		if _, err := b.send(ctx, msg, false, sendOptions{}); err != nil {
			b.log.Debug("resubscribe failed", "event", event, "error", err)
		}
	}
}

// installPeerLifecycleSubscriptions installs local-only (no wire message)
// listeners for the server's moduleconnect/moduledisconnect events,
// removing any prior entry first so repeated pings never accumulate
// duplicates.
func (c *Client) installPeerLifecycleSubscriptions(ctx context.Context, b *base) {
	c.mu.Lock()
	server := c.serverModuleName
	c.mu.Unlock()
	if server == "" {
		return
	}

	connectEvent := server + ".moduleconnect"
	disconnectEvent := server + ".moduledisconnect"
	b.subscriptions.removeAll(connectEvent)
	b.subscriptions.removeAll(disconnectEvent)

	b.subscriptions.add(connectEvent, subscriptionEntry{handler: func(args []Arg) (any, error) {
		c.resubscribeAll(ctx, b)
		return nil, nil
	}})
	b.subscriptions.add(disconnectEvent, subscriptionEntry{handler: func(args []Arg) (any, error) {
		return nil, nil
	}})
}

// dispatchDefault is the final branch: method FQN lookup and invocation.
func (c *Client) dispatchDefault(ctx context.Context, msg *Message) {
	if msg.TargetModuleName == c.base.moduleName {
		if c.base.handleRelayControl(ctx, msg) {
			return
		}
		c.runHandler(ctx, c.base, msg)
		return
	}
	if dup, ok := c.findDuplicate(msg.TargetModuleName); ok {
		if dup.base.handleRelayControl(ctx, msg) {
			return
		}
		c.runHandler(ctx, dup.base, msg)
		return
	}

	// Nothing owns targetModuleName directly. A relay entry installed by a
	// prior registerAPIHandlers handshake still serves it: its key is the
	// method FQN itself, not this client's own identity.
	key := string(msg.Type)
	if entry, ok := c.base.handlers.get(key); ok && entry.relay {
		c.runHandler(ctx, c.base, msg)
		return
	}
	var relayed bool
	c.forEachDuplicate(func(d *Duplicate) {
		if relayed {
			return
		}
		if entry, ok := d.base.handlers.get(key); ok && entry.relay {
			c.runHandler(ctx, d.base, msg)
			relayed = true
		}
	})
	if relayed {
		return
	}

	c.base.respond(ctx, msg, false,
		[]Arg{handlerFailureData(fmt.Sprintf("There is no handler registered for this type of message: %s", msg.Type))}, "")
}

// runHandler looks up msg.Type in b's handler table, invokes it, and
// responds, preserving the entry's relay flag.
func (c *Client) runHandler(ctx context.Context, b *base, msg *Message) {
	key := string(msg.Type)
	entry, ok := b.handlers.get(key)
	if !ok {
		b.respond(ctx, msg, false,
			[]Arg{handlerFailureData(fmt.Sprintf("There is no handler registered for this type of message: %s", key))}, "")
		return
	}

	relayTarget := ""
	if entry.relay {
		relayTarget = msg.TargetModuleName
	}

	result, err := invokeHandler(entry.fn, msg)
	if err != nil {
		switch {
		case IsBrokerError(err):
			var be *Error
			errors.As(err, &be)
			b.respond(ctx, msg, false, []Arg{handlerFailureData(be.Message)}, relayTarget)
		case IsTimeout(err):
			b.log.Warn("handler timed out", "type", key, "error", err)
			b.respond(ctx, msg, false, []Arg{handlerFailureData("ERROR")}, relayTarget)
		default:
			b.log.Trace("handler failed", "type", key, "error", err)
			b.respond(ctx, msg, false, []Arg{handlerFailureData("ERROR")}, relayTarget)
		}
		return
	}

	data, encErr := responseData(result)
	if encErr != nil {
		b.log.Trace("handler result encoding failed", "type", key, "error", encErr)
		b.respond(ctx, msg, false, []Arg{handlerFailureData("ERROR")}, relayTarget)
		return
	}
	b.respond(ctx, msg, true, data, relayTarget)
}

// invokeHandler calls fn and, if it returns a *RawRequest, stamps it with
// the inbound instigatorId and resolves it immediately.
func invokeHandler(fn HandlerFunc, msg *Message) (any, error) {
	result, err := fn(msg.Data)
	if err != nil {
		return nil, err
	}
	if raw, ok := result.(*RawRequest); ok {
		raw.stamp(msg.InstigatorID)
		return raw.resolve(msg.Data)
	}
	return result, nil
}

// responseData encodes a handler's return value as a response's data list:
// nil becomes an empty list, anything else becomes its sole element.
func responseData(result any) ([]Arg, error) {
	if result == nil {
		return nil, nil
	}
	arg, err := ArgOf(result)
	if err != nil {
		return nil, err
	}
	return []Arg{arg}, nil
}

package broker

import "context"

// Duplicate is a sibling client that shares its parent's transport. It has
// its own module name, handler table, subscription table, and registrars
// set, but never dials or reads for itself — every inbound frame reaches it
// only via the parent's dispatch (dispatch.go).
type Duplicate struct {
	base   *base
	parent *Client
	key    string
}

func (d *Duplicate) socket() Transport { return d.parent.socket() }
func (d *Duplicate) connected() bool   { return d.parent.connected() }

// ModuleName returns this duplicate's own vendor.module identity.
func (d *Duplicate) ModuleName() string { return d.base.moduleName }

// IsConnected delegates to the parent.
func (d *Duplicate) IsConnected() bool { return d.parent.connected() }

// Module returns the ergonomic namespace handle for vendor.module, scoped to
// this duplicate's own tables and bus.
func (d *Duplicate) Module(vendor, module string, opts ...CallOption) *ModuleHandle {
	return newModuleHandle(d.base, vendor, module, opts)
}

// Call is the generic outbound RPC surface backing Module.
func (d *Duplicate) Call(ctx context.Context, vendor, module, method string, args []any, opts ...CallOption) ([]Arg, error) {
	return d.Module(vendor, module, opts...).Call(ctx, method, args...)
}

// RegisterAPIHandler registers a handler against this duplicate's own
// handler table.
func (d *Duplicate) RegisterAPIHandler(name string, fn HandlerFunc) error {
	return d.base.RegisterAPIHandler(name, fn)
}

// RegisterAPIHandlers is the bulk form of RegisterAPIHandler.
func (d *Duplicate) RegisterAPIHandlers(handlers map[string]HandlerFunc) error {
	return d.base.RegisterAPIHandlers(handlers)
}

// SubscribeToAPIEvent subscribes handler to event.
func (d *Duplicate) SubscribeToAPIEvent(ctx context.Context, event FQN, handler HandlerFunc) error {
	return d.base.subscribeToAPIEvent(ctx, event, handler, defaultSubscribeOptions())
}

// UnsubscribeFromAPIEvent removes a previously registered subscription.
func (d *Duplicate) UnsubscribeFromAPIEvent(ctx context.Context, event FQN, handler HandlerFunc) error {
	return d.base.unsubscribeFromAPIEvent(ctx, event, handler, true)
}

// UnsubscribeFromAllEvents drops every subscription this duplicate holds.
func (d *Duplicate) UnsubscribeFromAllEvents() { d.base.unsubscribeFromAllEvents() }

// OnInternalError is Client.OnInternalError, scoped to this duplicate's own
// error signal.
func (d *Duplicate) OnInternalError(fn func(err error)) (cancel func()) {
	return d.base.onInternalError(fn)
}

// OnDisconnect is Client.OnDisconnect, scoped to this duplicate: since a
// duplicate shares its parent's transport, it fires whenever the parent's
// does.
func (d *Duplicate) OnDisconnect(fn func()) (cancel func()) {
	return d.base.onDisconnect(fn)
}

// OnPeerSubscribe is Client.OnPeerSubscribe, scoped to this duplicate's own
// events.
func (d *Duplicate) OnPeerSubscribe(fn func(eventName string)) (cancel func()) {
	return d.base.onPeerSubscribe(fn)
}

// OnPeerUnsubscribe is OnPeerSubscribe's counterpart for unsubscriptions.
func (d *Duplicate) OnPeerUnsubscribe(fn func(eventName string)) (cancel func()) {
	return d.base.onPeerUnsubscribe(fn)
}

// RegisterHandlersToRemote asks target to relay matching method traffic to
// this duplicate.
func (d *Duplicate) RegisterHandlersToRemote(ctx context.Context, target string) error {
	return d.base.registerHandlersToRemote(ctx, target)
}

// Destroy deregisters from every registrar, unsubscribes from every local
// subscription, announces departure, then drops out of the parent's
// live-duplicate set.
func (d *Duplicate) Destroy(ctx context.Context) error {
	d.base.deregisterHandlersFromRemotes(ctx)
	d.base.unsubscribeFromAllEvents()
	_, _ = d.base.send(ctx, &Message{
		Type:      TypeEvent,
		EventName: d.base.moduleName + ".disconnect",
	}, false, sendOptions{})
	d.base.bus.emit("destroy", nil)
	d.base.bus.clear()
	d.parent.dropDuplicate(d.key)
	return nil
}

package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
)

// Client is the parent of a duplicate family and the only member that
// actually owns a Transport: only the parent writes to and reads from it.
// It holds a *base for the table/send/namespace machinery shared with
// Duplicate.
type Client struct {
	base *base

	mu               sync.Mutex
	transport        Transport
	live             bool
	destroyed        bool
	serverModuleName string

	host     string
	port     int
	path     string
	tls      bool
	dialOpts DialOptions

	duplicates *haxmap.Map[string, *Duplicate]
	stopCh     chan struct{}
}

// NewClient builds a disconnected Client for moduleName. log may be nil, in
// which case Silent() is used.
func NewClient(moduleName string, cfg Config, log Logger) *Client {
	if log == nil {
		log = Silent()
	}
	c := &Client{
		duplicates: haxmap.New[string, *Duplicate](),
		stopCh:     make(chan struct{}),
	}
	c.base = newBase(moduleName, c, cfg, log)
	return c
}

func (c *Client) socket() Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.live {
		return nil
	}
	return c.transport
}

func (c *Client) connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// ModuleName returns this client's own vendor.module identity.
func (c *Client) ModuleName() string { return c.base.moduleName }

// IsConnected reports whether the transport is currently open.
func (c *Client) IsConnected() bool { return c.connected() }

// Module returns the ergonomic namespace handle for vendor.module.
func (c *Client) Module(vendor, module string, opts ...CallOption) *ModuleHandle {
	return newModuleHandle(c.base, vendor, module, opts)
}

// Call is the generic outbound RPC surface backing Module.
func (c *Client) Call(ctx context.Context, vendor, module, method string, args []any, opts ...CallOption) ([]Arg, error) {
	return c.Module(vendor, module, opts...).Call(ctx, method, args...)
}

// RegisterAPIHandler registers a handler for name under this client's own
// vendor.module namespace.
func (c *Client) RegisterAPIHandler(name string, fn HandlerFunc) error {
	return c.base.RegisterAPIHandler(name, fn)
}

// RegisterAPIHandlers is the bulk form of RegisterAPIHandler.
func (c *Client) RegisterAPIHandlers(handlers map[string]HandlerFunc) error {
	return c.base.RegisterAPIHandlers(handlers)
}

// SubscribeToAPIEvent subscribes handler to event.
func (c *Client) SubscribeToAPIEvent(ctx context.Context, event FQN, handler HandlerFunc) error {
	return c.base.subscribeToAPIEvent(ctx, event, handler, defaultSubscribeOptions())
}

// UnsubscribeFromAPIEvent removes a previously registered subscription.
func (c *Client) UnsubscribeFromAPIEvent(ctx context.Context, event FQN, handler HandlerFunc) error {
	return c.base.unsubscribeFromAPIEvent(ctx, event, handler, true)
}

// UnsubscribeFromAllEvents drops every subscription this client holds.
func (c *Client) UnsubscribeFromAllEvents() { c.base.unsubscribeFromAllEvents() }

// RegisterHandlersToRemote asks target to relay matching method traffic to
// this client.
func (c *Client) RegisterHandlersToRemote(ctx context.Context, target string) error {
	return c.base.registerHandlersToRemote(ctx, target)
}

// OnInternalError opts this client into silent error resolution: once fn is
// registered, a timed-out or failed call resolves nil instead of returning
// its error, and fn is called with that error instead. Call the returned
// cancel to opt back out; as long as any OnInternalError registration
// remains, the opt-in applies to every call on this client.
func (c *Client) OnInternalError(fn func(err error)) (cancel func()) {
	return c.base.onInternalError(fn)
}

// OnDisconnect registers fn to be called every time this client's transport
// goes down, whether from a read/write error or an explicit Close.
func (c *Client) OnDisconnect(fn func()) (cancel func()) {
	return c.base.onDisconnect(fn)
}

// OnPeerSubscribe registers fn to be called whenever a remote module
// subscribes to one of this client's own events, with the local event name
// (not the full vendor.module.event FQN) it subscribed to.
func (c *Client) OnPeerSubscribe(fn func(eventName string)) (cancel func()) {
	return c.base.onPeerSubscribe(fn)
}

// OnPeerUnsubscribe is OnPeerSubscribe's counterpart for unsubscriptions.
func (c *Client) OnPeerUnsubscribe(fn func(eventName string)) (cancel func()) {
	return c.base.onPeerUnsubscribe(fn)
}

// Ping sends an application-level ping and awaits the hub's acknowledgement.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.base.send(ctx, &Message{Type: TypePing}, false, sendOptions{})
	return err
}

// GetConnectPromise blocks until the transport is open, this client is
// destroyed, or ctx is done — whichever fires first.
func (c *Client) GetConnectPromise(ctx context.Context) error {
	if c.connected() {
		return nil
	}
	name, _, err := waitForEvents(ctx, c.base.bus, []string{"connect", "destroy"}, 0)
	if err != nil {
		return err
	}
	if name == "destroy" {
		return ErrDestroyed
	}
	return nil
}

// Connect dials host:port/path (wss:// if tls) and starts the read loop.
// Subsequent reconnects reuse these parameters.
func (c *Client) Connect(ctx context.Context, host string, port int, path string, tls bool, opts DialOptions) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	c.host, c.port, c.path, c.tls, c.dialOpts = host, port, path, tls, opts
	c.mu.Unlock()
	return c.dial(ctx)
}

// ForceReconnect tears down the current transport, which drives the normal
// close → reconnect path.
func (c *Client) ForceReconnect() error {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t == nil {
		return ErrNotConnected
	}
	return t.Close()
}

// Destroy closes the transport, drops all internal signal listeners, and
// marks this client destroyed so no reconnect is scheduled.
func (c *Client) Destroy() error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil
	}
	c.destroyed = true
	c.live = false
	t := c.transport
	c.mu.Unlock()

	close(c.stopCh)
	c.base.bus.emit("destroy", nil)
	c.base.bus.clear()
	if t != nil {
		return t.Close()
	}
	return nil
}

// Duplicate creates a new sibling client sharing this client's transport.
func (c *Client) Duplicate(moduleName string) (*Duplicate, error) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil, ErrDestroyed
	}
	c.mu.Unlock()

	d := &Duplicate{parent: c, key: newID()}
	d.base = newBase(moduleName, d, c.base.cfg, c.base.log)
	c.duplicates.Set(d.key, d)

	if c.connected() {
		ctx := context.Background()
		d.base.bus.emit("connect", nil)
		c.pingServer(ctx, d.base)
		c.reregisterHandlers(ctx, d.base)
	}
	return d, nil
}

func (c *Client) dropDuplicate(key string) {
	c.duplicates.Del(key)
}

func (c *Client) forEachDuplicate(fn func(*Duplicate)) {
	c.duplicates.ForEach(func(_ string, d *Duplicate) bool {
		fn(d)
		return true
	})
}

// findDuplicate returns the live duplicate whose own moduleName equals
// target.
func (c *Client) findDuplicate(target string) (*Duplicate, bool) {
	var found *Duplicate
	c.duplicates.ForEach(func(_ string, d *Duplicate) bool {
		if d.base.moduleName == target {
			found = d
			return false
		}
		return true
	})
	return found, found != nil
}

func (c *Client) dial(ctx context.Context) error {
	c.mu.Lock()
	host, port, path, tls, opts := c.host, c.port, c.path, c.tls, c.dialOpts
	c.mu.Unlock()

	t, err := DialWebSocket(ctx, host, port, path, tls, opts)
	if err != nil {
		return fmt.Errorf("broker: connect: %w", err)
	}

	c.mu.Lock()
	c.transport = t
	c.live = true
	c.mu.Unlock()

	c.base.bus.emit("connect", nil)
	c.reregisterHandlers(ctx, c.base)
	c.forEachDuplicate(func(d *Duplicate) {
		d.base.bus.emit("connect", nil)
		c.pingServer(ctx, d.base)
		c.reregisterHandlers(ctx, d.base)
	})

	go c.readLoop(t)
	return nil
}

// reregisterHandlers re-sends registerAPIHandlers to every remote b has
// previously registered with.
func (c *Client) reregisterHandlers(ctx context.Context, b *base) {
	for _, target := range b.registrars.list() {
		if err := b.registerHandlersToRemote(ctx, target); err != nil {
			b.log.Debug("re-register failed", "target", target, "error", err)
		}
	}
}

// pingServer announces b's identity to the hub without awaiting a
// correlated response — used for duplicates, which the hub only learns
// about once they ping.
func (c *Client) pingServer(ctx context.Context, b *base) {
	t := b.owner.socket()
	if t == nil {
		return
	}
	msg := &Message{Type: TypePing, ModuleName: b.moduleName}
	msg.ID = newID()
	msg.stampTime(time.Now())
	if err := t.WriteMessage(ctx, msg); err != nil {
		b.log.Debug("ping failed", "error", err)
	}
}

func (c *Client) readLoop(t Transport) {
	ctx := context.Background()
	for {
		msg, err := t.ReadMessage(ctx)
		if err != nil {
			c.handleClose()
			return
		}
		// Dispatch off this goroutine: a handler invoked from here may itself
		// make an outbound call and block on its response, and that response
		// can only be delivered by this same read loop.
		go c.dispatch(ctx, msg)
	}
}

// handleClose tears down signal state on transport loss and, unless this
// client was destroyed, schedules a reconnect.
func (c *Client) handleClose() {
	c.mu.Lock()
	was := c.live
	c.live = false
	destroyed := c.destroyed
	server := c.serverModuleName
	c.mu.Unlock()

	if !was {
		return
	}

	c.base.bus.emit("disconnect", nil)
	if server != "" {
		c.base.subscriptions.removeAll(server + ".moduleconnect")
	}
	c.forEachDuplicate(func(d *Duplicate) {
		d.base.bus.emit("disconnect", nil)
	})

	if destroyed {
		return
	}
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	go func() {
		timer := time.NewTimer(reconnectDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-c.stopCh:
			return
		}

		c.mu.Lock()
		destroyed := c.destroyed
		c.mu.Unlock()
		if destroyed {
			return
		}

		if err := c.dial(context.Background()); err != nil {
			c.base.log.Warn("reconnect failed", "error", err)
			c.scheduleReconnect()
		}
	}()
}

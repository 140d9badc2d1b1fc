package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alphadose/haxmap"
)

// socketOwner is whatever actually holds the live Transport: a *Client owns
// one directly, a *Duplicate delegates to its parent.
type socketOwner interface {
	socket() Transport
	connected() bool
}

// base holds the tables, outbound send with response correlation, and the
// namespace façade's backing calls. Both *Client and *Duplicate hold one in
// their base field.
type base struct {
	moduleName string
	owner      socketOwner
	cfg        Config
	log        Logger

	handlers      *handlerTable
	subscriptions *subscriptionTable
	registrars    *registrarSet

	bus     *signalBus
	pending *haxmap.Map[string, chan *Message]
}

func newBase(moduleName string, owner socketOwner, cfg Config, log Logger) *base {
	return &base{
		moduleName:    moduleName,
		owner:         owner,
		cfg:           cfg,
		log:           log,
		handlers:      newHandlerTable(),
		subscriptions: newSubscriptionTable(),
		registrars:    newRegistrarSet(),
		bus:           newSignalBus(),
		pending:       haxmap.New[string, chan *Message](),
	}
}

// sendOptions carries the per-call overrides available from a ModuleHandle
// (callTimeout, excludeClients) down into send.
type sendOptions struct {
	timeoutOverride time.Duration
	excludedClients []string
}

// send stamps id/time/moduleName, serializes, logs at trace level (but still
// sends) on oversize packets, and — unless the message is an event or a response —
// awaits the correlated response up to its effective deadline.
func (b *base) send(ctx context.Context, msg *Message, relayed bool, opts sendOptions) ([]Arg, error) {
	msg.ID = newID()
	msg.stampTime(time.Now())
	if !relayed {
		msg.ModuleName = b.moduleName
	}
	// relayed sends preserve whatever ModuleName the caller already set,
	// so the far side still sees the original sender.

	encoded, err := msg.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("broker: encode message: %w", err)
	}
	if len(encoded) > b.cfg.MaxPacketSize {
		b.log.Trace("outbound packet exceeds configured maximum", "size", len(encoded), "max", b.cfg.MaxPacketSize, "type", msg.Type)
	}

	transport := b.owner.socket()
	if transport == nil {
		return nil, ErrNotConnected
	}
	if err := transport.WriteMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("broker: write message: %w", err)
	}

	if msg.Type == TypeEvent || msg.Type == TypeResponse {
		return nil, nil
	}

	return b.awaitResponse(msg, opts.timeoutOverride)
}

// awaitResponse blocks for the response matching msg.ID, honoring the
// effective timeout and the opt-in error-emission escape hatch.
func (b *base) awaitResponse(msg *Message, overridden time.Duration) ([]Arg, error) {
	deadline := b.cfg.effectiveTimeout(overridden, time.Duration(msg.Timeout)*time.Millisecond)

	waitCh := make(chan *Message, 1)
	b.pending.Set(msg.ID, waitCh)
	defer b.pending.Del(msg.ID)

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case resp := <-waitCh:
		if resp.Success != nil && !*resp.Success {
			return nil, b.maybeEmitError(errorFromResponse(resp.ModuleName, string(msg.Type), resp))
		}
		return resp.Data, nil
	case <-timer.C:
		return nil, b.maybeEmitError(TimeoutError(b.moduleName, string(msg.Type)))
	}
}

// maybeEmitError is the opt-in emission path: if anything is listening on
// the internal "error" signal — a one-shot waiter or an OnInternalError
// registration — publish there and resolve nil instead of returning the
// error, so callers that opted in don't also have to handle a returned
// error. err is marshaled whole (Kind, Message, Sender) rather than just
// its message, so onInternalError can hand the listener back a real *Error
// instead of a bare string.
func (b *base) maybeEmitError(err *Error) error {
	if !b.bus.hasListener("error") {
		return err
	}
	arg, encErr := ArgOf(err)
	if encErr != nil {
		return err
	}
	b.bus.emit("error", []Arg{arg})
	return nil
}

// onInternalError registers fn as a persistent listener on the "error"
// signal, backing the public Client/Duplicate.OnInternalError hook.
func (b *base) onInternalError(fn func(err error)) func() {
	return b.bus.on("error", func(args []Arg) {
		fn(decodeBusError(args))
	})
}

// decodeBusError reconstructs the *Error maybeEmitError marshaled onto the
// bus, or a plain error if args is malformed — which should not happen,
// since the only producer is maybeEmitError itself.
func decodeBusError(args []Arg) error {
	if len(args) == 0 {
		return errors.New("broker: internal error signal carried no payload")
	}
	var payload struct {
		Kind    Kind
		Message string
		Sender  string
	}
	if err := args[0].Decode(&payload); err != nil {
		return fmt.Errorf("broker: malformed internal error signal: %w", err)
	}
	return &Error{Kind: payload.Kind, Message: payload.Message, Sender: payload.Sender}
}

// onDisconnect registers fn as a persistent listener on the "disconnect"
// signal, backing the public Client/Duplicate.OnDisconnect hook.
func (b *base) onDisconnect(fn func()) func() {
	return b.bus.on("disconnect", func(args []Arg) { fn() })
}

// onPeerSubscribe and onPeerUnsubscribe register fn as a persistent listener
// on the local "subscribe"/"unsubscribe" signal dispatchSubscribeControl
// emits whenever a remote module (un)subscribes to one of this base's own
// events, decoding the eventName dispatchSubscribeControl encoded.
func (b *base) onPeerSubscribe(fn func(eventName string)) func() {
	return b.bus.on("subscribe", peerSubscriptionListener(fn))
}

func (b *base) onPeerUnsubscribe(fn func(eventName string)) func() {
	return b.bus.on("unsubscribe", peerSubscriptionListener(fn))
}

func peerSubscriptionListener(fn func(eventName string)) func([]Arg) {
	return func(args []Arg) {
		if len(args) == 0 {
			return
		}
		var payload struct {
			EventName string `json:"eventName"`
		}
		if err := args[0].Decode(&payload); err != nil {
			return
		}
		fn(payload.EventName)
	}
}

// deliverResponse routes an inbound `response` frame to its waiter, if any
// is still pending. A response for an already-timed-out id finds no waiter
// and is dropped. Correlation is entirely by request id through the pending
// table; unlike a late-bound name on the signal bus, a pending table entry
// is deleted outright on timeout (awaitResponse's defer), so a late frame
// has nothing to find rather than an orphaned listener to leak.
func (b *base) deliverResponse(msg *Message) {
	if ch, ok := b.pending.Get(msg.RequestID); ok {
		select {
		case ch <- msg:
		default:
		}
	}
}

// respond replies to original. originalTargetModuleName, when non-empty, is
// used as the outbound ModuleName instead of b.moduleName — the relay case,
// where the far side must see the response as coming from the original
// target module it addressed rather than from this relaying client.
func (b *base) respond(ctx context.Context, original *Message, success bool, data []Arg, originalTargetModuleName string) {
	transport := b.owner.socket()
	if transport == nil {
		return // silent no-op on a dead socket
	}
	moduleName := b.moduleName
	if originalTargetModuleName != "" {
		moduleName = originalTargetModuleName
	}
	resp := &Message{
		Type:             TypeResponse,
		RequestID:        original.ID,
		Timeout:          original.Timeout,
		InstigatorID:     original.InstigatorID,
		TargetModuleName: original.ModuleName,
		ModuleName:       moduleName,
		Success:          &success,
		Data:             data,
	}
	resp.ID = newID()
	resp.stampTime(time.Now())
	if err := transport.WriteMessage(ctx, resp); err != nil {
		b.log.Trace("failed to write response", "error", err)
	}
}

// RegisterAPIHandler installs fn at <self>.<localName> if absent. Returns
// ErrReservedName or ErrHandlerExists instead of a bare bool so callers get
// a reason, while errors.Is(err, ErrHandlerExists) lets callers still branch
// on "was it already installed".
func (b *base) RegisterAPIHandler(localName string, fn HandlerFunc) error {
	if isReservedLocalName(localName) {
		return fmt.Errorf("%w: %q", ErrReservedName, localName)
	}
	vendor, module := splitModule(b.moduleName)
	key := string(NewMethodFQN(vendor, module, localName))
	if !b.handlers.insert(key, handlerEntry{fn: fn}) {
		return fmt.Errorf("%w: %q", ErrHandlerExists, key)
	}
	return nil
}

// RegisterAPIHandlers registers every entry of handlers, stopping at the
// first failure; already-installed entries from earlier in the map are not
// rolled back, mirroring the per-key, independent nature of the underlying
// table.
func (b *base) RegisterAPIHandlers(handlers map[string]HandlerFunc) error {
	for name, fn := range handlers {
		if err := b.RegisterAPIHandler(name, fn); err != nil {
			return err
		}
	}
	return nil
}

// subscribeOptions mirrors subscribe(eventFQN, handler, {sendMessage, once}).
type subscribeOptions struct {
	sendMessage bool
	once        bool
}

func defaultSubscribeOptions() subscribeOptions {
	return subscribeOptions{sendMessage: true}
}

// subscribeToAPIEvent registers handler for event and, unless opts disables
// it, notifies the hub with a subscribe frame.
func (b *base) subscribeToAPIEvent(ctx context.Context, event FQN, handler HandlerFunc, opts subscribeOptions) error {
	b.subscriptions.add(string(event), subscriptionEntry{handler: handler, once: opts.once})
	if opts.sendMessage {
		msg := &Message{
			Type:             TypeSubscribe,
			EventName:        string(event),
			TargetModuleName: event.ModuleName(),
		}
		if _, err := b.send(ctx, msg, false, sendOptions{}); err != nil {
			return err
		}
	}
	return nil
}

// unsubscribeFromAPIEvent removes a subscription. A nil handler deletes the
// whole entry; a non-nil handler removes only that listener.
func (b *base) unsubscribeFromAPIEvent(ctx context.Context, event FQN, handler HandlerFunc, sendMessage bool) error {
	if handler == nil {
		b.subscriptions.removeAll(string(event))
	} else {
		b.subscriptions.removeHandler(string(event), handler)
	}
	if sendMessage {
		msg := &Message{
			Type:             TypeUnsubscribe,
			EventName:        string(event),
			TargetModuleName: event.ModuleName(),
		}
		if _, err := b.send(ctx, msg, false, sendOptions{}); err != nil {
			return err
		}
	}
	return nil
}

// unsubscribeFromAllEvents removes every subscription this client holds,
// without notifying the hub (used during duplicate destroy, which sends its
// own explicit teardown messages instead).
func (b *base) unsubscribeFromAllEvents() {
	for _, event := range b.subscriptions.events() {
		b.subscriptions.removeAll(event)
	}
}

// registerHandlersToRemote records target in the registrars set and asks it
// to relay matching traffic here.
func (b *base) registerHandlersToRemote(ctx context.Context, target string) error {
	b.registrars.add(target)
	keys := b.handlers.keys()
	args := make([]Arg, len(keys))
	for i, k := range keys {
		args[i], _ = ArgOf(k)
	}
	msg := &Message{
		Type:             MessageType(target + ".registerAPIHandlers"),
		Data:             args,
		TargetModuleName: target,
	}
	_, err := b.send(ctx, msg, false, sendOptions{})
	return err
}

// deregisterHandlersFromRemotes asks every current registrar to stop
// relaying traffic here.
func (b *base) deregisterHandlersFromRemotes(ctx context.Context) {
	for _, registrar := range b.registrars.list() {
		msg := &Message{
			Type:             MessageType(registrar + ".deregisterAPIHandlers"),
			TargetModuleName: registrar,
		}
		if _, err := b.send(ctx, msg, false, sendOptions{}); err != nil {
			b.log.Debug("failed to deregister from remote", "registrar", registrar, "error", err)
		}
	}
}

// registerAPIHandlersKey and deregisterAPIHandlersKey are the method FQNs a
// registerHandlersToRemote/deregisterHandlersFromRemotes caller addresses on
// this base, and the keys handleRelayControl recognizes on the receiving
// side of that handshake.
func (b *base) registerAPIHandlersKey() string   { return b.moduleName + ".registerAPIHandlers" }
func (b *base) deregisterAPIHandlersKey() string { return b.moduleName + ".deregisterAPIHandlers" }

// handleRelayControl intercepts the two control messages
// registerHandlersToRemote/deregisterHandlersFromRemotes send to a
// registrar. It reports whether msg was one of them, so the caller can fall
// through to the ordinary handler table lookup otherwise.
//
// registerAPIHandlers installs a relay entry for every key the asker
// advertised, forwarding matching calls back to msg.ModuleName.
// deregisterAPIHandlers drops every relay entry previously installed for
// that asker.
func (b *base) handleRelayControl(ctx context.Context, msg *Message) bool {
	switch string(msg.Type) {
	case b.registerAPIHandlersKey():
		asker := msg.ModuleName
		for _, arg := range msg.Data {
			var key string
			if err := arg.Decode(&key); err != nil {
				continue
			}
			b.handlers.put(key, handlerEntry{fn: b.relayForwarder(asker, key), relay: true, asker: asker})
		}
		b.respond(ctx, msg, true, nil, "")
		return true
	case b.deregisterAPIHandlersKey():
		asker := msg.ModuleName
		b.handlers.deleteWhere(func(_ string, entry handlerEntry) bool {
			return entry.relay && entry.asker == asker
		})
		b.respond(ctx, msg, true, nil, "")
		return true
	}
	return false
}

// relayForwarder builds the handler installed for a relayed key: it forwards
// the call to asker, carrying the instigator across the hop via a
// RawRequest, and returns asker's response payload as its own. The caller
// (runHandler) sees entry.relay and passes msg.TargetModuleName back into
// respond so the original caller sees the response as coming from the
// module it actually addressed, not from this relaying client.
//
// This send is a fresh outbound request, not a retransmission of the
// inbound frame, so it is stamped with this client's own moduleName
// (relayed=false): the asker's eventual response is targeted back at this
// connection, where the pending table can correlate it. relayed=true is
// reserved for literally forwarding a frame's original ModuleName verbatim;
// it has no call site here because nothing in this client retransmits a
// frame byte-for-byte rather than originating its own.
func (b *base) relayForwarder(asker, key string) HandlerFunc {
	return func(args []Arg) (any, error) {
		return NewRawRequest(func(instigatorID string, data []Arg) (any, error) {
			resp, err := b.send(context.Background(), &Message{
				Type:             MessageType(key),
				Data:             data,
				TargetModuleName: asker,
				InstigatorID:     instigatorID,
			}, false, sendOptions{})
			if err != nil {
				return nil, err
			}
			if len(resp) == 0 {
				return nil, nil
			}
			return resp[0], nil
		}), nil
	}
}

// splitModule splits a "vendor.module" string into its two components for
// building a method FQN; moduleName is always already in that shape by
// construction (validated at client creation).
func splitModule(moduleName string) (vendor, module string) {
	vendor, module, _ = strings.Cut(moduleName, ".")
	return vendor, module
}

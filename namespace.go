package broker

import (
	"context"
	"fmt"
	"time"
)

// ModuleHandle is the per-module call surface that Client.Call and
// Duplicate.Call are built on: the Go stand-in for
// api.<vendor>.<module>. It carries the {timeout, excludedClients} defaults
// a dynamic proxy would close over, exposed here as methods instead of
// intercepted property access.
type ModuleHandle struct {
	b      *base
	vendor string
	module string

	timeout         time.Duration
	excludedClients []string
}

// CallOption configures a single Client.Module or Duplicate.Module call.
type CallOption func(*ModuleHandle)

// WithTimeout overrides a ModuleHandle's default timeout (2000ms).
func WithTimeout(d time.Duration) CallOption {
	return func(h *ModuleHandle) { h.timeout = d }
}

// WithExcludedClients overrides a ModuleHandle's excludedClients default
// (empty).
func WithExcludedClients(clients []string) CallOption {
	return func(h *ModuleHandle) { h.excludedClients = clients }
}

func newModuleHandle(b *base, vendor, module string, opts []CallOption) *ModuleHandle {
	h := &ModuleHandle{b: b, vendor: vendor, module: module, timeout: 2000 * time.Millisecond}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *ModuleHandle) moduleFQN() FQN { return NewModuleFQN(h.vendor, h.module) }

func (h *ModuleHandle) isOwnModule() bool {
	return string(h.moduleFQN()) == h.b.moduleName
}

// Call sends an outbound RPC and awaits the response.
func (h *ModuleHandle) Call(ctx context.Context, method string, args ...any) ([]Arg, error) {
	data := make([]Arg, len(args))
	for i, a := range args {
		encoded, err := ArgOf(a)
		if err != nil {
			return nil, fmt.Errorf("broker: encode argument %d: %w", i, err)
		}
		data[i] = encoded
	}
	msg := &Message{
		Type:             MessageType(NewMethodFQN(h.vendor, h.module, method)),
		TargetModuleName: string(h.moduleFQN()),
		Data:             data,
		Timeout:          h.timeout.Milliseconds(),
		ExcludedClients:  h.excludedClients,
	}
	return h.b.send(ctx, msg, false, sendOptions{timeoutOverride: h.timeout, excludedClients: h.excludedClients})
}

// Emit sends a fire-and-forget event, only permitted when this handle's
// module equals the caller's own module.
func (h *ModuleHandle) Emit(ctx context.Context, eventName string, args ...any) error {
	if !h.isOwnModule() {
		return fmt.Errorf("%w: %s cannot emit as %s", ErrCrossModuleEmit, h.b.moduleName, h.moduleFQN())
	}
	data := make([]Arg, len(args))
	for i, a := range args {
		encoded, err := ArgOf(a)
		if err != nil {
			return fmt.Errorf("broker: encode argument %d: %w", i, err)
		}
		data[i] = encoded
	}
	msg := &Message{
		Type:            TypeEvent,
		EventName:       string(NewMethodFQN(h.vendor, h.module, eventName)),
		Data:            data,
		ExcludedClients: h.excludedClients,
	}
	_, err := h.b.send(ctx, msg, false, sendOptions{})
	return err
}

// On subscribes handler to eventName under this handle's module. Failures
// are logged, not returned, since a failed subscribe send is the only way
// On can fail.
func (h *ModuleHandle) On(ctx context.Context, eventName string, handler HandlerFunc) {
	event := NewMethodFQN(h.vendor, h.module, eventName)
	if err := h.b.subscribeToAPIEvent(ctx, event, handler, defaultSubscribeOptions()); err != nil {
		h.b.log.Debug("subscribe failed", "event", event, "error", err)
	}
}

// Once subscribes handler for a single delivery of eventName. If the event
// does not arrive within timeout (default 5 minutes, to avoid leaking the
// subscription forever) the handler is removed locally without notifying
// the hub, so other local listeners on the same event are undisturbed.
func (h *ModuleHandle) Once(ctx context.Context, eventName string, handler HandlerFunc, timeout ...time.Duration) {
	deadline := defaultOnceTimeout
	if len(timeout) > 0 && timeout[0] > 0 {
		deadline = timeout[0]
	}
	event := NewMethodFQN(h.vendor, h.module, eventName)

	fired := make(chan struct{})
	wrapped := func(args []Arg) (any, error) {
		defer close(fired)
		return handler(args)
	}

	if err := h.b.subscribeToAPIEvent(ctx, event, wrapped, subscribeOptions{sendMessage: true, once: true}); err != nil {
		h.b.log.Debug("subscribe failed", "event", event, "error", err)
		return
	}

	go func() {
		timer := time.NewTimer(deadline)
		defer timer.Stop()
		select {
		case <-fired:
		case <-timer.C:
			_ = h.b.unsubscribeFromAPIEvent(ctx, event, wrapped, false)
		}
	}()
}

// Off removes a subscription: with handler, just that listener; without,
// every listener for eventName.
func (h *ModuleHandle) Off(ctx context.Context, eventName string, handler HandlerFunc) error {
	event := NewMethodFQN(h.vendor, h.module, eventName)
	return h.b.unsubscribeFromAPIEvent(ctx, event, handler, true)
}

// CallTimeout returns a copy of h with only Timeout overridden.
func (h *ModuleHandle) CallTimeout(d time.Duration) *ModuleHandle {
	clone := *h
	clone.timeout = d
	return &clone
}

// ExcludeClients returns a copy of h with clients appended to
// ExcludedClients.
func (h *ModuleHandle) ExcludeClients(clients ...string) *ModuleHandle {
	clone := *h
	clone.excludedClients = append(append([]string{}, h.excludedClients...), clients...)
	return &clone
}

// Register installs fn as a local handler for method, only permitted when
// targeting the caller's own module.
func (h *ModuleHandle) Register(method string, fn HandlerFunc) error {
	if !h.isOwnModule() {
		return fmt.Errorf("%w: cannot register a handler on %s from %s", ErrCrossModuleEmit, h.moduleFQN(), h.b.moduleName)
	}
	return h.b.RegisterAPIHandler(method, fn)
}

// RegisterAll bulk-registers every entry of handlers.
func (h *ModuleHandle) RegisterAll(handlers map[string]HandlerFunc) error {
	if !h.isOwnModule() {
		return fmt.Errorf("%w: cannot register handlers on %s from %s", ErrCrossModuleEmit, h.moduleFQN(), h.b.moduleName)
	}
	return h.b.RegisterAPIHandlers(handlers)
}

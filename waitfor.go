package broker

import (
	"context"
	"reflect"
	"time"
)

// waitForEvents resolves with the first of names to fire on bus, fails with
// a *Error of KindTimeout if timeout elapses first (timeout <= 0 means no
// timer is armed), or returns ctx.Err() if ctx is done first. Every
// listener this call installs — including on events that never fired — is
// removed before returning.
//
// Go's select statement is static, so waiting on a caller-supplied slice of
// channels plus an optional timer goes through reflect.Select; the set of
// named signals in a single call is small (a handful), so the reflection
// cost is negligible against the I/O it's guarding. GetConnectPromise uses
// this to resolve on whichever of "connect" or "destroy" fires first,
// rather than only watching "connect" and leaving a destroyed-while-
// connecting caller blocked until its own context deadline.
func waitForEvents(ctx context.Context, bus *signalBus, names []string, timeout time.Duration) (string, []Arg, error) {
	if len(names) == 0 {
		panic("broker: waitForEvents requires at least one event name")
	}

	type waiter struct {
		name   string
		ch     <-chan signal
		cancel func()
	}
	waiters := make([]waiter, len(names))
	for i, name := range names {
		ch, cancel := bus.subscribeOnce(name)
		waiters[i] = waiter{name: name, ch: ch, cancel: cancel}
	}
	cancelAll := func() {
		for _, w := range waiters {
			w.cancel()
		}
	}

	cases := make([]reflect.SelectCase, 0, len(waiters)+2)
	for _, w := range waiters {
		cases = append(cases, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(w.ch),
		})
	}

	ctxCase := len(cases)
	cases = append(cases, reflect.SelectCase{
		Dir:  reflect.SelectRecv,
		Chan: reflect.ValueOf(ctx.Done()),
	})

	var timer *time.Timer
	timerCase := -1
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		timerCase = len(cases)
		cases = append(cases, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(timer.C),
		})
	}

	chosen, recv, _ := reflect.Select(cases)
	cancelAll()

	if chosen == ctxCase {
		return "", nil, ctx.Err()
	}
	if timer != nil && chosen == timerCase {
		return "", nil, TimeoutError("", "waitForEvents")
	}

	sig := recv.Interface().(signal)
	return sig.name, sig.args, nil
}

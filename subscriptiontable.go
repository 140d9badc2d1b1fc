package broker

import (
	"reflect"
	"sync"

	"github.com/alphadose/haxmap"
)

// subscriptionEntry is one listener registered against an event FQN.
type subscriptionEntry struct {
	handler HandlerFunc
	once    bool
}

// subscriptionList is the ordered, mutex-guarded list of listeners for a
// single event FQN. Insertion order is preserved; handler identity matters
// for targeted removal, so HandlerFunc values are compared by pointer via
// reflect.Value.Pointer (Go has no way to compare func values with ==).
//
// This conflates distinct closures created from the same source location —
// they share a code pointer — so a caller that registers the same inline
// closure twice for unsubscribe purposes can't target one over the other.
// Accepted as-is: callers needing that precision should capture and reuse
// the original HandlerFunc value instead of re-declaring the closure.
type subscriptionList struct {
	mu      sync.Mutex
	entries []subscriptionEntry
}

func (l *subscriptionList) append(e subscriptionEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

// removeFirstMatching removes the first entry whose handler matches fn.
func (l *subscriptionList) removeFirstMatching(fn HandlerFunc) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	target := reflect.ValueOf(fn).Pointer()
	for i, e := range l.entries {
		if reflect.ValueOf(e.handler).Pointer() == target {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return true
		}
	}
	return false
}

// removeOnceMatching removes the first still-`once` entry matching fn. Used
// after invoking a `once` handler; matches by handler identity rather than
// by index so a concurrent unsubscribe racing the delivery can't desync it.
func (l *subscriptionList) removeOnceMatching(fn HandlerFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	target := reflect.ValueOf(fn).Pointer()
	for i, e := range l.entries {
		if e.once && reflect.ValueOf(e.handler).Pointer() == target {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return
		}
	}
}

func (l *subscriptionList) snapshot() []subscriptionEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]subscriptionEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *subscriptionList) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// subscriptionTable is the per-client subscription table, keyed by event
// FQN. Grounded on casualjim-bubo/internal/broker/local.go's haxmap-keyed
// topic registry with GetOrCompute populating missing entries lazily.
type subscriptionTable struct {
	topics *haxmap.Map[string, *subscriptionList]
}

func newSubscriptionTable() *subscriptionTable {
	return &subscriptionTable{topics: haxmap.New[string, *subscriptionList]()}
}

func (t *subscriptionTable) add(event string, entry subscriptionEntry) {
	list, _ := t.topics.GetOrCompute(event, func() *subscriptionList {
		return &subscriptionList{}
	})
	list.append(entry)
}

// removeHandler removes the first listener matching fn for event, and
// deletes the event's entry if that leaves it empty.
func (t *subscriptionTable) removeHandler(event string, fn HandlerFunc) {
	list, ok := t.topics.Get(event)
	if !ok {
		return
	}
	list.removeFirstMatching(fn)
	if list.len() == 0 {
		t.topics.Del(event)
	}
}

// removeAll deletes the entire entry for event.
func (t *subscriptionTable) removeAll(event string) {
	t.topics.Del(event)
}

// has reports whether event has at least one listener.
func (t *subscriptionTable) has(event string) bool {
	list, ok := t.topics.Get(event)
	return ok && list.len() > 0
}

// events returns every event FQN currently subscribed, for resubscription
// after reconnect.
func (t *subscriptionTable) events() []string {
	var out []string
	t.topics.ForEach(func(event string, list *subscriptionList) bool {
		if list.len() > 0 {
			out = append(out, event)
		}
		return true
	})
	return out
}

// deliver invokes every listener registered for event with args, removing
// `once` entries after invocation completes. A handler panic is isolated,
// logged, and does not interrupt remaining handlers.
func (t *subscriptionTable) deliver(log Logger, event string, args []Arg) {
	list, ok := t.topics.Get(event)
	if !ok {
		return
	}
	entries := list.snapshot()
	for _, e := range entries {
		func(entry subscriptionEntry) {
			defer func() {
				if r := recover(); r != nil {
					log.Warn("event handler panicked", "event", event, "panic", r)
				}
			}()
			if _, err := entry.handler(args); err != nil {
				log.Warn("event handler returned an error", "event", event, "error", err)
			}
			if entry.once {
				list.removeOnceMatching(entry.handler)
			}
		}(e)
	}
	if list.len() == 0 {
		t.topics.Del(event)
	}
}

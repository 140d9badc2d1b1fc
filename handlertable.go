package broker

import (
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// handlerTable is the per-client handler table. Insertion is one-shot —
// RegisterAPIHandler rejects a second registration of the same key — and the
// table never shrinks except on destroy or relay teardown, so an
// insertion-ordered map (rather than a haxmap, which is built for high
// concurrent churn) is the right shape: we mostly read and iterate, and
// iteration order matters for registerHandlersToRemote's key list.
type handlerTable struct {
	mu sync.RWMutex
	m  *orderedmap.OrderedMap[string, handlerEntry]
}

func newHandlerTable() *handlerTable {
	return &handlerTable{m: orderedmap.New[string, handlerEntry]()}
}

// insert installs entry at key if absent. Returns false if key was already
// present, leaving the existing entry untouched.
func (t *handlerTable) insert(key string, entry handlerEntry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.m.Get(key); exists {
		return false
	}
	t.m.Set(key, entry)
	return true
}

// put installs entry at key unconditionally, overwriting any prior entry.
// Used for relay registration, which re-announcing a registrar must be able
// to refresh rather than reject.
func (t *handlerTable) put(key string, entry handlerEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m.Set(key, entry)
}

func (t *handlerTable) get(key string) (handlerEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.m.Get(key)
}

// deleteWhere removes every entry for which pred returns true.
func (t *handlerTable) deleteWhere(pred func(key string, entry handlerEntry) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var drop []string
	for pair := t.m.Oldest(); pair != nil; pair = pair.Next() {
		if pred(pair.Key, pair.Value) {
			drop = append(drop, pair.Key)
		}
	}
	for _, key := range drop {
		t.m.Delete(key)
	}
}

// keys returns every registered key in insertion order, used by
// registerHandlersToRemote's outbound `data` list.
func (t *handlerTable) keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, t.m.Len())
	for pair := t.m.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

func (t *handlerTable) delete(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m.Delete(key)
}

func (t *handlerTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.m.Len()
}

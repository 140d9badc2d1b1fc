package broker

import (
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// registrarSet is the per-client set of remote module names this client has
// asked to relay matching traffic to it. Insertion order is kept, matching
// the handler table's rationale, so deregisterHandlersFromRemotes tears
// down in the order registration happened.
type registrarSet struct {
	mu sync.Mutex
	m  *orderedmap.OrderedMap[string, struct{}]
}

func newRegistrarSet() *registrarSet {
	return &registrarSet{m: orderedmap.New[string, struct{}]()}
}

// add records target, reporting whether it was newly added.
func (s *registrarSet) add(target string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.m.Get(target); exists {
		return false
	}
	s.m.Set(target, struct{}{})
	return true
}

func (s *registrarSet) list() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, s.m.Len())
	for pair := s.m.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

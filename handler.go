package broker

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Arg is a single element of a Message's data list: an arbitrary JSON value
// whose concrete shape only the handler or caller knows. Handlers decode it
// with Arg.Decode; callers build it with ArgOf.
type Arg json.RawMessage

// ArgOf marshals v into an Arg for use as a call argument or response datum.
func ArgOf(v any) (Arg, error) {
	return json.Marshal(v)
}

// MustArgOf is ArgOf, panicking on a marshal failure. Intended for literal
// arguments built at call sites (numbers, strings, small structs) where a
// marshal error would indicate a programming mistake, not a runtime
// condition.
func MustArgOf(v any) Arg {
	a, err := ArgOf(v)
	if err != nil {
		panic(err)
	}
	return a
}

// Decode unmarshals a into dst.
func (a Arg) Decode(dst any) error {
	return json.Unmarshal(a, dst)
}

// MarshalJSON returns a itself, so it embeds as a raw JSON value rather than
// being encoded as a byte-array literal.
func (a Arg) MarshalJSON() ([]byte, error) {
	if a == nil {
		return []byte("null"), nil
	}
	return a, nil
}

// UnmarshalJSON stores a copy of data, mirroring encoding/json.RawMessage.
func (a *Arg) UnmarshalJSON(data []byte) error {
	if a == nil {
		return fmt.Errorf("broker: Arg.UnmarshalJSON on nil pointer")
	}
	*a = append((*a)[0:0], data...)
	return nil
}

// HandlerFunc is a registered API handler or event subscriber. It receives
// the call's argument list and returns either a plain payload value (which
// is marshaled as the lone element of the response's data list) or a
// *RawRequest to defer execution until after instigator stamping.
//
// An event subscriber ignores the return value entirely; only RPC handlers'
// return values become response payloads.
type HandlerFunc func(args []Arg) (any, error)

// handlerEntry is the handler table's value type: a method FQN maps to a
// handler plus whether it's relaying on another module's behalf. asker is
// only meaningful when relay is true — it's the module that asked to be
// relayed to, used to tear down its entries on deregisterAPIHandlers without
// needing the original key list again.
type handlerEntry struct {
	fn    HandlerFunc
	relay bool
	asker string
}

// reservedLocalNames are the proxy-owned names no handler may claim.
var reservedLocalNames = map[string]bool{
	"emit":           true,
	"on":             true,
	"off":            true,
	"once":           true,
	"callTimeout":    true,
	"excludeClients": true,
}

func isReservedLocalName(name string) bool {
	return reservedLocalNames[name]
}

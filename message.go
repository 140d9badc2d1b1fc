package broker

import (
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// MessageType identifies the purpose of a Message. It is either one of the
// control constants below, or an arbitrary method FQN (vendor.module.method).
type MessageType string

const (
	TypePing        MessageType = "ping"
	TypeResponse    MessageType = "response"
	TypeEvent       MessageType = "event"
	TypeSubscribe   MessageType = "subscribe"
	TypeUnsubscribe MessageType = "unsubscribe"
)

// Message is the single wire record exchanged over the broker transport.
type Message struct {
	Type             MessageType       `json:"type"`
	ID               string            `json:"id,omitempty"`
	Time             int64             `json:"time,omitempty"`
	ModuleName       string            `json:"moduleName,omitempty"`
	TargetModuleName string            `json:"targetModuleName,omitempty"`
	RequestID        string            `json:"requestId,omitempty"`
	InstigatorID     string            `json:"instigatorId,omitempty"`
	EventName        string            `json:"eventName,omitempty"`
	Data             []Arg             `json:"data,omitempty"`
	Success          *bool             `json:"success,omitempty"`
	Timeout          int64             `json:"timeout,omitempty"`
	ExcludedClients  []string          `json:"excludedClients,omitempty"`
}

// MarshalJSON builds the wire frame incrementally with sjson, matching the
// hand-rolled codec style used elsewhere in the corpus for envelope types
// that carry a raw, caller-defined payload list.
func (m Message) MarshalJSON() ([]byte, error) {
	result := []byte(`{}`)
	var err error

	result, err = sjson.SetBytes(result, "type", string(m.Type))
	if err != nil {
		return nil, err
	}
	if m.ID != "" {
		if result, err = sjson.SetBytes(result, "id", m.ID); err != nil {
			return nil, err
		}
	}
	if m.Time != 0 {
		if result, err = sjson.SetBytes(result, "time", m.Time); err != nil {
			return nil, err
		}
	}
	if m.ModuleName != "" {
		if result, err = sjson.SetBytes(result, "moduleName", m.ModuleName); err != nil {
			return nil, err
		}
	}
	if m.TargetModuleName != "" {
		if result, err = sjson.SetBytes(result, "targetModuleName", m.TargetModuleName); err != nil {
			return nil, err
		}
	}
	if m.RequestID != "" {
		if result, err = sjson.SetBytes(result, "requestId", m.RequestID); err != nil {
			return nil, err
		}
	}
	if m.InstigatorID != "" {
		if result, err = sjson.SetBytes(result, "instigatorId", m.InstigatorID); err != nil {
			return nil, err
		}
	}
	if m.EventName != "" {
		if result, err = sjson.SetBytes(result, "eventName", m.EventName); err != nil {
			return nil, err
		}
	}
	if len(m.Data) > 0 {
		raw, merr := json.Marshal(m.Data)
		if merr != nil {
			return nil, merr
		}
		if result, err = sjson.SetRawBytes(result, "data", raw); err != nil {
			return nil, err
		}
	}
	if m.Success != nil {
		if result, err = sjson.SetBytes(result, "success", *m.Success); err != nil {
			return nil, err
		}
	}
	if m.Timeout != 0 {
		if result, err = sjson.SetBytes(result, "timeout", m.Timeout); err != nil {
			return nil, err
		}
	}
	if len(m.ExcludedClients) > 0 {
		raw, merr := json.Marshal(m.ExcludedClients)
		if merr != nil {
			return nil, merr
		}
		if result, err = sjson.SetRawBytes(result, "excludedClients", raw); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// UnmarshalJSON parses a wire frame using gjson lookups rather than a full
// struct unmarshal, so unknown or absent fields are simply absent instead of
// erroring.
func (m *Message) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("broker: invalid message json: %s", data)
	}
	*m = Message{}
	m.Type = MessageType(gjson.GetBytes(data, "type").String())
	m.ID = gjson.GetBytes(data, "id").String()
	m.Time = gjson.GetBytes(data, "time").Int()
	m.ModuleName = gjson.GetBytes(data, "moduleName").String()
	m.TargetModuleName = gjson.GetBytes(data, "targetModuleName").String()
	m.RequestID = gjson.GetBytes(data, "requestId").String()
	m.InstigatorID = gjson.GetBytes(data, "instigatorId").String()
	m.EventName = gjson.GetBytes(data, "eventName").String()
	m.Timeout = gjson.GetBytes(data, "timeout").Int()

	if successResult := gjson.GetBytes(data, "success"); successResult.Exists() {
		v := successResult.Bool()
		m.Success = &v
	}

	if dataResult := gjson.GetBytes(data, "data"); dataResult.Exists() && dataResult.IsArray() {
		for _, item := range dataResult.Array() {
			m.Data = append(m.Data, Arg(item.Raw))
		}
	}
	if excluded := gjson.GetBytes(data, "excludedClients"); excluded.Exists() && excluded.IsArray() {
		for _, item := range excluded.Array() {
			m.ExcludedClients = append(m.ExcludedClients, item.String())
		}
	}
	return nil
}

// stampTime sets Time to the current wall clock in milliseconds, mirroring
// the "wall-clock millisecond timestamp at send" requirement.
func (m *Message) stampTime(now time.Time) {
	m.Time = now.UnixMilli()
}

// FQN is a dotted fully-qualified name: vendor.module[.local].
type FQN string

// ModuleName returns the first two dot-separated segments of the FQN, i.e.
// the owning module's name, regardless of how many segments follow.
func (f FQN) ModuleName() string {
	parts := strings.Split(string(f), ".")
	if len(parts) < 2 {
		return string(f)
	}
	return strings.Join(parts[:2], ".")
}

// LocalName returns everything after the module's two segments: the method
// or event's own local name, preserving any further dots it may contain.
func (f FQN) LocalName() string {
	parts := strings.Split(string(f), ".")
	if len(parts) < 3 {
		return ""
	}
	return strings.Join(parts[2:], ".")
}

// Valid reports whether the FQN has at least the two segments a module name
// requires.
func (f FQN) Valid() bool {
	return len(strings.Split(string(f), ".")) >= 2
}

// NewMethodFQN builds "vendor.module.method".
func NewMethodFQN(vendor, module, method string) FQN {
	return FQN(fmt.Sprintf("%s.%s.%s", vendor, module, method))
}

// NewModuleFQN builds "vendor.module".
func NewModuleFQN(vendor, module string) FQN {
	return FQN(fmt.Sprintf("%s.%s", vendor, module))
}

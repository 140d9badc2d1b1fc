package broker

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Kind tags the handful of error conditions the broker itself raises, as
// distinct from validation errors and transport errors which stay plain Go
// errors.
type Kind string

const (
	KindTimeout Kind = "TIMEOUT"
	KindBroker  Kind = "BROKER"
)

// Error is the sum type behind BrokerError and TimeoutError: a tagged
// variant carrying a stable Code alongside the usual message.
type Error struct {
	Kind    Kind
	Message string
	// Sender is the module name that produced the remote failure, when known.
	Sender string
}

func (e *Error) Error() string {
	return e.Message
}

// Code returns the stable, caller-matchable code for this error kind.
// TimeoutError reports "TIMEOUT" so callers can suppress stack traces for
// this expected failure.
func (e *Error) Code() string {
	return string(e.Kind)
}

// TimeoutError reports that an awaited response was not received before the
// deadline.
func TimeoutError(sender, requestType string) *Error {
	return &Error{
		Kind:    KindTimeout,
		Message: fmt.Sprintf("timed out waiting for a response to %q", requestType),
		Sender:  sender,
	}
}

// BrokerError reports that a remote handler's response had success=false.
// message is either the remote's own error string (data[0].error, when
// present) or a generic fallback.
func BrokerError(message string) *Error {
	return &Error{Kind: KindBroker, Message: message}
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindTimeout
}

// IsBrokerError reports whether err is (or wraps) a BrokerError.
func IsBrokerError(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindBroker
}

var (
	// ErrNotConnected is returned when a send is attempted with no live
	// transport. A send does not wait for a pending connect or reconnect.
	ErrNotConnected = errors.New("broker: not connected")
	// ErrDestroyed is returned by any operation attempted on a destroyed client.
	ErrDestroyed = errors.New("broker: client has been destroyed")
	// ErrReservedName is returned when registration or assignment targets one
	// of the proxy's reserved local names (emit, on, off, once, callTimeout,
	// excludeClients).
	ErrReservedName = errors.New("broker: reserved name")
	// ErrCrossModuleEmit is returned when Emit/Register is attempted against a
	// module other than the caller's own.
	ErrCrossModuleEmit = errors.New("broker: emit/register target must be own module")
	// ErrHandlerExists is returned by RegisterAPIHandler on a duplicate FQN.
	ErrHandlerExists = errors.New("broker: handler already installed")
	// ErrNoSocket is not returned by anything in this package: respond() on
	// a dead socket returns silently without producing an error.
	ErrNoSocket = errors.New("broker: no socket")
)

// errorFromResponse builds the failure the caller of a request observes:
// prefer data[0].error when present, otherwise a generic
// `<sender>'s "<type>" request has failed` message.
func errorFromResponse(sender, requestType string, msg *Message) *Error {
	if len(msg.Data) > 0 {
		if errField := gjson.GetBytes(msg.Data[0], "error"); errField.Exists() && errField.String() != "" {
			return BrokerError(errField.String())
		}
	}
	return BrokerError(fmt.Sprintf("%s's %q request has failed", sender, requestType))
}

// handlerFailureData shapes {error:<msg>} for use as the sole element of a
// failure response's data list.
func handlerFailureData(message string) Arg {
	b, err := sjson.SetBytes([]byte(`{}`), "error", message)
	if err != nil {
		return Arg(`{"error":"ERROR"}`)
	}
	return Arg(b)
}

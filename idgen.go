package broker

import "github.com/google/uuid"

// newID generates a unique, opaque identifier for an outbound Message or a
// duplicate client. A UUIDv7 so ids sort roughly by creation time, which is
// a pleasant debugging property on correlated request/response pairs.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if the entropy source is broken; fall back to
		// the random v4 form rather than propagating an error from what is
		// otherwise an infallible call.
		return uuid.NewString()
	}
	return id.String()
}

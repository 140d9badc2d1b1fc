package broker

// RawRequest is a deferred-handler wrapper a HandlerFunc may return instead
// of its actual payload. The dispatcher recognizes it, stamps it
// with the inbound instigatorId, then invokes the wrapped closure with the original argument
// list and uses the return value as the response payload. This lets a
// handler capture routing metadata (who asked) without threading it through
// its own signature.
type RawRequest struct {
	instigatorID string
	run          func(instigatorID string, args []Arg) (any, error)
}

// NewRawRequest builds a RawRequest around run. run receives the stamped
// instigatorId and the original call arguments.
func NewRawRequest(run func(instigatorID string, args []Arg) (any, error)) *RawRequest {
	return &RawRequest{run: run}
}

// stamp records the inbound instigatorId; called by the dispatcher before
// resolve.
func (r *RawRequest) stamp(instigatorID string) {
	r.instigatorID = instigatorID
}

// resolve invokes the wrapped closure with the stamped instigator and the
// original arguments.
func (r *RawRequest) resolve(args []Arg) (any, error) {
	return r.run(r.instigatorID, args)
}

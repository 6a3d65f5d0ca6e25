package contracts

// Well-known error names used on error replies.
const (
	// ErrorNameFailed is the generic failure name used when a reply carries
	// no more specific error name.
	ErrorNameFailed = "bus.Error.Failed"

	// ErrorNameUnknownMethod indicates the destination has no such member.
	ErrorNameUnknownMethod = "bus.Error.UnknownMethod"

	// ErrorNameInvalidArgs indicates the call body could not be decoded.
	ErrorNameInvalidArgs = "bus.Error.InvalidArgs"
)

// BusError is an application-level failure carried in an error reply. It is
// what a caller observes when the remote peer answered the call with an
// error instead of a method return.
type BusError struct {
	// Name is the machine-readable error identifier from the reply.
	Name string
	// Text is the human-readable description, if the reply carried one.
	Text string
}

// Error implements the error interface.
func (e *BusError) Error() string {
	if e.Text == "" {
		return e.Name
	}
	return e.Name + ": " + e.Text
}

package messaging

import (
	"fmt"

	"github.com/jcristau/busfutures/contracts"
)

// Handle is the caller-facing front door to one bus connection. It is a
// small value sharing the transport and the dispatcher's command channel;
// copying it is O(1) and every copy observes the same dispatch loop.
//
// Handles are safe for concurrent use: all shared mutation is funneled
// through the command channel into the single-consumer dispatch loop.
type Handle struct {
	transport Transport
	cmds      chan<- command
	done      <-chan struct{}
}

// Clone returns a handle sharing the same connection. Equivalent to copying
// the value; provided for callers that prefer it spelled out.
func (h Handle) Clone() Handle {
	return h
}

// LocalIdentity returns the connection's own bus name, once known.
func (h Handle) LocalIdentity() (string, bool) {
	return h.transport.LocalIdentity()
}

// Send submits msg to the transport's outgoing queue and returns the serial
// assigned to it. The serial can be passed to RegisterReply to await the
// matching reply. Send does not guarantee the message has left the process.
func (h Handle) Send(msg *contracts.Message) (uint32, error) {
	serial, err := h.transport.Enqueue(msg)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTransportFailed, err)
	}
	return serial, nil
}

// RegisterReply registers interest in the reply to serial and returns the
// future that will resolve with it. If the dispatch loop has already
// stopped, the returned future is resolved with ErrDispatchUnavailable and
// never suspends a caller.
//
// RegisterReply must run before the message can plausibly be answered; it
// is only safe after a Send when the transport defers transmission. With a
// transport that may answer immediately, use Call, which makes registration
// atomic with submission.
func (h Handle) RegisterReply(serial uint32) *ReplyFuture {
	sink := make(chan *contracts.Message, 1)
	select {
	case h.cmds <- command{kind: cmdRegister, serial: serial, sink: sink}:
		return &ReplyFuture{ch: sink}
	case <-h.done:
		return FailedReply(ErrDispatchUnavailable)
	}
}

// Call sends msg and registers its reply in one step. Submission and
// registration happen inside the dispatch loop, so the pending entry exists
// before the loop can observe any reply — the correlation cannot be lost
// even when the transport answers before Call returns.
func (h Handle) Call(msg *contracts.Message) *ReplyFuture {
	sink := make(chan *contracts.Message, 1)
	sent := make(chan sendResult, 1)
	select {
	case h.cmds <- command{kind: cmdCall, msg: msg, sink: sink, sent: sent}:
		// The loop always reports the outcome after taking the command.
		res := <-sent
		if res.err != nil {
			return FailedReply(res.err)
		}
		return &ReplyFuture{ch: sink}
	case <-h.done:
		return FailedReply(ErrDispatchUnavailable)
	}
}

// RequestShutdown asks the dispatch loop to terminate, failing every pending
// request with ErrClosedWithoutReply. It is idempotent: once the loop has
// stopped, further calls return nil without effect.
func (h Handle) RequestShutdown() error {
	select {
	case h.cmds <- command{kind: cmdShutdown}:
		return nil
	case <-h.done:
		return nil
	}
}

// WithTarget scopes calls to one destination and object path.
func (h Handle) WithTarget(destination, path string) Target {
	return Target{Conn: h, Destination: destination, Path: path}
}

package messaging

import (
	"fmt"

	"github.com/jcristau/busfutures/contracts"
)

// Target is a convenience for calling many methods on the same destination
// and object path. It is a value type; construct one per destination with
// Handle.WithTarget and copy it freely.
type Target struct {
	Conn        Handle
	Destination string
	Path        string
}

// Call issues a method call on the target and returns the reply future.
// build, when non-nil, may fill in the call's body and headers before it is
// enqueued.
func (t Target) Call(iface, member string, build func(*contracts.Message)) *ReplyFuture {
	msg := contracts.NewMethodCall(t.Destination, t.Path, iface, member)
	if build != nil {
		build(msg)
	}
	return t.Conn.Call(msg)
}

// Emit broadcasts a signal from the target's object path. Signals expect no
// reply; the returned serial is informational.
func (t Target) Emit(iface, member string, build func(*contracts.Message)) (uint32, error) {
	msg := contracts.NewSignal(t.Path, iface, member)
	if build != nil {
		build(msg)
	}
	return t.Conn.Send(msg)
}

// CallTyped issues a method call and decodes the reply body into T. It is a
// type-safe shorthand over Call and ComposeReply that eliminates manual body
// handling at call sites.
func CallTyped[T any](t Target, iface, member string, build func(*contracts.Message)) *MethodReply[T] {
	return ComposeReply(t.Call(iface, member, build), func(msg *contracts.Message) (T, error) {
		var v T
		if err := msg.UnmarshalBody(&v); err != nil {
			return v, fmt.Errorf("decode reply body: %w", err)
		}
		return v, nil
	})
}

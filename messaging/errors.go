package messaging

import "errors"

var (
	// ErrTransportFailed indicates the transport rejected an outgoing
	// message, typically because the connection is broken.
	ErrTransportFailed = errors.New("messaging: transport send failed")

	// ErrDispatchUnavailable indicates the dispatch loop has already
	// stopped, so a reply can no longer be registered.
	ErrDispatchUnavailable = errors.New("messaging: dispatcher not running")

	// ErrClosedWithoutReply indicates the connection shut down while the
	// request was still pending.
	ErrClosedWithoutReply = errors.New("messaging: connection closed before reply")
)

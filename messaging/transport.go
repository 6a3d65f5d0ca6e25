package messaging

import (
	"github.com/jcristau/busfutures/contracts"
)

// Transport owns the physical bus connection. Implementations live under
// transports/; the dispatcher and handles only rely on this contract.
//
// Enqueue and Incoming are used from disjoint call paths: any number of
// handles may enqueue concurrently, while only the dispatch loop reads
// incoming messages. Implementations must support that split.
type Transport interface {
	// Enqueue submits a message for transmission and returns the serial
	// number assigned to it. The serial is unique among outstanding
	// requests on this connection and is never reused while a request is
	// pending. Enqueue is a synchronous submission into the outgoing
	// queue; it does not guarantee the message has left the process.
	Enqueue(msg *contracts.Message) (uint32, error)

	// Incoming returns the channel of messages received from the peer.
	// The channel is closed when the connection fails or is closed,
	// which the dispatcher treats as shutdown.
	Incoming() <-chan *contracts.Message

	// LocalIdentity returns the connection's own bus name, once known.
	LocalIdentity() (string, bool)

	// Close tears down the connection. Closing also closes Incoming.
	Close() error
}

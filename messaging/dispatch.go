package messaging

import (
	"fmt"
	"log/slog"

	"github.com/jcristau/busfutures/contracts"
)

type commandKind uint8

const (
	cmdRegister commandKind = iota
	cmdCall
	cmdShutdown
)

// command is the only way state reaches the dispatch loop. Register carries
// the serial to watch and the sink to complete; call additionally carries
// the message to enqueue, with the outcome reported on sent; shutdown
// carries nothing.
type command struct {
	kind   commandKind
	serial uint32
	sink   chan *contracts.Message
	msg    *contracts.Message
	sent   chan sendResult
}

// sendResult reports the outcome of a call command's enqueue.
type sendResult struct {
	serial uint32
	err    error
}

// Dispatcher owns all reply-correlation state for one connection. A single
// background goroutine is the sole reader of the transport and the sole
// mutator of the pending-request table, so no locking is involved anywhere.
type Dispatcher struct {
	transport Transport
	cmds      chan command
	done      chan struct{}
	pending   map[uint32]chan *contracts.Message
	stray     StrayHandler
	logger    *slog.Logger
}

// StrayHandler receives incoming messages that are not correlated replies,
// such as signals or unsolicited method calls.
type StrayHandler func(msg *contracts.Message)

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithStrayHandler routes non-reply traffic to handler instead of dropping
// it. The handler runs on the dispatch goroutine and must not block.
func WithStrayHandler(handler StrayHandler) DispatcherOption {
	return func(d *Dispatcher) {
		d.stray = handler
	}
}

// NewDispatcher creates a dispatcher for transport and starts its dispatch
// loop. The loop runs until a handle requests shutdown or the transport's
// incoming channel closes.
func NewDispatcher(transport Transport, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		transport: transport,
		// Unbuffered on purpose: a command is either received by the
		// running loop or the send fails on done, so no command can be
		// accepted and then never processed.
		cmds:    make(chan command),
		done:    make(chan struct{}),
		pending: make(map[uint32]chan *contracts.Message),
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(d)
	}

	go d.run()
	return d
}

// Handle returns a caller-facing handle bound to this dispatcher. Handles
// are values; copying one is equivalent to Clone.
func (d *Dispatcher) Handle() Handle {
	return Handle{transport: d.transport, cmds: d.cmds, done: d.done}
}

// Done returns a channel closed when the dispatch loop has terminated and
// every pending request has been failed.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)

	incoming := d.transport.Incoming()
	for {
		select {
		case msg, ok := <-incoming:
			if !ok {
				d.logger.Info("transport closed, failing pending requests",
					"pending", len(d.pending))
				d.drain()
				return
			}
			d.deliver(msg)

		case cmd := <-d.cmds:
			switch cmd.kind {
			case cmdRegister:
				if prev, ok := d.pending[cmd.serial]; ok {
					// Duplicate registration: the old sink is
					// abandoned and observes closed-without-value.
					close(prev)
				}
				d.pending[cmd.serial] = cmd.sink
			case cmdCall:
				// Enqueue and register in one loop step. The loop
				// reads no incoming message between the two, so a
				// reply can never outrun its registration, even on
				// a transport that answers synchronously.
				serial, err := d.transport.Enqueue(cmd.msg)
				if err != nil {
					cmd.sent <- sendResult{err: fmt.Errorf("%w: %w", ErrTransportFailed, err)}
					continue
				}
				if prev, ok := d.pending[serial]; ok {
					close(prev)
				}
				d.pending[serial] = cmd.sink
				cmd.sent <- sendResult{serial: serial}
			case cmdShutdown:
				d.logger.Debug("shutdown requested",
					"pending", len(d.pending))
				d.drain()
				return
			}
		}
	}
}

// deliver routes one incoming message. Replies complete their pending entry
// exactly once; everything else goes to the stray handler.
func (d *Dispatcher) deliver(msg *contracts.Message) {
	if !msg.IsReply() {
		if d.stray != nil {
			d.stray(msg)
			return
		}
		d.logger.Debug("dropping uncorrelated message",
			"kind", msg.Kind.String(), "member", msg.Member)
		return
	}

	sink, ok := d.pending[msg.ReplySerial]
	if !ok {
		// Duplicate reply, or the caller dropped its future. Not an
		// error either way.
		d.logger.Debug("no pending request for reply",
			"replySerial", msg.ReplySerial)
		return
	}
	delete(d.pending, msg.ReplySerial)

	// The sink has capacity 1 and only the loop ever sends on it, so
	// this never blocks even if the caller abandoned the future.
	sink <- msg
	close(sink)
}

// drain fails every remaining pending request. Their futures observe
// ErrClosedWithoutReply.
func (d *Dispatcher) drain() {
	for serial, sink := range d.pending {
		delete(d.pending, serial)
		close(sink)
	}
}

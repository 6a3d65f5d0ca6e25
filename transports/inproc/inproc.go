// Package inproc provides an in-process loopback implementation of
// messaging.Transport. A handler function plays the remote peer: every
// enqueued method call is answered by the handler on its own goroutine.
//
// It exists for tests, examples, and wiring components together inside one
// process without a broker.
package inproc

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/jcristau/busfutures/contracts"
)

// ErrClosed is returned by Enqueue after the transport has been closed.
var ErrClosed = errors.New("inproc: transport closed")

// Handler answers a method call. Returning nil answers nothing, which
// leaves the caller's future pending until shutdown.
type Handler func(call *contracts.Message) *contracts.Message

// Transport is an in-process loopback bus connection.
type Transport struct {
	handler  Handler
	logger   *slog.Logger
	identity string

	mu     sync.Mutex
	serial uint32
	closed bool

	wg       sync.WaitGroup
	quit     chan struct{}
	incoming chan *contracts.Message
}

// Option configures the transport.
type Option func(*Transport)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithIdentity overrides the generated local bus name.
func WithIdentity(identity string) Option {
	return func(t *Transport) {
		t.identity = identity
	}
}

// New creates a loopback transport whose method calls are answered by
// handler. A nil handler drops calls.
func New(handler Handler, opts ...Option) *Transport {
	t := &Transport{
		handler:  handler,
		logger:   slog.Default(),
		identity: fmt.Sprintf(":inproc.%s", uuid.New().String()[:8]),
		quit:     make(chan struct{}),
		incoming: make(chan *contracts.Message, 16),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Enqueue implements messaging.Transport. Method calls are handed to the
// handler asynchronously; signals and replies are accepted and dropped,
// since there is no peer beyond the handler to hear them.
func (t *Transport) Enqueue(msg *contracts.Message) (uint32, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, ErrClosed
	}
	t.serial++
	serial := t.serial
	msg.Serial = serial
	msg.Sender = t.identity

	if msg.Kind == contracts.KindMethodCall && t.handler != nil {
		t.wg.Add(1)
		go t.answer(msg)
	} else {
		// No peer beyond the handler, so everything else goes nowhere.
		t.logger.Debug("loopback dropping outgoing message",
			"kind", msg.Kind.String(), "member", msg.Member)
	}
	t.mu.Unlock()
	return serial, nil
}

func (t *Transport) answer(call *contracts.Message) {
	defer t.wg.Done()
	reply := t.handler(call)
	if reply == nil {
		return
	}
	select {
	case t.incoming <- reply:
	case <-t.quit:
	}
}

// Inject delivers an arbitrary message to the receiving side, as if the
// peer had sent it. Useful for driving signals in tests.
func (t *Transport) Inject(msg *contracts.Message) error {
	// Holding mu keeps Close from closing incoming underneath the send:
	// Close needs mu to mark the transport closed first.
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.incoming <- msg
	return nil
}

// Incoming implements messaging.Transport.
func (t *Transport) Incoming() <-chan *contracts.Message {
	return t.incoming
}

// LocalIdentity implements messaging.Transport.
func (t *Transport) LocalIdentity() (string, bool) {
	return t.identity, true
}

// Close implements messaging.Transport. It waits for in-flight handler
// invocations before closing the incoming channel.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.quit)
	t.mu.Unlock()

	t.wg.Wait()
	close(t.incoming)
	return nil
}

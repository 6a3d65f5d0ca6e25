package messaging

import (
	"context"

	"github.com/jcristau/busfutures/contracts"
)

// ReplyFuture represents one outstanding method call. It resolves exactly
// once: with the reply message, with the remote error the reply encodes, or
// with a failure if the request could not be registered or the connection
// shut down first.
//
// A future is single-use: Await consumes it. Abandoning a future before it
// resolves is safe; the dispatcher frees the serial's slot when the reply
// eventually arrives, or at shutdown.
type ReplyFuture struct {
	ch  <-chan *contracts.Message
	err error
}

// FailedReply returns a future already resolved with err. Handles use it
// when registration fails before any waiting could happen; it is exported so
// higher layers can surface eager failures through the same type.
func FailedReply(err error) *ReplyFuture {
	return &ReplyFuture{err: err}
}

// Await blocks until the future resolves or ctx is done.
//
// A reply that encodes a remote failure is converted to a *contracts.BusError.
// If the dispatcher shut down before the reply arrived, Await returns
// ErrClosedWithoutReply. Cancelling ctx abandons the request: no rollback is
// attempted, a late reply is silently discarded by the dispatcher.
func (f *ReplyFuture) Await(ctx context.Context) (*contracts.Message, error) {
	if f.err != nil {
		return nil, f.err
	}

	select {
	case msg, ok := <-f.ch:
		if !ok {
			return nil, ErrClosedWithoutReply
		}
		if err := msg.Err(); err != nil {
			return nil, err
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// MethodReply composes a ReplyFuture with a parse step, giving the caller a
// typed result without re-implementing correlation. The parse function runs
// at most once, and only on a successful reply.
type MethodReply[T any] struct {
	inner *ReplyFuture
	parse func(*contracts.Message) (T, error)
}

// ComposeReply wraps f so that its successful resolution is passed through
// parse. Failures of f propagate untouched and parse is never invoked for
// them.
func ComposeReply[T any](f *ReplyFuture, parse func(*contracts.Message) (T, error)) *MethodReply[T] {
	return &MethodReply[T]{inner: f, parse: parse}
}

// Await resolves the underlying future and applies the parse step.
func (r *MethodReply[T]) Await(ctx context.Context) (T, error) {
	var zero T
	msg, err := r.inner.Await(ctx)
	if err != nil {
		return zero, err
	}
	parse := r.parse
	r.parse = nil
	if parse == nil {
		return zero, ErrClosedWithoutReply
	}
	return parse(msg)
}

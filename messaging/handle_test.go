package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcristau/busfutures/contracts"
)

func TestSendWrapsTransportFailure(t *testing.T) {
	tr := newFakeTransport()
	tr.enqueueErr = errors.New("connection reset")
	d := NewDispatcher(tr)
	h := d.Handle()

	_, err := h.Send(contracts.NewMethodCall("svc", "/obj", "iface", "Ping"))
	assert.ErrorIs(t, err, ErrTransportFailed)

	// Call surfaces the same failure as an eagerly resolved future.
	future := h.Call(contracts.NewMethodCall("svc", "/obj", "iface", "Ping"))
	_, err = future.Await(awaitCtx(t))
	assert.ErrorIs(t, err, ErrTransportFailed)

	stopDispatcher(t, h, d)
}

func TestRegisterReplyAfterShutdown(t *testing.T) {
	tr := newFakeTransport()
	d := NewDispatcher(tr)
	h := d.Handle()

	stopDispatcher(t, h, d)

	future := h.RegisterReply(1)
	_, err := future.Await(awaitCtx(t))
	assert.ErrorIs(t, err, ErrDispatchUnavailable)
}

func TestRequestShutdownIsIdempotent(t *testing.T) {
	tr := newFakeTransport()
	d := NewDispatcher(tr)
	h := d.Handle()

	require.NoError(t, h.RequestShutdown())
	select {
	case <-d.Done():
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}

	assert.NoError(t, h.RequestShutdown())
	assert.NoError(t, h.Clone().RequestShutdown())
}

func TestClonesShareTheSameLoop(t *testing.T) {
	tr := newFakeTransport()
	d := NewDispatcher(tr)
	h := d.Handle()
	clone := h.Clone()

	serial, err := clone.Send(contracts.NewMethodCall("svc", "/obj", "iface", "Ping"))
	require.NoError(t, err)
	future := h.RegisterReply(serial)
	tr.inject(replyTo(serial, nil))
	_, err = future.Await(awaitCtx(t))
	require.NoError(t, err)

	// Shutdown through one clone stops the loop for all of them.
	stopDispatcher(t, clone, d)
	_, err = h.RegisterReply(9).Await(awaitCtx(t))
	assert.ErrorIs(t, err, ErrDispatchUnavailable)
}

func TestLocalIdentity(t *testing.T) {
	tr := newFakeTransport()
	d := NewDispatcher(tr)
	h := d.Handle()

	name, ok := h.LocalIdentity()
	assert.True(t, ok)
	assert.Equal(t, ":1.99", name)

	stopDispatcher(t, h, d)
}

func TestTargetCall(t *testing.T) {
	tr := newFakeTransport()
	d := NewDispatcher(tr)
	h := d.Handle()
	target := h.WithTarget("com.example.Clock", "/com/example/Clock")

	future := target.Call("com.example.Clock", "Now", func(msg *contracts.Message) {
		msg.SetHeader("tz", "UTC")
	})

	sent := tr.lastSent()
	require.NotNil(t, sent)
	assert.Equal(t, contracts.KindMethodCall, sent.Kind)
	assert.Equal(t, "com.example.Clock", sent.Destination)
	assert.Equal(t, "/com/example/Clock", sent.Path)
	assert.Equal(t, "Now", sent.Member)
	assert.Equal(t, "UTC", sent.Headers["tz"])

	tr.inject(replyTo(sent.Serial, "12:00"))
	msg, err := future.Await(awaitCtx(t))
	require.NoError(t, err)
	var body string
	require.NoError(t, msg.UnmarshalBody(&body))
	assert.Equal(t, "12:00", body)

	stopDispatcher(t, h, d)
}

func TestTargetEmit(t *testing.T) {
	tr := newFakeTransport()
	d := NewDispatcher(tr)
	h := d.Handle()
	target := h.WithTarget("", "/com/example/Clock")

	serial, err := target.Emit("com.example.Clock", "Tick", nil)
	require.NoError(t, err)
	assert.NotZero(t, serial)

	sent := tr.lastSent()
	require.NotNil(t, sent)
	assert.Equal(t, contracts.KindSignal, sent.Kind)
	assert.Equal(t, "Tick", sent.Member)

	stopDispatcher(t, h, d)
}

// instantReplyTransport answers every call from inside Enqueue, before the
// caller even gets the serial back. The worst case for correlation: the
// reply is already in Incoming when registration could begin.
type instantReplyTransport struct {
	fakeTransport
}

func (f *instantReplyTransport) Enqueue(msg *contracts.Message) (uint32, error) {
	serial, err := f.fakeTransport.Enqueue(msg)
	if err != nil {
		return 0, err
	}
	f.incoming <- replyTo(serial, "instant")
	return serial, nil
}

func TestCallNeverLosesASynchronousReply(t *testing.T) {
	tr := &instantReplyTransport{fakeTransport: fakeTransport{
		incoming: make(chan *contracts.Message, 16),
		identity: ":1.77",
	}}
	d := NewDispatcher(tr)
	h := d.Handle()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := 0; i < 200; i++ {
		future := h.Call(contracts.NewMethodCall("svc", "/obj", "iface", "Ping"))
		msg, err := future.Await(ctx)
		require.NoError(t, err, "call %d lost its reply", i)
		var body string
		require.NoError(t, msg.UnmarshalBody(&body))
		require.Equal(t, "instant", body)
	}

	stopDispatcher(t, h, d)
}

func TestCallTyped(t *testing.T) {
	tr := newFakeTransport()
	d := NewDispatcher(tr)
	h := d.Handle()
	target := h.WithTarget("com.example.Calc", "/com/example/Calc")

	typed := CallTyped[int](target, "com.example.Calc", "Add", func(msg *contracts.Message) {
		_ = msg.SetBody([]int{2, 3})
	})

	tr.inject(replyTo(tr.lastSent().Serial, 5))

	got, err := typed.Await(awaitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 5, got)

	stopDispatcher(t, h, d)
}

package inproc

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcristau/busfutures/contracts"
	"github.com/jcristau/busfutures/messaging"
)

func echoHandler(call *contracts.Message) *contracts.Message {
	reply := contracts.NewMethodReturn(call)
	reply.Body = call.Body
	return reply
}

func TestRoundTrip(t *testing.T) {
	tr := New(echoHandler)
	d := messaging.NewDispatcher(tr)
	h := d.Handle()
	defer func() {
		require.NoError(t, h.RequestShutdown())
		<-d.Done()
		require.NoError(t, tr.Close())
	}()

	target := h.WithTarget("local.echo", "/echo")
	future := target.Call("local.Echo", "Echo", func(msg *contracts.Message) {
		require.NoError(t, msg.SetBody("hello"))
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := future.Await(ctx)
	require.NoError(t, err)

	var body string
	require.NoError(t, msg.UnmarshalBody(&body))
	assert.Equal(t, "hello", body)
}

func TestErrorReplies(t *testing.T) {
	tr := New(func(call *contracts.Message) *contracts.Message {
		return contracts.NewError(call, contracts.ErrorNameUnknownMethod, "nope")
	})
	d := messaging.NewDispatcher(tr)
	h := d.Handle()
	defer func() {
		require.NoError(t, h.RequestShutdown())
		<-d.Done()
		require.NoError(t, tr.Close())
	}()

	future := h.WithTarget("svc", "/obj").Call("iface", "Missing", nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := future.Await(ctx)
	var busErr *contracts.BusError
	require.ErrorAs(t, err, &busErr)
	assert.Equal(t, contracts.ErrorNameUnknownMethod, busErr.Name)
}

func TestCloseFailsPendingAndRejectsSends(t *testing.T) {
	tr := New(nil) // calls go unanswered
	d := messaging.NewDispatcher(tr)
	h := d.Handle()

	future := h.Call(contracts.NewMethodCall("svc", "/obj", "iface", "Ping"))

	require.NoError(t, tr.Close())
	<-d.Done()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := future.Await(ctx)
	assert.ErrorIs(t, err, messaging.ErrClosedWithoutReply)

	_, err = tr.Enqueue(contracts.NewMethodCall("svc", "/obj", "iface", "Ping"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, tr.Close())
}

func TestInjectDeliversSignals(t *testing.T) {
	tr := New(nil)
	strays := make(chan *contracts.Message, 1)
	d := messaging.NewDispatcher(tr, messaging.WithStrayHandler(func(msg *contracts.Message) {
		strays <- msg
	}))
	h := d.Handle()
	defer func() {
		require.NoError(t, h.RequestShutdown())
		<-d.Done()
		require.NoError(t, tr.Close())
	}()

	require.NoError(t, tr.Inject(contracts.NewSignal("/obj", "iface", "Tick")))

	select {
	case msg := <-strays:
		assert.Equal(t, "Tick", msg.Member)
	case <-time.After(time.Second):
		t.Fatal("signal not delivered")
	}
}

func TestInjectAfterCloseReturnsErrClosed(t *testing.T) {
	tr := New(nil)
	require.NoError(t, tr.Close())

	for i := 0; i < 3; i++ {
		err := tr.Inject(contracts.NewSignal("/obj", "iface", "Tick"))
		assert.ErrorIs(t, err, ErrClosed)
	}
}

func TestManyRoundTripsLoseNoReplies(t *testing.T) {
	tr := New(echoHandler)
	d := messaging.NewDispatcher(tr)
	h := d.Handle()
	defer func() {
		require.NoError(t, h.RequestShutdown())
		<-d.Done()
		require.NoError(t, tr.Close())
	}()

	target := h.WithTarget("local.echo", "/echo")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for i := 0; i < 2000; i++ {
		future := target.Call("local.Echo", "Echo", func(msg *contracts.Message) {
			_ = msg.SetBody(i)
		})
		msg, err := future.Await(ctx)
		require.NoError(t, err, "call %d lost its reply", i)
		var got int
		require.NoError(t, msg.UnmarshalBody(&got))
		require.Equal(t, i, got)
	}
}

func TestLocalIdentity(t *testing.T) {
	tr := New(nil)
	defer tr.Close()

	name, ok := tr.LocalIdentity()
	assert.True(t, ok)
	assert.True(t, strings.HasPrefix(name, ":inproc."), name)

	custom := New(nil, WithIdentity(":1.5"))
	defer custom.Close()
	name, _ = custom.LocalIdentity()
	assert.Equal(t, ":1.5", name)
}

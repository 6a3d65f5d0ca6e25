// Package messaging implements asynchronous method calls over a shared bus
// connection.
//
// A Dispatcher owns the table of outstanding requests and runs a single
// background goroutine that matches incoming replies, by serial number, to
// the caller that sent the request. Callers never touch that table directly:
// they hold a Handle, a cheaply copyable front door whose only interaction
// with the dispatcher is sending commands over a channel. A registered
// request is represented to the caller as a ReplyFuture, which resolves
// exactly once — with the reply, with the remote error the reply encodes, or
// with a closed-connection failure if the dispatcher stops first.
//
// The physical connection is abstracted behind the Transport interface;
// see the transports directory for implementations.
package messaging

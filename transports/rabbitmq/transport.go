// Package rabbitmq implements messaging.Transport over RabbitMQ.
//
// Each connection owns an exclusive auto-delete reply queue; its name is the
// connection's local identity, and peers address replies to it. Method calls
// are published to the queue named by the message's destination, signals to
// a topic exchange keyed by interface and member. Enqueue submits into an
// in-process outgoing queue flushed by a background goroutine, so it stays a
// synchronous, non-blocking submission.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jcristau/busfutures/contracts"
	"github.com/jcristau/busfutures/internal/reliability"
)

// ErrClosed is returned by Enqueue after the transport has been closed.
var ErrClosed = errors.New("rabbitmq: transport closed")

// Transport is a bus connection over one AMQP connection and channel.
type Transport struct {
	conn           *amqp.Connection
	channel        *amqp.Channel
	logger         *slog.Logger
	replyQueue     string
	signalExchange string

	serial   atomic.Uint32
	outgoing chan *contracts.Message
	incoming chan *contracts.Message

	closeOnce sync.Once
	quit      chan struct{}
	wg        sync.WaitGroup
	closeErr  error
}

type config struct {
	logger         *slog.Logger
	replyQueue     string
	signalExchange string
	outgoingBuffer int
	dialInterval   time.Duration
	dialAttempts   int
}

// Option configures the transport.
type Option func(*config)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithReplyQueue overrides the generated reply queue name.
func WithReplyQueue(name string) Option {
	return func(c *config) {
		c.replyQueue = name
	}
}

// WithSignalExchange overrides the topic exchange signals are published to.
func WithSignalExchange(name string) Option {
	return func(c *config) {
		c.signalExchange = name
	}
}

// WithDialRetry configures the dial retry policy: up to attempts retries
// starting at interval with exponential backoff.
func WithDialRetry(attempts int, interval time.Duration) Option {
	return func(c *config) {
		c.dialAttempts = attempts
		c.dialInterval = interval
	}
}

// Dial connects to the broker at url and sets up the reply queue, the
// signal exchange, and the background publish and receive pumps.
func Dial(ctx context.Context, url string, opts ...Option) (*Transport, error) {
	cfg := &config{
		logger:         slog.Default(),
		replyQueue:     fmt.Sprintf("busfutures.reply.%s", uuid.New().String()[:8]),
		signalExchange: "busfutures.signal",
		outgoingBuffer: 64,
		dialInterval:   500 * time.Millisecond,
		dialAttempts:   5,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	policy := reliability.NewExponentialBackoff(
		cfg.dialInterval, 10*cfg.dialInterval, 2, cfg.dialAttempts)

	var conn *amqp.Connection
	err := reliability.Retry(ctx, policy, func() error {
		c, err := amqp.Dial(url)
		if err != nil {
			cfg.logger.Warn("broker dial failed", "error", err)
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if _, err := channel.QueueDeclare(cfg.replyQueue, false, true, true, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare reply queue: %w", err)
	}
	if err := channel.ExchangeDeclare(cfg.signalExchange, "topic", false, true, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare signal exchange: %w", err)
	}

	deliveries, err := channel.Consume(cfg.replyQueue, "", true, true, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("consume reply queue: %w", err)
	}

	t := &Transport{
		conn:           conn,
		channel:        channel,
		logger:         cfg.logger,
		replyQueue:     cfg.replyQueue,
		signalExchange: cfg.signalExchange,
		outgoing:       make(chan *contracts.Message, cfg.outgoingBuffer),
		incoming:       make(chan *contracts.Message, 16),
		quit:           make(chan struct{}),
	}

	t.wg.Add(2)
	go t.flushLoop()
	go t.recvLoop(deliveries)

	t.logger.Info("connected to broker", "replyQueue", t.replyQueue)
	return t, nil
}

// Enqueue implements messaging.Transport. The assigned serial is carried in
// the wire envelope so the peer can correlate its reply.
func (t *Transport) Enqueue(msg *contracts.Message) (uint32, error) {
	serial := t.serial.Add(1)
	msg.Serial = serial
	if msg.Sender == "" {
		msg.Sender = t.replyQueue
	}

	// Once quit is closed the flush pump is gone; a buffered send would
	// otherwise still succeed and strand the message.
	select {
	case <-t.quit:
		return 0, ErrClosed
	default:
	}

	select {
	case t.outgoing <- msg:
		return serial, nil
	case <-t.quit:
		return 0, ErrClosed
	}
}

// Incoming implements messaging.Transport.
func (t *Transport) Incoming() <-chan *contracts.Message {
	return t.incoming
}

// LocalIdentity implements messaging.Transport. The reply queue name doubles
// as the connection's bus name.
func (t *Transport) LocalIdentity() (string, bool) {
	return t.replyQueue, true
}

// BindSignals routes signals matching the topic pattern (for example
// "com.example.Clock.*") into this connection's incoming stream.
func (t *Transport) BindSignals(pattern string) error {
	if err := t.channel.QueueBind(t.replyQueue, pattern, t.signalExchange, false, nil); err != nil {
		return fmt.Errorf("bind signals %q: %w", pattern, err)
	}
	return nil
}

// routing picks the exchange and routing key for an outgoing message.
// Replies travel back to the reply queue named by their destination.
func (t *Transport) routing(msg *contracts.Message) (exchange, key string) {
	if msg.Kind == contracts.KindSignal {
		return t.signalExchange, msg.Interface + "." + msg.Member
	}
	return "", msg.Destination
}

func (t *Transport) flushLoop() {
	defer t.wg.Done()
	for {
		select {
		case msg := <-t.outgoing:
			if err := t.publish(msg); err != nil {
				t.logger.Error("publish failed, closing transport", "error", err)
				go t.Close()
				return
			}
		case <-t.quit:
			return
		}
	}
}

func (t *Transport) publish(msg *contracts.Message) error {
	data, err := encodeEnvelope(msg)
	if err != nil {
		// Undeliverable message, not a broken connection. Drop it; the
		// caller's future resolves at shutdown like any lost reply.
		t.logger.Warn("dropping unencodable message", "kind", msg.Kind.String(), "error", err)
		return nil
	}

	exchange, key := t.routing(msg)
	correlation := msg.Serial
	if msg.IsReply() {
		correlation = msg.ReplySerial
	}

	return t.channel.PublishWithContext(context.Background(), exchange, key, false, false, amqp.Publishing{
		ContentType:   "application/json",
		MessageId:     uuid.New().String(),
		CorrelationId: strconv.FormatUint(uint64(correlation), 10),
		ReplyTo:       t.replyQueue,
		Timestamp:     time.Now().UTC(),
		Body:          data,
	})
}

func (t *Transport) recvLoop(deliveries <-chan amqp.Delivery) {
	defer t.wg.Done()
	defer close(t.incoming)

	for d := range deliveries {
		msg, err := decodeEnvelope(d.Body)
		if err != nil {
			t.logger.Warn("dropping undecodable delivery", "error", err)
			continue
		}
		select {
		case t.incoming <- msg:
		case <-t.quit:
			return
		}
	}
}

// Close implements messaging.Transport. Closing stops the pumps, waits for
// them, and closes Incoming, which the dispatcher observes as connection
// failure.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.quit)
		if t.channel != nil {
			if err := t.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
				t.closeErr = err
			}
		}
		if t.conn != nil {
			if err := t.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) && t.closeErr == nil {
				t.closeErr = err
			}
		}
		// Closing the connection ends the consumer's delivery stream,
		// which lets recvLoop finish; flushLoop exits on quit.
		t.wg.Wait()
	})
	return t.closeErr
}

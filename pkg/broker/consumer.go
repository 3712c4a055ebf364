package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrBadMessage marks a delivery as permanently unprocessable (e.g. JSON
// decode failure). Handlers return it wrapped; the consumer sends the
// message straight to the DLQ without logging a processing failure.
var ErrBadMessage = errors.New("broker: bad message")

// Handler processes one delivery. A nil return acks; any error nacks
// without requeue, which dead-letters the message into the queue's DLQ.
type Handler func(ctx context.Context, delivery amqp.Delivery) error

// Consumer runs a fair-dispatch consume loop on one queue. It survives
// connection loss by re-registering the consume on the broker's
// reconnected channel.
type Consumer struct {
	broker   *Broker
	queue    string
	prefetch int
	handler  Handler

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewConsumer creates a consumer for queue with the given prefetch count.
// Prefetch 1 gives strict fair dispatch (agent worker); larger values
// increase throughput for cheap handlers (gateway side).
func NewConsumer(b *Broker, queue string, prefetch int, handler Handler) *Consumer {
	return &Consumer{
		broker:   b,
		queue:    queue,
		prefetch: prefetch,
		handler:  handler,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the consume loop.
func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

// Stop signals the consumer to stop and waits for in-flight handling to
// finish. Safe to call multiple times.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Consumer) run(ctx context.Context) {
	defer c.wg.Done()

	log := slog.With("queue", c.queue)
	log.Info("Consumer started", "prefetch", c.prefetch)

	for {
		select {
		case <-c.stopCh:
			log.Info("Consumer shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, consumer shutting down")
			return
		default:
		}

		deliveries, err := c.subscribe()
		if err != nil {
			log.Warn("Consumer subscribe failed, retrying", "error", err)
			c.sleep(time.Second)
			continue
		}

		// Drain deliveries until the channel closes (reconnect) or stop.
		c.drain(ctx, deliveries, log)
	}
}

// subscribe sets QoS and registers the consume on the current channel.
func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch, err := c.broker.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, err
	}
	return ch.Consume(c.queue, "", false, false, false, false, nil)
}

func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery, log *slog.Logger) {
	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				// Channel closed underneath; the supervisor reconnects and
				// the outer loop re-subscribes.
				log.Warn("Delivery channel closed")
				return
			}
			c.handle(ctx, delivery, log)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, delivery amqp.Delivery, log *slog.Logger) {
	err := c.handler(ctx, delivery)
	if err == nil {
		if ackErr := delivery.Ack(false); ackErr != nil {
			log.Warn("Ack failed", "error", ackErr)
		}
		return
	}

	if errors.Is(err, ErrBadMessage) {
		log.Warn("Unprocessable message sent to DLQ", "error", err)
	} else {
		log.Error("Handler failed, message sent to DLQ", "error", err)
	}
	// requeue=false dead-letters into <queue>.dlq via the DLX binding.
	if nackErr := delivery.Nack(false, false); nackErr != nil {
		log.Warn("Nack failed", "error", nackErr)
	}
}

func (c *Consumer) sleep(d time.Duration) {
	select {
	case <-c.stopCh:
	case <-time.After(d):
	}
}

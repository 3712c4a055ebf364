// Package broker provides the RabbitMQ fabric: durable task queues with
// dead-letter routing, a topic exchange for domain events, TTL-based
// delayed redelivery, and reconnecting connection supervision.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrClosed is returned by operations on a broker that has been shut down.
var ErrClosed = errors.New("broker: closed")

// DLX is the shared dead-letter exchange. Every primary queue dead-letters
// into it; each queue's DLQ binds with the queue name as routing key.
const DLX = "tokotalk.dlx"

// Broker supervises a single AMQP connection and re-establishes it on
// transient failures. Producers and consumers hold separate Broker
// instances so a publisher never shares a connection with a consumer.
type Broker struct {
	url      string
	topology Topology

	mu     sync.RWMutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Topology describes the queues and exchanges the broker declares on
// every (re)connect.
type Topology struct {
	Queues        []string
	EventExchange string
}

// Connect dials RabbitMQ, declares the topology, and starts the
// reconnect supervisor.
func Connect(ctx context.Context, url string, topology Topology) (*Broker, error) {
	b := &Broker{
		url:      url,
		topology: topology,
		stopCh:   make(chan struct{}),
	}
	if err := b.dial(ctx); err != nil {
		return nil, err
	}
	b.wg.Add(1)
	go b.supervise()
	return b, nil
}

// Close stops the supervisor and closes the connection.
func (b *Broker) Close() error {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

// Channel returns the current live channel. Callers must not cache it
// across publishes; a reconnect replaces it.
func (b *Broker) Channel() (*amqp.Channel, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed || b.ch == nil {
		return nil, ErrClosed
	}
	return b.ch, nil
}

// dial establishes the connection, opens a channel, and declares topology.
func (b *Broker) dial(ctx context.Context) error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return fmt.Errorf("broker: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("broker: open channel: %w", err)
	}
	if err := declareTopology(ch, b.topology); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	b.mu.Lock()
	b.conn = conn
	b.ch = ch
	b.mu.Unlock()

	slog.Info("Broker connected", "queues", b.topology.Queues, "exchange", b.topology.EventExchange)
	_ = ctx
	return nil
}

// supervise watches for connection loss and redials with capped backoff.
func (b *Broker) supervise() {
	defer b.wg.Done()

	for {
		b.mu.RLock()
		conn := b.conn
		b.mu.RUnlock()
		if conn == nil {
			return
		}

		closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-b.stopCh:
			return
		case amqpErr := <-closeCh:
			if amqpErr == nil {
				// Clean shutdown.
				return
			}
			slog.Warn("Broker connection lost, reconnecting", "error", amqpErr)
		}

		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 500 * time.Millisecond
		bo.MaxInterval = 30 * time.Second
		bo.MaxElapsedTime = 0 // retry until stopped

		for {
			select {
			case <-b.stopCh:
				return
			case <-time.After(bo.NextBackOff()):
			}
			if err := b.dial(context.Background()); err != nil {
				slog.Warn("Broker reconnect failed", "error", err)
				continue
			}
			slog.Info("Broker reconnected")
			break
		}
	}
}

// declareTopology declares the DLX, every primary queue with its DLQ
// binding, and the topic event exchange. Idempotent: all declarations use
// the same durable parameters.
func declareTopology(ch *amqp.Channel, topo Topology) error {
	if err := ch.ExchangeDeclare(DLX, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("broker: declare dlx: %w", err)
	}

	for _, queue := range topo.Queues {
		// Primary queue dead-letters to the shared DLX with its own name
		// as routing key.
		_, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
			"x-dead-letter-exchange":    DLX,
			"x-dead-letter-routing-key": queue,
		})
		if err != nil {
			return fmt.Errorf("broker: declare queue %s: %w", queue, err)
		}

		dlq := queue + ".dlq"
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("broker: declare dlq %s: %w", dlq, err)
		}
		if err := ch.QueueBind(dlq, queue, DLX, false, nil); err != nil {
			return fmt.Errorf("broker: bind dlq %s: %w", dlq, err)
		}
	}

	if topo.EventExchange != "" {
		if err := ch.ExchangeDeclare(topo.EventExchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("broker: declare event exchange: %w", err)
		}
	}
	return nil
}

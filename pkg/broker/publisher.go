package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// delayGranularity rounds retry delays so holding queues are shared by
// retries with near-identical delays instead of proliferating per-message.
const delayGranularity = 100 * time.Millisecond

// Publisher publishes persistent JSON messages to task queues, domain
// events to the topic exchange, and delayed redeliveries through TTL'd
// holding queues.
type Publisher struct {
	broker        *Broker
	eventExchange string

	mu       sync.Mutex
	declared map[string]struct{} // holding queues already declared
}

// NewPublisher creates a publisher over the given broker connection.
func NewPublisher(b *Broker) *Publisher {
	return &Publisher{
		broker:        b,
		eventExchange: b.topology.EventExchange,
		declared:      make(map[string]struct{}),
	}
}

// PublishTask publishes a persistent JSON task message directly to a queue.
func (p *Publisher) PublishTask(ctx context.Context, queue string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("broker: encode task: %w", err)
	}
	ch, err := p.broker.Channel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         raw,
	})
	if err != nil {
		return fmt.Errorf("broker: publish to %s: %w", queue, err)
	}
	return nil
}

// PublishEvent publishes a fire-and-forget domain event to the topic
// exchange. The routing key is the dotted event name.
func (p *Publisher) PublishEvent(ctx context.Context, routingKey string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("broker: encode event: %w", err)
	}
	ch, err := p.broker.Channel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, p.eventExchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        raw,
	})
	if err != nil {
		return fmt.Errorf("broker: publish event %s: %w", routingKey, err)
	}
	return nil
}

// PublishDelayed schedules delivery of a task to queue after delay by
// publishing into a per-delay holding queue whose message TTL dead-letters
// into the target. Pending retries cannot be cancelled; consumers must
// consult job state before acting on a late redelivery.
func (p *Publisher) PublishDelayed(ctx context.Context, queue string, body any, delay time.Duration) error {
	rounded := roundDelay(delay)
	holding := HoldingQueueName(queue, rounded)
	if err := p.ensureHoldingQueue(holding, queue, rounded); err != nil {
		return err
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("broker: encode delayed task: %w", err)
	}
	ch, err := p.broker.Channel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, "", holding, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         raw,
	})
	if err != nil {
		return fmt.Errorf("broker: publish delayed to %s: %w", holding, err)
	}
	return nil
}

// HoldingQueueName returns the holding queue name for a target queue and
// rounded delay.
func HoldingQueueName(queue string, delay time.Duration) string {
	return fmt.Sprintf("%s.retry.%dms", queue, delay.Milliseconds())
}

// roundDelay rounds a delay up to the holding-queue granularity, with a
// floor of one granule.
func roundDelay(d time.Duration) time.Duration {
	if d <= delayGranularity {
		return delayGranularity
	}
	rounded := d.Round(delayGranularity)
	if rounded < d {
		rounded += delayGranularity
	}
	return rounded
}

// ensureHoldingQueue lazily declares the TTL'd holding queue that
// dead-letters into the target via the default exchange.
func (p *Publisher) ensureHoldingQueue(holding, target string, delay time.Duration) error {
	p.mu.Lock()
	_, ok := p.declared[holding]
	p.mu.Unlock()
	if ok {
		return nil
	}

	ch, err := p.broker.Channel()
	if err != nil {
		return err
	}
	_, err = ch.QueueDeclare(holding, true, false, false, false, amqp.Table{
		"x-message-ttl":             delay.Milliseconds(),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": target,
	})
	if err != nil {
		return fmt.Errorf("broker: declare holding queue %s: %w", holding, err)
	}

	p.mu.Lock()
	p.declared[holding] = struct{}{}
	p.mu.Unlock()
	return nil
}

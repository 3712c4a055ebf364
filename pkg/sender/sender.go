// Package sender drains the outgoing queue into the WhatsApp bridge.
// Chunk ordering is preserved by consuming with prefetch 1; transient
// bridge failures are retried through the delayed holding queue before
// the chunk is given up to the DLQ.
package sender

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tokotalk/tokotalk/pkg/broker"
	"github.com/tokotalk/tokotalk/pkg/events"
	"github.com/tokotalk/tokotalk/pkg/metrics"
	"github.com/tokotalk/tokotalk/pkg/outgoing"
)

// Bridge is the slice of the WAHA client the sender needs.
type Bridge interface {
	SendText(ctx context.Context, session, chatID, text, replyTo string) error
}

// DelayedPublisher schedules a redelivery after a delay.
type DelayedPublisher interface {
	PublishDelayed(ctx context.Context, queue string, body any, delay time.Duration) error
}

// Sender handles one outgoing chunk per delivery.
type Sender struct {
	bridge      Bridge
	delayed     DelayedPublisher
	emitter     *events.Emitter
	queue       string
	maxAttempts int
	retryDelay  time.Duration
	logger      *slog.Logger
}

// New creates a sender. maxAttempts counts total delivery tries per
// chunk; retryDelay is the hold before each retry.
func New(bridge Bridge, delayed DelayedPublisher, emitter *events.Emitter,
	queue string, maxAttempts int, retryDelay time.Duration, logger *slog.Logger) *Sender {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &Sender{
		bridge:      bridge,
		delayed:     delayed,
		emitter:     emitter,
		queue:       queue,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		logger:      logger.With("component", "sender"),
	}
}

// HandleMessage is the broker.Handler for the outgoing queue.
func (s *Sender) HandleMessage(ctx context.Context, delivery amqp.Delivery) error {
	var msg outgoing.Message
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		return fmt.Errorf("%w: decode outgoing message: %v", broker.ErrBadMessage, err)
	}
	if msg.ChatID == "" || msg.Session == "" {
		return fmt.Errorf("%w: outgoing message without chat_id or session", broker.ErrBadMessage)
	}

	attempt := metaInt(msg.Metadata, "send_attempt") + 1
	tenantID := metaString(msg.Metadata, "tenant_id")
	chunk := metaInt(msg.Metadata, "chunk")
	total := metaInt(msg.Metadata, "total_chunks")
	log := s.logger.With("chat_id", msg.ChatID, "message_id", msg.ID,
		"chunk", chunk, "total_chunks", total)

	err := s.bridge.SendText(ctx, msg.Session, msg.ChatID, msg.Text, msg.ReplyTo)
	if err == nil {
		metrics.ChunksSent.Inc()
		if chunk == total {
			s.emitter.Reply(ctx, events.EventReplySent, tenantID, msg.ChatID, chunk, total, "")
		}
		return nil
	}

	metrics.SendFailures.Inc()
	if attempt >= s.maxAttempts {
		log.Error("Giving up on outgoing chunk", "attempt", attempt, "error", err)
		s.emitter.Reply(ctx, events.EventReplyFailed, tenantID, msg.ChatID, chunk, total, err.Error())
		return fmt.Errorf("send chunk after %d attempts: %w", attempt, err)
	}

	log.Warn("Bridge send failed, scheduling retry", "attempt", attempt, "error", err)
	if msg.Metadata == nil {
		msg.Metadata = map[string]any{}
	}
	msg.Metadata["send_attempt"] = attempt
	if err := s.delayed.PublishDelayed(ctx, s.queue, msg, s.retryDelay); err != nil {
		return fmt.Errorf("schedule chunk retry: %w", err)
	}
	return nil
}

func metaString(meta map[string]any, key string) string {
	v, _ := meta[key].(string)
	return v
}

// metaInt reads a numeric metadata value; JSON decoding yields float64.
func metaInt(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tokotalk/tokotalk/pkg/broker"
	"github.com/tokotalk/tokotalk/pkg/buffer"
	"github.com/tokotalk/tokotalk/pkg/dedup"
	"github.com/tokotalk/tokotalk/pkg/events"
	"github.com/tokotalk/tokotalk/pkg/geo"
	"github.com/tokotalk/tokotalk/pkg/metrics"
)

// IncomingMessage is the task the gateway publishes to crm_tasks for each
// accepted webhook message.
type IncomingMessage struct {
	TenantID    string    `json:"tenant_id"`
	Session     string    `json:"session"`
	ChatID      string    `json:"chat_id"`
	MessageID   string    `json:"message_id"`
	FromName    string    `json:"from_name,omitempty"`
	Type        string    `json:"type"` // text | location
	Text        string    `json:"text"`
	Latitude    float64   `json:"latitude,omitempty"`
	Longitude   float64   `json:"longitude,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	WebhookType string    `json:"webhook_type"`
}

// Ingestor consumes crm_tasks: dedup, enrich, buffer. The flush worker
// picks the buffered chat up later.
type Ingestor struct {
	dedup    *dedup.Deduplicator
	buffers  *buffer.Manager
	geocoder *geo.Geocoder
	emitter  *events.Emitter
	logger   *slog.Logger
}

// NewIngestor wires the crm_tasks handler.
func NewIngestor(d *dedup.Deduplicator, buffers *buffer.Manager, geocoder *geo.Geocoder,
	emitter *events.Emitter, logger *slog.Logger) *Ingestor {
	return &Ingestor{dedup: d, buffers: buffers, geocoder: geocoder, emitter: emitter, logger: logger}
}

// HandleTask is the broker.Handler for crm_tasks.
func (in *Ingestor) HandleTask(ctx context.Context, delivery amqp.Delivery) error {
	var msg IncomingMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		return fmt.Errorf("%w: decode incoming message: %v", broker.ErrBadMessage, err)
	}
	if msg.ChatID == "" || msg.Session == "" {
		return fmt.Errorf("%w: incoming message missing chat_id or session", broker.ErrBadMessage)
	}
	log := in.logger.With("chat_id", msg.ChatID, "message_id", msg.MessageID)

	duplicate, err := in.dedup.CheckAndMark(ctx, msg.TenantID, msg.ChatID, msg.MessageID)
	if err != nil {
		// Unknown dedup outcome: proceed. A duplicate reply beats a
		// silently dropped customer message.
		log.Warn("Dedup check failed, treating as new", "error", err)
	} else if duplicate {
		log.Info("Dropping duplicate message")
		metrics.DedupHits.Inc()
		in.emitter.Message(ctx, events.EventMessageDuplicate, msg.TenantID, msg.ChatID, msg.MessageID)
		return nil
	}

	text := msg.Text
	if msg.Type == "location" {
		text = in.describeLocation(ctx, msg)
	}

	result, err := in.buffers.AddMessage(ctx, msg.ChatID, text, timestampOf(msg), map[string]any{
		"message_id": msg.MessageID,
		"session":    msg.Session,
		"from_name":  msg.FromName,
	})
	if err != nil {
		// Forget the dedup mark so a broker redelivery is not dropped as
		// a duplicate of a message that never reached the buffer.
		if unmarkErr := in.dedup.Unmark(ctx, msg.TenantID, msg.ChatID, msg.MessageID); unmarkErr != nil {
			log.Warn("Failed to unmark message after buffer error", "error", unmarkErr)
		}
		return fmt.Errorf("buffer message for %s: %w", msg.ChatID, err)
	}

	metrics.MessagesBuffered.Inc()
	in.emitter.Message(ctx, events.EventMessageBuffered, msg.TenantID, msg.ChatID, msg.MessageID)
	log.Debug("Message buffered",
		"count", result.MessageCount, "until_flush", result.UntilFlush)
	return nil
}

// describeLocation turns a shared location into prompt text, enriched
// with a reverse-geocoded address when the geocoder is configured.
func (in *Ingestor) describeLocation(ctx context.Context, msg IncomingMessage) string {
	base := fmt.Sprintf("[Customer shared a location: %.6f, %.6f]", msg.Latitude, msg.Longitude)
	loc, err := in.geocoder.ReverseGeocode(ctx, msg.Latitude, msg.Longitude)
	if err != nil {
		if err != geo.ErrNoResults {
			in.logger.Warn("Reverse geocode failed", "chat_id", msg.ChatID, "error", err)
		}
		return base
	}
	return fmt.Sprintf("[Customer shared a location: %s (%.6f, %.6f)]",
		loc.FormattedAddress, msg.Latitude, msg.Longitude)
}

func timestampOf(msg IncomingMessage) time.Time {
	if msg.Timestamp.IsZero() {
		return time.Now()
	}
	return msg.Timestamp
}

package events

import (
	"context"
	"log/slog"
	"time"
)

// EventPublisher is the slice of the broker publisher the emitter needs.
type EventPublisher interface {
	PublishEvent(ctx context.Context, routingKey string, payload any) error
}

// Emitter publishes domain events. Emission is best-effort: a failed
// publish is logged and swallowed so event fan-out can never fail the
// operation that produced it.
type Emitter struct {
	pub    EventPublisher
	logger *slog.Logger
	now    func() time.Time
}

// NewEmitter creates an emitter over the given publisher.
func NewEmitter(pub EventPublisher, logger *slog.Logger) *Emitter {
	return &Emitter{
		pub:    pub,
		logger: logger.With("component", "events"),
		now:    time.Now,
	}
}

func (e *Emitter) timestamp() string {
	return e.now().UTC().Format(time.RFC3339Nano)
}

func (e *Emitter) emit(ctx context.Context, name string, payload any) {
	if err := e.pub.PublishEvent(ctx, name, payload); err != nil {
		e.logger.Warn("Failed to publish event", "event", name, "error", err)
	}
}

// Message emits a message.* event.
func (e *Emitter) Message(ctx context.Context, name, tenantID, chatID, messageID string) {
	e.emit(ctx, name, MessagePayload{
		Type:      name,
		TenantID:  tenantID,
		ChatID:    chatID,
		MessageID: messageID,
		Timestamp: e.timestamp(),
	})
}

// ProcessingStarted emits processing.started.
func (e *Emitter) ProcessingStarted(ctx context.Context, tenantID, chatID string) {
	e.emit(ctx, EventProcessingStarted, ProcessingPayload{
		Type:      EventProcessingStarted,
		TenantID:  tenantID,
		ChatID:    chatID,
		Timestamp: e.timestamp(),
	})
}

// ProcessingCompleted emits processing.completed with the run duration.
func (e *Emitter) ProcessingCompleted(ctx context.Context, tenantID, chatID string, elapsed time.Duration) {
	e.emit(ctx, EventProcessingCompleted, ProcessingPayload{
		Type:       EventProcessingCompleted,
		TenantID:   tenantID,
		ChatID:     chatID,
		DurationMS: elapsed.Milliseconds(),
		Timestamp:  e.timestamp(),
	})
}

// ProcessingFailed emits processing.failed.
func (e *Emitter) ProcessingFailed(ctx context.Context, tenantID, chatID string, elapsed time.Duration, err error) {
	payload := ProcessingPayload{
		Type:       EventProcessingFailed,
		TenantID:   tenantID,
		ChatID:     chatID,
		DurationMS: elapsed.Milliseconds(),
		Timestamp:  e.timestamp(),
	}
	if err != nil {
		payload.Error = err.Error()
	}
	e.emit(ctx, EventProcessingFailed, payload)
}

// ConversationCreated emits conversation.created.
func (e *Emitter) ConversationCreated(ctx context.Context, tenantID, chatID string) {
	e.emit(ctx, EventConversationCreated, ConversationPayload{
		Type:      EventConversationCreated,
		TenantID:  tenantID,
		ChatID:    chatID,
		Timestamp: e.timestamp(),
	})
}

// ConversationStateChanged emits conversation.state_changed.
func (e *Emitter) ConversationStateChanged(ctx context.Context, tenantID, chatID, from, to string) {
	e.emit(ctx, EventConversationStateChanged, ConversationPayload{
		Type:      EventConversationStateChanged,
		TenantID:  tenantID,
		ChatID:    chatID,
		FromState: from,
		ToState:   to,
		Timestamp: e.timestamp(),
	})
}

// ConversationMessageAdded emits conversation.message_added.
func (e *Emitter) ConversationMessageAdded(ctx context.Context, tenantID, chatID, role string) {
	e.emit(ctx, EventConversationMessageAdded, ConversationPayload{
		Type:      EventConversationMessageAdded,
		TenantID:  tenantID,
		ChatID:    chatID,
		Role:      role,
		Timestamp: e.timestamp(),
	})
}

// Label emits a label.* event.
func (e *Emitter) Label(ctx context.Context, name, tenantID, chatID, label string) {
	e.emit(ctx, name, ConversationPayload{
		Type:      name,
		TenantID:  tenantID,
		ChatID:    chatID,
		Label:     label,
		Timestamp: e.timestamp(),
	})
}

// Customer emits a customer.* event.
func (e *Emitter) Customer(ctx context.Context, name, tenantID, customerID, chatID string) {
	e.emit(ctx, name, CustomerPayload{
		Type:       name,
		TenantID:   tenantID,
		CustomerID: customerID,
		ChatID:     chatID,
		Timestamp:  e.timestamp(),
	})
}

// Ticket emits a ticket.* event.
func (e *Emitter) Ticket(ctx context.Context, name, tenantID, ticketID, status string) {
	e.emit(ctx, name, TicketPayload{
		Type:      name,
		TenantID:  tenantID,
		TicketID:  ticketID,
		Status:    status,
		Timestamp: e.timestamp(),
	})
}

// Order emits an order.* event.
func (e *Emitter) Order(ctx context.Context, name, tenantID, orderID, customerID, status, fromStatus string, total float64) {
	e.emit(ctx, name, OrderPayload{
		Type:       name,
		TenantID:   tenantID,
		OrderID:    orderID,
		CustomerID: customerID,
		Status:     status,
		FromStatus: fromStatus,
		Total:      total,
		Timestamp:  e.timestamp(),
	})
}

// Payment emits a payment.* event.
func (e *Emitter) Payment(ctx context.Context, name, tenantID, paymentID, orderID, provider, status, fromStatus string, amount float64) {
	e.emit(ctx, name, PaymentPayload{
		Type:       name,
		TenantID:   tenantID,
		PaymentID:  paymentID,
		OrderID:    orderID,
		Provider:   provider,
		Status:     status,
		FromStatus: fromStatus,
		Amount:     amount,
		Timestamp:  e.timestamp(),
	})
}

// Job emits a job.* event.
func (e *Emitter) Job(ctx context.Context, name, tenantID, jobID, jobType, status, errMsg string) {
	e.emit(ctx, name, JobPayload{
		Type:      name,
		TenantID:  tenantID,
		JobID:     jobID,
		JobType:   jobType,
		Status:    status,
		Error:     errMsg,
		Timestamp: e.timestamp(),
	})
}

// Reply emits a reply.* event.
func (e *Emitter) Reply(ctx context.Context, name, tenantID, chatID string, chunk, total int, errMsg string) {
	e.emit(ctx, name, ReplyPayload{
		Type:        name,
		TenantID:    tenantID,
		ChatID:      chatID,
		Chunk:       chunk,
		TotalChunks: total,
		Error:       errMsg,
		Timestamp:   e.timestamp(),
	})
}

// Package events defines the platform's domain events and the emitter
// that publishes them to the broker's topic exchange. Event names double
// as routing keys, so consumers can bind with patterns like "order.*"
// or "payment.status_changed".
package events

// Message pipeline events.
const (
	EventMessageReceived  = "message.received"  // webhook accepted an inbound message
	EventMessageBuffered  = "message.buffered"  // message appended to a chat buffer
	EventMessageDuplicate = "message.duplicate" // dedup dropped a redelivery
)

// Agent processing lifecycle.
const (
	EventProcessingStarted   = "processing.started"
	EventProcessingCompleted = "processing.completed"
	EventProcessingFailed    = "processing.failed"
)

// Conversation lifecycle.
const (
	EventConversationCreated      = "conversation.created"
	EventConversationMessageAdded = "conversation.message_added"
	EventConversationStateChanged = "conversation.state_changed"
)

// Customer lifecycle.
const (
	EventCustomerCreated = "customer.created"
	EventCustomerUpdated = "customer.updated"
)

// Commerce lifecycle.
const (
	EventOrderCreated         = "order.created"
	EventOrderItemAdded       = "order.item_added"
	EventOrderStatusChanged   = "order.status_changed"
	EventPaymentInitiated     = "payment.initiated"
	EventPaymentStatusChanged = "payment.status_changed"
)

// CRM lifecycle.
const (
	EventLabelApplied  = "label.applied"
	EventLabelRemoved  = "label.removed"
	EventTicketCreated = "ticket.created"
	EventTicketUpdated = "ticket.updated"
)

// Job lifecycle.
const (
	EventJobSubmitted = "job.submitted"
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
)

// Outgoing delivery.
const (
	EventReplySent   = "reply.sent"
	EventReplyFailed = "reply.failed"
)

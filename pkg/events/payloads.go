package events

// MessagePayload is the payload for message.* events.
type MessagePayload struct {
	Type      string `json:"type"`       // event name, mirrors the routing key
	TenantID  string `json:"tenant_id"`  // owning tenant UUID
	ChatID    string `json:"chat_id"`    // bridge chat id
	MessageID string `json:"message_id"` // bridge message id
	Timestamp string `json:"timestamp"`  // RFC3339Nano
}

// ProcessingPayload is the payload for processing.* events.
type ProcessingPayload struct {
	Type       string `json:"type"`
	TenantID   string `json:"tenant_id"`
	ChatID     string `json:"chat_id"`
	DurationMS int64  `json:"duration_ms,omitempty"` // set on completed/failed
	Error      string `json:"error,omitempty"`       // set on failed
	Timestamp  string `json:"timestamp"`
}

// ConversationPayload is the payload for conversation.* events.
type ConversationPayload struct {
	Type      string `json:"type"`
	TenantID  string `json:"tenant_id"`
	ChatID    string `json:"chat_id"`
	FromState string `json:"from_state,omitempty"` // state_changed only
	ToState   string `json:"to_state,omitempty"`
	Role      string `json:"role,omitempty"`  // message_added only
	Label     string `json:"label,omitempty"` // label.* only
	Timestamp string `json:"timestamp"`
}

// CustomerPayload is the payload for customer.* events.
type CustomerPayload struct {
	Type       string `json:"type"`
	TenantID   string `json:"tenant_id"`
	CustomerID string `json:"customer_id"`
	ChatID     string `json:"chat_id"`
	Timestamp  string `json:"timestamp"`
}

// TicketPayload is the payload for ticket.* events.
type TicketPayload struct {
	Type      string `json:"type"`
	TenantID  string `json:"tenant_id"`
	TicketID  string `json:"ticket_id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// OrderPayload is the payload for order.* events.
type OrderPayload struct {
	Type       string  `json:"type"`
	TenantID   string  `json:"tenant_id"`
	OrderID    string  `json:"order_id"`
	CustomerID string  `json:"customer_id"`
	Status     string  `json:"status"`
	FromStatus string  `json:"from_status,omitempty"` // status_changed only
	Total      float64 `json:"total"`
	Timestamp  string  `json:"timestamp"`
}

// PaymentPayload is the payload for payment.* events.
type PaymentPayload struct {
	Type       string  `json:"type"`
	TenantID   string  `json:"tenant_id"`
	PaymentID  string  `json:"payment_id"`
	OrderID    string  `json:"order_id"`
	Provider   string  `json:"provider"`
	Status     string  `json:"status"`
	FromStatus string  `json:"from_status,omitempty"`
	Amount     float64 `json:"amount"`
	Timestamp  string  `json:"timestamp"`
}

// JobPayload is the payload for job.* events.
type JobPayload struct {
	Type      string `json:"type"`
	TenantID  string `json:"tenant_id,omitempty"`
	JobID     string `json:"job_id"`
	JobType   string `json:"job_type"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// ReplyPayload is the payload for reply.* events.
type ReplyPayload struct {
	Type        string `json:"type"`
	TenantID    string `json:"tenant_id"`
	ChatID      string `json:"chat_id"`
	Chunk       int    `json:"chunk"`        // 1-based chunk index
	TotalChunks int    `json:"total_chunks"` // chunks produced by the splitter
	Error       string `json:"error,omitempty"`
	Timestamp   string `json:"timestamp"`
}

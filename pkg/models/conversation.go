package models

import "time"

// ConversationState drives which tools the agent may call and how the
// system prompt is framed.
type ConversationState string

// Conversation states.
const (
	StateGreeting  ConversationState = "greeting"
	StateBrowsing  ConversationState = "browsing"
	StateOrdering  ConversationState = "ordering"
	StateCheckout  ConversationState = "checkout"
	StatePayment   ConversationState = "payment"
	StateSupport   ConversationState = "support"
	StateCompleted ConversationState = "completed"
)

// conversationTransitions enumerates the allowed edges. completed is
// terminal; support is reachable from every live state and can return
// the customer to any shopping state.
var conversationTransitions = map[ConversationState][]ConversationState{
	StateGreeting: {StateBrowsing, StateOrdering, StateSupport},
	StateBrowsing: {StateOrdering, StateGreeting, StateSupport},
	StateOrdering: {StateCheckout, StateBrowsing, StateSupport},
	StateCheckout: {StatePayment, StateOrdering, StateSupport},
	StatePayment:  {StateCompleted, StateCheckout, StateSupport},
	StateSupport:  {StateGreeting, StateBrowsing, StateOrdering, StateCompleted},
}

// CanTransition reports whether from → to is an allowed edge. Staying in
// the same state is always allowed.
func (from ConversationState) CanTransition(to ConversationState) bool {
	if from == to {
		return true
	}
	for _, next := range conversationTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidConversationState reports whether s names a known state.
func ValidConversationState(s ConversationState) bool {
	switch s {
	case StateGreeting, StateBrowsing, StateOrdering, StateCheckout,
		StatePayment, StateSupport, StateCompleted:
		return true
	}
	return false
}

// HistoryCap bounds the stored message history; HistoryWindow is the
// slice sent to the LLM.
const (
	HistoryCap    = 100
	HistoryWindow = 20
)

// ConversationMessage is one turn of the hot history.
type ConversationMessage struct {
	Role      string         `json:"role"` // user | assistant
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Conversation is the per-chat hot state. It lives only in the cache
// (TTL 24h from last activity); long-term archival is out of scope.
type Conversation struct {
	ID             string                `json:"id"` // the wa_chat_id
	TenantID       string                `json:"tenant_id"`
	CustomerID     string                `json:"customer_id"`
	State          ConversationState     `json:"state"`
	Messages       []ConversationMessage `json:"messages"`
	Context        map[string]any        `json:"context,omitempty"`
	CurrentOrderID string                `json:"current_order_id,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	LastActivityAt time.Time             `json:"last_activity_at"`
}

// Append adds a message, enforcing the history cap by dropping the
// oldest turns.
func (c *Conversation) Append(msg ConversationMessage) {
	c.Messages = append(c.Messages, msg)
	if len(c.Messages) > HistoryCap {
		c.Messages = c.Messages[len(c.Messages)-HistoryCap:]
	}
	c.LastActivityAt = msg.Timestamp
}

// Recent returns the last n messages (the LLM window).
func (c *Conversation) Recent(n int) []ConversationMessage {
	if len(c.Messages) <= n {
		return c.Messages
	}
	return c.Messages[len(c.Messages)-n:]
}

package agent

import (
	"fmt"
	"strings"

	"github.com/tokotalk/tokotalk/pkg/llm"
	"github.com/tokotalk/tokotalk/pkg/models"
)

// CustomerSummary is the slice of the customer record the prompt exposes.
type CustomerSummary struct {
	Name        string
	TotalOrders int
	IsVIP       bool
}

// defaultAgentPrompt is used when a tenant has not configured one.
const defaultAgentPrompt = "You are a friendly shop assistant for an online store on WhatsApp. " +
	"Help the customer browse products, assemble orders, and pay. " +
	"Answer in the customer's language, keep replies short, and use the available tools instead of guessing."

// fallbackPrompt is deliberately simple: no tools, no enhanced context
// beyond the store prompt, because it runs when things are going wrong.
const fallbackPrompt = "You are a shop assistant on WhatsApp. The customer's message could not be handled normally. " +
	"Reply with a brief, polite message telling them a human will follow up if needed. Do not make up order details."

// systemPrompt combines the tenant's agent prompt with the enhanced
// context block the model needs to call tools sensibly. previous_topic
// only makes sense when resuming a thread, so the followup route alone
// carries it.
func systemPrompt(base string, input Input, rt Route, toolNames []string) string {
	if base == "" {
		base = defaultAgentPrompt
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\n## Context\n")
	fmt.Fprintf(&b, "conversation_id: %s\n", input.ConversationID)
	fmt.Fprintf(&b, "conversation_state: %s\n", input.State)
	if input.Customer.Name != "" {
		fmt.Fprintf(&b, "customer_name: %s\n", input.Customer.Name)
	}
	fmt.Fprintf(&b, "customer_total_orders: %d\n", input.Customer.TotalOrders)
	fmt.Fprintf(&b, "customer_is_vip: %t\n", input.Customer.IsVIP)
	if len(toolNames) > 0 {
		fmt.Fprintf(&b, "available_tools: %s\n", strings.Join(toolNames, ", "))
	}
	if rt == RouteFollowup {
		if topic := contextString(input.Context, "previous_topic"); topic != "" {
			fmt.Fprintf(&b, "previous_topic: %s\n", topic)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func contextString(ctx map[string]any, key string) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx[key].(string); ok {
		return v
	}
	return ""
}

func contextBool(ctx map[string]any, key string) bool {
	if ctx == nil {
		return false
	}
	if v, ok := ctx[key].(bool); ok {
		return v
	}
	return false
}

// Input is everything one graph run needs about the turn.
type Input struct {
	TenantID       string
	CustomerID     string
	ConversationID string
	State          models.ConversationState
	AgentPrompt    string
	Customer       CustomerSummary
	Context        map[string]any
	// History is the recent window, oldest first, user turn last.
	History []llm.Message
}

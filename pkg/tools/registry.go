// Package tools holds the agent's callable tools. The registry is
// process-wide; which tools a given LLM call may see is decided solely
// by the conversation state.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/tokotalk/tokotalk/pkg/llm"
	"github.com/tokotalk/tokotalk/pkg/metrics"
	"github.com/tokotalk/tokotalk/pkg/models"
)

// Invocation carries a tool call's arguments plus the identity fields
// the executor injects itself; the model never supplies those.
type Invocation struct {
	TenantID       string
	CustomerID     string
	ConversationID string
	Args           map[string]any
}

// Handler executes one tool call and returns a JSON-encodable result.
type Handler func(ctx context.Context, inv Invocation) (any, error)

// Tool pairs a definition with its executor.
type Tool struct {
	Definition llm.ToolDefinition
	Handler    Handler
}

// Registry maps tool names to tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Re-registering a name replaces it.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Definition.Name] = tool
}

// Get returns the tool for a name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names lists registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// stateTools is the closed mapping from conversation state to the tool
// names that state exposes to the model.
var stateTools = map[models.ConversationState][]string{
	models.StateGreeting: {"get_customer_profile"},
	models.StateBrowsing: {"search_products", "get_product_details", "check_stock", "create_order"},
	models.StateOrdering: {"add_to_order", "get_order_status", "get_customer_orders", "create_order", "cancel_order"},
	models.StateCheckout: {"confirm_order", "get_order_status", "cancel_order"},
	models.StatePayment:  {"initiate_payment", "check_payment_status"},
	models.StateSupport:  {"get_customer_profile", "get_order_status", "get_customer_orders", "label_conversation", "get_available_labels"},
}

// ToolNamesFor returns the tool names a conversation state exposes.
func ToolNamesFor(state models.ConversationState) []string {
	return stateTools[state]
}

// DefinitionsFor returns the definitions of the registered tools the
// given state exposes. Unregistered names are silently skipped.
func (r *Registry) DefinitionsFor(state models.ConversationState) []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var defs []llm.ToolDefinition
	for _, name := range stateTools[state] {
		if tool, ok := r.tools[name]; ok {
			defs = append(defs, tool.Definition)
		}
	}
	return defs
}

// Execute runs a tool call and always produces a JSON result string.
// Unknown tools and executor failures are synthesised into an error
// payload so the calling loop can continue.
func (r *Registry) Execute(ctx context.Context, name string, inv Invocation) string {
	tool, ok := r.Get(name)
	if !ok {
		return errorResult(fmt.Sprintf("Tool %s not available", name))
	}
	metrics.ToolExecutions.WithLabelValues(name).Inc()
	result, err := tool.Handler(ctx, inv)
	if err != nil {
		return errorResult(err.Error())
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to encode result: %v", err))
	}
	return string(raw)
}

func errorResult(msg string) string {
	raw, _ := json.Marshal(map[string]string{"error": msg})
	return string(raw)
}

// Argument accessors tolerant of the JSON the model produces.

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func argInt(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

func argFloat(args map[string]any, key string) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokotalk/tokotalk/pkg/llm"
	"github.com/tokotalk/tokotalk/pkg/models"
)

func TestRegistryExecute(t *testing.T) {
	r := NewRegistry()
	r.Register(Tool{
		Definition: toolDef("echo", "Echo the query back.", objectSchema(map[string]any{
			"query": map[string]any{"type": "string"},
		}, "query")),
		Handler: func(ctx context.Context, inv Invocation) (any, error) {
			return map[string]any{"echo": argString(inv.Args, "query"), "tenant": inv.TenantID}, nil
		},
	})
	r.Register(Tool{
		Definition: toolDef("broken", "Always fails.", objectSchema(map[string]any{})),
		Handler: func(ctx context.Context, inv Invocation) (any, error) {
			return nil, errors.New("backend down")
		},
	})

	ctx := context.Background()
	inv := Invocation{TenantID: "t1", CustomerID: "c1", ConversationID: "chat1"}

	t.Run("result is JSON", func(t *testing.T) {
		inv := inv
		inv.Args = map[string]any{"query": "kopi"}
		out := r.Execute(ctx, "echo", inv)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &decoded))
		assert.Equal(t, "kopi", decoded["echo"])
		assert.Equal(t, "t1", decoded["tenant"])
	})

	t.Run("unknown tool produces an error result, not a failure", func(t *testing.T) {
		out := r.Execute(ctx, "teleport", inv)
		assert.JSONEq(t, `{"error": "Tool teleport not available"}`, out)
	})

	t.Run("handler error is wrapped as a result", func(t *testing.T) {
		out := r.Execute(ctx, "broken", inv)
		assert.JSONEq(t, `{"error": "backend down"}`, out)
	})
}

func TestDefinitionsForState(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{
		"get_customer_profile", "search_products", "get_product_details", "check_stock",
		"create_order", "add_to_order", "get_order_status", "get_customer_orders",
		"cancel_order", "confirm_order", "initiate_payment", "check_payment_status",
		"label_conversation", "get_available_labels",
	} {
		r.Register(Tool{
			Definition: llm.ToolDefinition{Name: name},
			Handler: func(ctx context.Context, inv Invocation) (any, error) {
				return map[string]any{}, nil
			},
		})
	}

	names := func(defs []llm.ToolDefinition) []string {
		out := make([]string, 0, len(defs))
		for _, d := range defs {
			out = append(out, d.Name)
		}
		return out
	}

	t.Run("browsing exposes catalogue tools only", func(t *testing.T) {
		got := names(r.DefinitionsFor(models.StateBrowsing))
		assert.ElementsMatch(t,
			[]string{"search_products", "get_product_details", "check_stock", "create_order"}, got)
		assert.NotContains(t, got, "initiate_payment")
	})

	t.Run("payment exposes payment tools only", func(t *testing.T) {
		got := names(r.DefinitionsFor(models.StatePayment))
		assert.ElementsMatch(t, []string{"initiate_payment", "check_payment_status"}, got)
	})

	t.Run("completed exposes nothing", func(t *testing.T) {
		assert.Empty(t, r.DefinitionsFor(models.StateCompleted))
	})

	t.Run("unregistered names are skipped", func(t *testing.T) {
		sparse := NewRegistry()
		sparse.Register(Tool{
			Definition: llm.ToolDefinition{Name: "search_products"},
			Handler: func(ctx context.Context, inv Invocation) (any, error) {
				return map[string]any{}, nil
			},
		})
		got := names(sparse.DefinitionsFor(models.StateBrowsing))
		assert.Equal(t, []string{"search_products"}, got)
	})
}

package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/tokotalk/tokotalk/pkg/llm"
	"github.com/tokotalk/tokotalk/pkg/models"
	"github.com/tokotalk/tokotalk/pkg/services"
)

// Deps are the services the built-in tools execute against.
type Deps struct {
	Customers     *services.CustomerService
	Products      *services.ProductService
	Orders        *services.OrderService
	Payments      *services.PaymentService
	CRM           *services.CRMService
	Conversations *services.ConversationService

	// DefaultPaymentProvider is used when the model does not name one.
	DefaultPaymentProvider string
}

// RegisterAll registers every built-in tool against the given services.
func RegisterAll(r *Registry, deps Deps) {
	registerCustomerTools(r, deps)
	registerCatalogueTools(r, deps)
	registerOrderTools(r, deps)
	registerPaymentTools(r, deps)
	registerCRMTools(r, deps)
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func registerCustomerTools(r *Registry, deps Deps) {
	r.Register(Tool{
		Definition: toolDef("get_customer_profile",
			"Get the current customer's profile: name, order history totals, VIP status, and address.",
			objectSchema(map[string]any{})),
		Handler: func(ctx context.Context, inv Invocation) (any, error) {
			customer, err := deps.Customers.GetCustomer(ctx, inv.CustomerID)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"name":         customer.Name,
				"phone":        customer.Phone,
				"total_orders": customer.TotalOrders,
				"total_spent":  customer.TotalSpent,
				"is_vip":       customer.IsVIP,
				"address":      customer.Address,
			}, nil
		},
	})
}

func registerCatalogueTools(r *Registry, deps Deps) {
	r.Register(Tool{
		Definition: toolDef("search_products",
			"Search the product catalogue by name, description, or category.",
			objectSchema(map[string]any{
				"query": map[string]any{"type": "string", "description": "Free-text search query."},
				"limit": map[string]any{"type": "integer", "description": "Maximum results, default 10."},
			}, "query")),
		Handler: func(ctx context.Context, inv Invocation) (any, error) {
			products, err := deps.Products.SearchProducts(ctx, inv.TenantID,
				argString(inv.Args, "query"), argInt(inv.Args, "limit"))
			if err != nil {
				return nil, err
			}
			results := make([]map[string]any, 0, len(products))
			for _, p := range products {
				results = append(results, map[string]any{
					"product_id": p.ID,
					"name":       p.Name,
					"category":   p.Category,
					"price":      p.BasePrice,
					"stock":      p.Stock,
				})
			}
			return map[string]any{"products": results, "count": len(results)}, nil
		},
	})

	r.Register(Tool{
		Definition: toolDef("get_product_details",
			"Get the full details of one product, including variants.",
			objectSchema(map[string]any{
				"product_id": map[string]any{"type": "string"},
			}, "product_id")),
		Handler: func(ctx context.Context, inv Invocation) (any, error) {
			product, err := deps.Products.GetProduct(ctx, inv.TenantID, argString(inv.Args, "product_id"))
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"product_id":  product.ID,
				"name":        product.Name,
				"description": product.Description,
				"category":    product.Category,
				"price":       product.BasePrice,
				"stock":       product.Stock,
				"variants":    product.Variants,
			}, nil
		},
	})

	r.Register(Tool{
		Definition: toolDef("check_stock",
			"Check whether a quantity of a product is in stock.",
			objectSchema(map[string]any{
				"product_id": map[string]any{"type": "string"},
				"quantity":   map[string]any{"type": "integer"},
			}, "product_id", "quantity")),
		Handler: func(ctx context.Context, inv Invocation) (any, error) {
			available, stock, err := deps.Products.CheckStock(ctx, inv.TenantID,
				argString(inv.Args, "product_id"), argInt(inv.Args, "quantity"))
			if err != nil {
				return nil, err
			}
			return map[string]any{"available": available, "stock": stock}, nil
		},
	})
}

func registerOrderTools(r *Registry, deps Deps) {
	r.Register(Tool{
		Definition: toolDef("create_order",
			"Create a new order for the customer, optionally with initial items.",
			objectSchema(map[string]any{
				"items": map[string]any{
					"type": "array",
					"items": objectSchema(map[string]any{
						"product_id":  map[string]any{"type": "string"},
						"variant_sku": map[string]any{"type": "string"},
						"quantity":    map[string]any{"type": "integer"},
					}, "product_id", "quantity"),
				},
			})),
		Handler: func(ctx context.Context, inv Invocation) (any, error) {
			var items []services.ItemRequest
			if raw, ok := inv.Args["items"].([]any); ok {
				for _, entry := range raw {
					if m, ok := entry.(map[string]any); ok {
						items = append(items, services.ItemRequest{
							ProductID:  argString(m, "product_id"),
							VariantSKU: argString(m, "variant_sku"),
							Quantity:   argInt(m, "quantity"),
						})
					}
				}
			}
			order, err := deps.Orders.CreateOrder(ctx, inv.TenantID, inv.CustomerID, inv.ConversationID, items)
			if err != nil {
				return nil, err
			}
			if _, err := deps.Conversations.SetCurrentOrder(ctx, inv.ConversationID, order.ID); err != nil &&
				!errors.Is(err, services.ErrNotFound) {
				return nil, err
			}
			return orderView(order), nil
		},
	})

	r.Register(Tool{
		Definition: toolDef("add_to_order",
			"Add a product to the order being assembled. Re-adding the same product and variant increases its quantity.",
			objectSchema(map[string]any{
				"order_id":    map[string]any{"type": "string", "description": "Defaults to the conversation's current order."},
				"product_id":  map[string]any{"type": "string"},
				"variant_sku": map[string]any{"type": "string"},
				"quantity":    map[string]any{"type": "integer"},
			}, "product_id", "quantity")),
		Handler: func(ctx context.Context, inv Invocation) (any, error) {
			orderID, err := resolveOrderID(ctx, deps, inv)
			if err != nil {
				return nil, err
			}
			order, err := deps.Orders.AddItem(ctx, inv.TenantID, orderID, services.ItemRequest{
				ProductID:  argString(inv.Args, "product_id"),
				VariantSKU: argString(inv.Args, "variant_sku"),
				Quantity:   argInt(inv.Args, "quantity"),
			})
			if err != nil {
				return nil, err
			}
			return orderView(order), nil
		},
	})

	r.Register(Tool{
		Definition: toolDef("get_order_status",
			"Get the status and contents of an order.",
			objectSchema(map[string]any{
				"order_id": map[string]any{"type": "string", "description": "Defaults to the conversation's current order."},
			})),
		Handler: func(ctx context.Context, inv Invocation) (any, error) {
			orderID, err := resolveOrderID(ctx, deps, inv)
			if err != nil {
				return nil, err
			}
			order, err := deps.Orders.GetOrder(ctx, inv.TenantID, orderID)
			if err != nil {
				return nil, err
			}
			return orderView(order), nil
		},
	})

	r.Register(Tool{
		Definition: toolDef("get_customer_orders",
			"List the customer's recent orders, newest first.",
			objectSchema(map[string]any{
				"limit": map[string]any{"type": "integer", "description": "Maximum results, default 10."},
			})),
		Handler: func(ctx context.Context, inv Invocation) (any, error) {
			orders, err := deps.Orders.ListOrdersByCustomer(ctx, inv.TenantID, inv.CustomerID, argInt(inv.Args, "limit"))
			if err != nil {
				return nil, err
			}
			views := make([]map[string]any, 0, len(orders))
			for i := range orders {
				views = append(views, orderView(&orders[i]))
			}
			return map[string]any{"orders": views, "count": len(views)}, nil
		},
	})

	r.Register(Tool{
		Definition: toolDef("confirm_order",
			"Confirm the order so it moves to fulfilment. Stock is reserved at confirmation.",
			objectSchema(map[string]any{
				"order_id": map[string]any{"type": "string", "description": "Defaults to the conversation's current order."},
			})),
		Handler: func(ctx context.Context, inv Invocation) (any, error) {
			orderID, err := resolveOrderID(ctx, deps, inv)
			if err != nil {
				return nil, err
			}
			order, err := deps.Orders.ConfirmOrder(ctx, inv.TenantID, orderID)
			if err != nil {
				return nil, err
			}
			return orderView(order), nil
		},
	})

	r.Register(Tool{
		Definition: toolDef("cancel_order",
			"Cancel an order that has not shipped yet.",
			objectSchema(map[string]any{
				"order_id": map[string]any{"type": "string", "description": "Defaults to the conversation's current order."},
			})),
		Handler: func(ctx context.Context, inv Invocation) (any, error) {
			orderID, err := resolveOrderID(ctx, deps, inv)
			if err != nil {
				return nil, err
			}
			order, err := deps.Orders.CancelOrder(ctx, inv.TenantID, orderID)
			if err != nil {
				return nil, err
			}
			return orderView(order), nil
		},
	})
}

func registerPaymentTools(r *Registry, deps Deps) {
	r.Register(Tool{
		Definition: toolDef("initiate_payment",
			"Create a payment link for an order and send it to the customer.",
			objectSchema(map[string]any{
				"order_id": map[string]any{"type": "string", "description": "Defaults to the conversation's current order."},
				"provider": map[string]any{"type": "string", "enum": []string{"midtrans", "xendit"}},
			})),
		Handler: func(ctx context.Context, inv Invocation) (any, error) {
			orderID, err := resolveOrderID(ctx, deps, inv)
			if err != nil {
				return nil, err
			}
			provider := argString(inv.Args, "provider")
			if provider == "" {
				provider = deps.DefaultPaymentProvider
			}
			customer, err := deps.Customers.GetCustomer(ctx, inv.CustomerID)
			if err != nil {
				return nil, err
			}
			payment, err := deps.Payments.InitiatePayment(ctx, inv.TenantID, orderID, provider,
				customer.Name, customer.Phone)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"payment_id":  payment.ID,
				"order_id":    payment.OrderID,
				"provider":    payment.Provider,
				"status":      payment.Status,
				"amount":      payment.Amount,
				"payment_url": payment.PaymentURL,
			}, nil
		},
	})

	r.Register(Tool{
		Definition: toolDef("check_payment_status",
			"Check the current payment status of an order with the gateway.",
			objectSchema(map[string]any{
				"order_id": map[string]any{"type": "string", "description": "Defaults to the conversation's current order."},
			})),
		Handler: func(ctx context.Context, inv Invocation) (any, error) {
			orderID, err := resolveOrderID(ctx, deps, inv)
			if err != nil {
				return nil, err
			}
			payment, err := deps.Payments.CheckStatus(ctx, inv.TenantID, orderID)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"order_id": payment.OrderID,
				"provider": payment.Provider,
				"status":   payment.Status,
				"amount":   payment.Amount,
			}, nil
		},
	})
}

func registerCRMTools(r *Registry, deps Deps) {
	r.Register(Tool{
		Definition: toolDef("label_conversation",
			"Attach one of the tenant's labels to this conversation.",
			objectSchema(map[string]any{
				"label": map[string]any{"type": "string", "description": "Label name, must already exist."},
			}, "label")),
		Handler: func(ctx context.Context, inv Invocation) (any, error) {
			label, err := deps.CRM.ApplyLabel(ctx, inv.TenantID, inv.ConversationID, argString(inv.Args, "label"))
			if err != nil {
				return nil, err
			}
			return map[string]any{"applied": label.Name}, nil
		},
	})

	r.Register(Tool{
		Definition: toolDef("get_available_labels",
			"List the labels this tenant can apply to conversations.",
			objectSchema(map[string]any{})),
		Handler: func(ctx context.Context, inv Invocation) (any, error) {
			labels, err := deps.CRM.ListLabels(ctx, inv.TenantID)
			if err != nil {
				return nil, err
			}
			names := make([]string, 0, len(labels))
			for _, l := range labels {
				names = append(names, l.Name)
			}
			return map[string]any{"labels": names}, nil
		},
	})
}

// resolveOrderID prefers an explicit order_id argument, falling back to
// the conversation's current order.
func resolveOrderID(ctx context.Context, deps Deps, inv Invocation) (string, error) {
	if id := argString(inv.Args, "order_id"); id != "" {
		return id, nil
	}
	conv, err := deps.Conversations.Get(ctx, inv.ConversationID)
	if err != nil {
		return "", fmt.Errorf("no order_id given and conversation unavailable: %w", err)
	}
	if conv.CurrentOrderID == "" {
		return "", errors.New("no active order for this conversation")
	}
	return conv.CurrentOrderID, nil
}

func orderView(order *models.Order) map[string]any {
	items := make([]map[string]any, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, map[string]any{
			"product_id":   item.ProductID,
			"product_name": item.ProductName,
			"variant_sku":  item.VariantSKU,
			"quantity":     item.Quantity,
			"unit_price":   item.UnitPrice,
			"line_total":   item.LineTotal,
		})
	}
	return map[string]any{
		"order_id":      order.ID,
		"status":        order.Status,
		"items":         items,
		"subtotal":      order.Subtotal,
		"shipping_cost": order.ShippingCost,
		"total":         order.Total,
	}
}

func toolDef(name, description string, parameters map[string]any) llm.ToolDefinition {
	return llm.ToolDefinition{Name: name, Description: description, Parameters: parameters}
}

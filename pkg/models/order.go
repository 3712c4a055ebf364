package models

import "gorm.io/gorm"

// OrderStatus is the order lifecycle state.
type OrderStatus string

// Order statuses.
const (
	OrderPending    OrderStatus = "pending"
	OrderConfirmed  OrderStatus = "confirmed"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

// orderTransitions enumerates the legal edges of the order state machine.
// delivered and cancelled are terminal.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:    {OrderConfirmed, OrderCancelled},
	OrderConfirmed:  {OrderProcessing, OrderCancelled},
	OrderProcessing: {OrderShipped, OrderCancelled},
	OrderShipped:    {OrderDelivered},
}

// CanTransition reports whether from → to is a legal order transition.
func (from OrderStatus) CanTransition(to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status has no outgoing edges.
func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

// Order is a customer order assembled by the agent's tools.
type Order struct {
	Base
	TenantID       string      `gorm:"index;not null" json:"tenant_id"`
	CustomerID     string      `gorm:"index;not null" json:"customer_id"`
	ConversationID string      `gorm:"index" json:"conversation_id"`
	Status         OrderStatus `gorm:"default:pending;index" json:"status"`
	Items          []OrderItem `gorm:"foreignKey:OrderID" json:"items"`
	Subtotal       float64     `gorm:"default:0" json:"subtotal"`
	ShippingCost   float64     `gorm:"default:0" json:"shipping_cost"`
	Total          float64     `gorm:"default:0" json:"total"`
	Notes          string      `gorm:"type:text" json:"notes"`
}

// BeforeCreate assigns the UUID primary key.
func (o *Order) BeforeCreate(_ *gorm.DB) error {
	o.EnsureID()
	return nil
}

// Recalculate recomputes subtotal and total from the items.
func (o *Order) Recalculate() {
	var subtotal float64
	for _, item := range o.Items {
		subtotal += item.LineTotal
	}
	o.Subtotal = subtotal
	o.Total = subtotal + o.ShippingCost
}

// OrderItem is one line of an order. Lines are unique per
// (order, product, variant); adding the same pair again sums quantities.
type OrderItem struct {
	Base
	OrderID     string  `gorm:"index:idx_item_order_product,unique;not null" json:"order_id"`
	ProductID   string  `gorm:"index:idx_item_order_product,unique;not null" json:"product_id"`
	VariantSKU  string  `gorm:"index:idx_item_order_product,unique" json:"variant_sku"`
	ProductName string  `json:"product_name"`
	Quantity    int     `gorm:"not null" json:"quantity"`
	UnitPrice   float64 `gorm:"not null" json:"unit_price"`
	LineTotal   float64 `gorm:"not null" json:"line_total"`
}

// BeforeCreate assigns the UUID primary key.
func (i *OrderItem) BeforeCreate(_ *gorm.DB) error {
	i.EnsureID()
	return nil
}

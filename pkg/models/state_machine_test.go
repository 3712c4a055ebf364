package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOrderTransitions(t *testing.T) {
	tests := []struct {
		from  OrderStatus
		to    OrderStatus
		legal bool
	}{
		{OrderPending, OrderConfirmed, true},
		{OrderPending, OrderCancelled, true},
		{OrderPending, OrderShipped, false},
		{OrderConfirmed, OrderProcessing, true},
		{OrderConfirmed, OrderCancelled, true},
		{OrderProcessing, OrderShipped, true},
		{OrderProcessing, OrderCancelled, true},
		{OrderShipped, OrderDelivered, true},
		{OrderShipped, OrderCancelled, false},
		{OrderDelivered, OrderCancelled, false},
		{OrderCancelled, OrderPending, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.legal, tt.from.CanTransition(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
	assert.True(t, OrderDelivered.IsTerminal())
	assert.True(t, OrderCancelled.IsTerminal())
	assert.False(t, OrderPending.IsTerminal())
}

func TestPaymentTransitions(t *testing.T) {
	tests := []struct {
		from  PaymentStatus
		to    PaymentStatus
		legal bool
	}{
		{PaymentPending, PaymentPendingPayment, true},
		{PaymentPending, PaymentPaid, false},
		{PaymentPending, PaymentCancelled, false},
		{PaymentPendingPayment, PaymentPaid, true},
		{PaymentPendingPayment, PaymentFailed, true},
		{PaymentPendingPayment, PaymentExpired, true},
		{PaymentPendingPayment, PaymentCancelled, true},
		{PaymentPaid, PaymentRefunded, true},
		{PaymentPaid, PaymentPending, false},
		{PaymentRefunded, PaymentPaid, false},
		{PaymentFailed, PaymentPendingPayment, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.legal, tt.from.CanTransition(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestConversationTransitions(t *testing.T) {
	assert.True(t, StateGreeting.CanTransition(StateBrowsing))
	assert.True(t, StateOrdering.CanTransition(StateCheckout))
	assert.True(t, StateCheckout.CanTransition(StatePayment))
	assert.True(t, StatePayment.CanTransition(StateCompleted))
	assert.True(t, StateBrowsing.CanTransition(StateBrowsing), "self edge always allowed")

	assert.False(t, StateGreeting.CanTransition(StatePayment))
	assert.False(t, StateCompleted.CanTransition(StateGreeting), "completed is terminal")
	assert.False(t, StateBrowsing.CanTransition(StatePayment))
}

func TestConversationHistoryCap(t *testing.T) {
	conv := &Conversation{State: StateGreeting}
	base := time.Now()
	for i := 0; i < HistoryCap+25; i++ {
		conv.Append(ConversationMessage{
			Role:      "user",
			Content:   "m",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}
	assert.Len(t, conv.Messages, HistoryCap)

	recent := conv.Recent(HistoryWindow)
	assert.Len(t, recent, HistoryWindow)
	assert.Equal(t, conv.Messages[len(conv.Messages)-1], recent[len(recent)-1])
}

func TestOrderRecalculate(t *testing.T) {
	order := &Order{
		ShippingCost: 10,
		Items: []OrderItem{
			{Quantity: 2, UnitPrice: 50, LineTotal: 100},
			{Quantity: 1, UnitPrice: 25, LineTotal: 25},
		},
	}
	order.Recalculate()
	assert.Equal(t, 125.0, order.Subtotal)
	assert.Equal(t, 135.0, order.Total)
}

package models

import "gorm.io/gorm"

// PaymentStatus is the payment lifecycle state.
type PaymentStatus string

// Payment statuses.
const (
	PaymentPending        PaymentStatus = "pending"
	PaymentPendingPayment PaymentStatus = "pending_payment"
	PaymentPaid           PaymentStatus = "paid"
	PaymentFailed         PaymentStatus = "failed"
	PaymentExpired        PaymentStatus = "expired"
	PaymentCancelled      PaymentStatus = "cancelled"
	PaymentRefunded       PaymentStatus = "refunded"
)

// paymentTransitions enumerates the legal edges. refunded, failed,
// expired, and cancelled are terminal.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:        {PaymentPendingPayment},
	PaymentPendingPayment: {PaymentPaid, PaymentFailed, PaymentExpired, PaymentCancelled},
	PaymentPaid:           {PaymentRefunded},
}

// CanTransition reports whether from → to is a legal payment transition.
func (from PaymentStatus) CanTransition(to PaymentStatus) bool {
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status has no outgoing edges.
func (s PaymentStatus) IsTerminal() bool {
	return len(paymentTransitions[s]) == 0
}

// Payment is one gateway transaction for an order.
type Payment struct {
	Base
	TenantID   string        `gorm:"index;not null" json:"tenant_id"`
	OrderID    string        `gorm:"index;not null" json:"order_id"`
	Provider   string        `gorm:"not null" json:"provider"` // midtrans | xendit
	Status     PaymentStatus `gorm:"default:pending;index" json:"status"`
	Amount     float64       `gorm:"not null" json:"amount"`
	Method     string        `json:"method"`
	ExternalID string        `gorm:"index" json:"external_id"` // gateway transaction id
	PaymentURL string        `json:"payment_url"`
	RawStatus  string        `json:"raw_status"` // provider's own status string
}

// BeforeCreate assigns the UUID primary key.
func (p *Payment) BeforeCreate(_ *gorm.DB) error {
	p.EnsureID()
	return nil
}

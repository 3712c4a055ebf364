package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tokotalk/tokotalk/pkg/models"
	"github.com/tokotalk/tokotalk/pkg/payments"
)

// PaymentService drives payment gateways and keeps the payment rows in
// sync with what the gateway reports. All status changes go through the
// payment state machine; stale webhook redeliveries for a terminal
// payment are ignored rather than rejected.
type PaymentService struct {
	db       *gorm.DB
	gateways *payments.Registry
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(db *gorm.DB, gateways *payments.Registry) *PaymentService {
	return &PaymentService{db: db, gateways: gateways}
}

// InitiatePayment opens a gateway transaction for an order and records
// the resulting payment in pending_payment.
func (s *PaymentService) InitiatePayment(httpCtx context.Context, tenantID, orderID, provider, customerName, customerPhone string) (*models.Payment, error) {
	gateway, err := s.gateways.Get(provider)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	var order models.Order
	err = s.db.WithContext(ctx).First(&order, "id = ? AND tenant_id = ?", orderID, tenantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	if order.Total <= 0 {
		return nil, NewValidationError("total", "order total must be positive")
	}

	// The gateway call runs on the caller's context, not the short
	// database timeout.
	tx, err := gateway.CreateTransaction(httpCtx, payments.CreateRequest{
		OrderID:       order.ID,
		Amount:        order.Total,
		CustomerName:  customerName,
		CustomerPhone: customerPhone,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s transaction: %w", provider, err)
	}

	payment := &models.Payment{
		TenantID:   tenantID,
		OrderID:    order.ID,
		Provider:   provider,
		Status:     models.PaymentPendingPayment,
		Amount:     order.Total,
		ExternalID: tx.ExternalID,
		PaymentURL: tx.PaymentURL,
		RawStatus:  tx.RawStatus,
	}
	if err := s.db.WithContext(ctx).Create(payment).Error; err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}
	return payment, nil
}

// GetPayment fetches a payment by id.
func (s *PaymentService) GetPayment(httpCtx context.Context, tenantID, id string) (*models.Payment, error) {
	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	var payment models.Payment
	err := s.db.WithContext(ctx).First(&payment, "id = ? AND tenant_id = ?", id, tenantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &payment, nil
}

// LatestPaymentForOrder returns the newest payment opened for an order.
func (s *PaymentService) LatestPaymentForOrder(httpCtx context.Context, tenantID, orderID string) (*models.Payment, error) {
	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	var payment models.Payment
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND order_id = ?", tenantID, orderID).
		Order("created_at DESC").
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payment for order: %w", err)
	}
	return &payment, nil
}

// CheckStatus polls the gateway for the current status and applies it.
func (s *PaymentService) CheckStatus(httpCtx context.Context, tenantID, orderID string) (*models.Payment, error) {
	payment, err := s.LatestPaymentForOrder(httpCtx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	gateway, err := s.gateways.Get(payment.Provider)
	if err != nil {
		return nil, err
	}

	tx, err := gateway.CheckStatus(httpCtx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to check %s status: %w", payment.Provider, err)
	}
	return s.applyStatus(httpCtx, payment.ID, tx.Status, tx.RawStatus)
}

// ApplyNotification applies a verified gateway webhook. Returns the
// updated payment, its previous status, and whether anything changed.
func (s *PaymentService) ApplyNotification(httpCtx context.Context, provider string, n *payments.WebhookNotification) (*models.Payment, models.PaymentStatus, bool, error) {
	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	var payment models.Payment
	err := s.db.WithContext(ctx).
		Where("order_id = ? AND provider = ?", n.OrderID, provider).
		Order("created_at DESC").
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", false, fmt.Errorf("no %s payment for order %s: %w", provider, n.OrderID, ErrNotFound)
		}
		return nil, "", false, fmt.Errorf("failed to find payment: %w", err)
	}

	from := payment.Status
	updated, err := s.applyStatus(ctx, payment.ID, n.Status, n.RawStatus)
	if err != nil {
		return nil, "", false, err
	}
	return updated, from, updated.Status != from, nil
}

// applyStatus moves a payment to the reported status under the state
// machine. Re-reporting the current status is a no-op; a report that the
// machine forbids from a terminal state is ignored as a stale delivery.
func (s *PaymentService) applyStatus(httpCtx context.Context, paymentID string, to models.PaymentStatus, raw string) (*models.Payment, error) {
	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	var payment models.Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&payment, "id = ?", paymentID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to lock payment: %w", err)
		}

		if payment.Status == to {
			return tx.Model(&payment).Update("raw_status", raw).Error
		}
		if payment.Status.IsTerminal() {
			// Stale redelivery after the payment settled; keep the row.
			return nil
		}
		if !payment.Status.CanTransition(to) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, payment.Status, to)
		}
		payment.Status = to
		payment.RawStatus = raw
		return tx.Model(&payment).Updates(map[string]any{
			"status":     to,
			"raw_status": raw,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// CancelPayment voids the gateway transaction and cancels the payment.
func (s *PaymentService) CancelPayment(httpCtx context.Context, tenantID, orderID string) (*models.Payment, error) {
	payment, err := s.LatestPaymentForOrder(httpCtx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	gateway, err := s.gateways.Get(payment.Provider)
	if err != nil {
		return nil, err
	}
	if err := gateway.Cancel(httpCtx, orderID); err != nil {
		return nil, fmt.Errorf("failed to cancel %s transaction: %w", payment.Provider, err)
	}
	return s.applyStatus(httpCtx, payment.ID, models.PaymentCancelled, "cancelled")
}

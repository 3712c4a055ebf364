package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tokotalk/tokotalk/pkg/models"
)

// OrderService manages orders and their state machine. Item mutation is
// only allowed while an order is pending; confirmation freezes the lines
// and decrements stock.
type OrderService struct {
	db *gorm.DB
}

// NewOrderService creates a new OrderService.
func NewOrderService(db *gorm.DB) *OrderService {
	return &OrderService{db: db}
}

// ItemRequest describes one order line to add.
type ItemRequest struct {
	ProductID  string
	VariantSKU string
	Quantity   int
}

// CreateOrder opens a pending order for a customer, optionally with
// initial items.
func (s *OrderService) CreateOrder(httpCtx context.Context, tenantID, customerID, conversationID string, items []ItemRequest) (*models.Order, error) {
	if tenantID == "" {
		return nil, NewValidationError("tenant_id", "required")
	}
	if customerID == "" {
		return nil, NewValidationError("customer_id", "required")
	}

	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	order := &models.Order{
		TenantID:       tenantID,
		CustomerID:     customerID,
		ConversationID: conversationID,
		Status:         models.OrderPending,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}
		for _, item := range items {
			if err := s.addItemTx(tx, order, item); err != nil {
				return err
			}
		}
		return s.recalculateTx(tx, order)
	})
	if err != nil {
		return nil, err
	}
	return s.GetOrder(ctx, tenantID, order.ID)
}

// GetOrder fetches an order with its items, scoped to a tenant.
func (s *OrderService) GetOrder(httpCtx context.Context, tenantID, id string) (*models.Order, error) {
	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	var order models.Order
	err := s.db.WithContext(ctx).
		Preload("Items").
		First(&order, "id = ? AND tenant_id = ?", id, tenantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &order, nil
}

// ListOrdersByCustomer returns a customer's orders, newest first.
func (s *OrderService) ListOrdersByCustomer(httpCtx context.Context, tenantID, customerID string, limit int) ([]models.Order, error) {
	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	if limit <= 0 || limit > 50 {
		limit = 10
	}
	var orders []models.Order
	err := s.db.WithContext(ctx).
		Preload("Items").
		Where("tenant_id = ? AND customer_id = ?", tenantID, customerID).
		Order("created_at DESC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// AddItem adds quantity of a product to a pending order. Adding the same
// (product, variant) again sums quantities into the existing line.
// Orders past pending reject mutation with ErrOrderLocked.
func (s *OrderService) AddItem(httpCtx context.Context, tenantID, orderID string, item ItemRequest) (*models.Order, error) {
	if item.Quantity <= 0 {
		return nil, NewValidationError("quantity", "must be positive")
	}

	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.lockOrderTx(tx, tenantID, orderID)
		if err != nil {
			return err
		}
		if order.Status != models.OrderPending {
			return ErrOrderLocked
		}
		if err := s.addItemTx(tx, order, item); err != nil {
			return err
		}
		return s.recalculateTx(tx, order)
	})
	if err != nil {
		return nil, err
	}
	return s.GetOrder(ctx, tenantID, orderID)
}

// RemoveItem deletes a line from a pending order.
func (s *OrderService) RemoveItem(httpCtx context.Context, tenantID, orderID, productID, variantSKU string) (*models.Order, error) {
	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.lockOrderTx(tx, tenantID, orderID)
		if err != nil {
			return err
		}
		if order.Status != models.OrderPending {
			return ErrOrderLocked
		}
		res := tx.Where("order_id = ? AND product_id = ? AND variant_sku = ?",
			orderID, productID, variantSKU).
			Delete(&models.OrderItem{})
		if res.Error != nil {
			return fmt.Errorf("failed to remove item: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return s.recalculateTx(tx, order)
	})
	if err != nil {
		return nil, err
	}
	return s.GetOrder(ctx, tenantID, orderID)
}

// ConfirmOrder transitions pending → confirmed, verifying and decrementing
// stock for every line in one transaction.
func (s *OrderService) ConfirmOrder(httpCtx context.Context, tenantID, orderID string) (*models.Order, error) {
	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.lockOrderTx(tx, tenantID, orderID)
		if err != nil {
			return err
		}
		if !order.Status.CanTransition(models.OrderConfirmed) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, order.Status, models.OrderConfirmed)
		}

		var items []models.OrderItem
		if err := tx.Where("order_id = ?", orderID).Find(&items).Error; err != nil {
			return fmt.Errorf("failed to load items: %w", err)
		}
		if len(items) == 0 {
			return NewValidationError("items", "order has no items")
		}
		for _, item := range items {
			res := tx.Model(&models.Product{}).
				Where("id = ? AND stock >= ?", item.ProductID, item.Quantity).
				Update("stock", gorm.Expr("stock - ?", item.Quantity))
			if res.Error != nil {
				return fmt.Errorf("failed to decrement stock: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: product %s", ErrInsufficientStock, item.ProductID)
			}
		}
		return tx.Model(order).Update("status", models.OrderConfirmed).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetOrder(ctx, tenantID, orderID)
}

// CancelOrder cancels an order if its current status allows it. Stock is
// restored for orders that were already confirmed.
func (s *OrderService) CancelOrder(httpCtx context.Context, tenantID, orderID string) (*models.Order, error) {
	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.lockOrderTx(tx, tenantID, orderID)
		if err != nil {
			return err
		}
		if !order.Status.CanTransition(models.OrderCancelled) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, order.Status, models.OrderCancelled)
		}

		if order.Status != models.OrderPending {
			var items []models.OrderItem
			if err := tx.Where("order_id = ?", orderID).Find(&items).Error; err != nil {
				return fmt.Errorf("failed to load items: %w", err)
			}
			for _, item := range items {
				err := tx.Model(&models.Product{}).
					Where("id = ?", item.ProductID).
					Update("stock", gorm.Expr("stock + ?", item.Quantity)).Error
				if err != nil {
					return fmt.Errorf("failed to restore stock: %w", err)
				}
			}
		}
		return tx.Model(order).Update("status", models.OrderCancelled).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetOrder(ctx, tenantID, orderID)
}

// UpdateStatus applies an operator-driven status change through the state
// machine (confirmed → processing → shipped → delivered).
func (s *OrderService) UpdateStatus(httpCtx context.Context, tenantID, orderID string, to models.OrderStatus) (*models.Order, error) {
	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.lockOrderTx(tx, tenantID, orderID)
		if err != nil {
			return err
		}
		if !order.Status.CanTransition(to) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, order.Status, to)
		}
		return tx.Model(order).Update("status", to).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetOrder(ctx, tenantID, orderID)
}

// SetShipping sets the shipping cost on a pending order and recomputes
// the total.
func (s *OrderService) SetShipping(httpCtx context.Context, tenantID, orderID string, cost float64) (*models.Order, error) {
	if cost < 0 {
		return nil, NewValidationError("shipping_cost", "must not be negative")
	}

	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.lockOrderTx(tx, tenantID, orderID)
		if err != nil {
			return err
		}
		if order.Status != models.OrderPending {
			return ErrOrderLocked
		}
		order.ShippingCost = cost
		return s.recalculateTx(tx, order)
	})
	if err != nil {
		return nil, err
	}
	return s.GetOrder(ctx, tenantID, orderID)
}

func (s *OrderService) lockOrderTx(tx *gorm.DB, tenantID, orderID string) (*models.Order, error) {
	var order models.Order
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&order, "id = ? AND tenant_id = ?", orderID, tenantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}
	return &order, nil
}

// addItemTx coalesces the new line with an existing (product, variant)
// line or inserts a fresh one. Unit price is taken from the catalogue at
// add time.
func (s *OrderService) addItemTx(tx *gorm.DB, order *models.Order, item ItemRequest) error {
	if item.ProductID == "" {
		return NewValidationError("product_id", "required")
	}
	if item.Quantity <= 0 {
		return NewValidationError("quantity", "must be positive")
	}

	var product models.Product
	err := tx.First(&product, "id = ? AND tenant_id = ? AND is_active = true",
		item.ProductID, order.TenantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("product %s: %w", item.ProductID, ErrNotFound)
		}
		return fmt.Errorf("failed to load product: %w", err)
	}

	unitPrice := product.BasePrice
	if item.VariantSKU != "" && product.Variants != nil {
		if v, ok := product.Variants[item.VariantSKU]; ok {
			if price, ok := v.(float64); ok {
				unitPrice = price
			}
		}
	}

	var existing models.OrderItem
	err = tx.First(&existing, "order_id = ? AND product_id = ? AND variant_sku = ?",
		order.ID, item.ProductID, item.VariantSKU).Error
	switch {
	case err == nil:
		existing.Quantity += item.Quantity
		existing.LineTotal = float64(existing.Quantity) * existing.UnitPrice
		if err := tx.Save(&existing).Error; err != nil {
			return fmt.Errorf("failed to merge order line: %w", err)
		}
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		line := models.OrderItem{
			OrderID:     order.ID,
			ProductID:   item.ProductID,
			VariantSKU:  item.VariantSKU,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   unitPrice,
			LineTotal:   float64(item.Quantity) * unitPrice,
		}
		if err := tx.Create(&line).Error; err != nil {
			return fmt.Errorf("failed to add order line: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("failed to look up order line: %w", err)
	}
}

// recalculateTx recomputes subtotal and total from the persisted lines.
func (s *OrderService) recalculateTx(tx *gorm.DB, order *models.Order) error {
	var items []models.OrderItem
	if err := tx.Where("order_id = ?", order.ID).Find(&items).Error; err != nil {
		return fmt.Errorf("failed to load items for totals: %w", err)
	}
	order.Items = items
	order.Recalculate()
	return tx.Model(&models.Order{}).Where("id = ?", order.ID).Updates(map[string]any{
		"subtotal":      order.Subtotal,
		"shipping_cost": order.ShippingCost,
		"total":         order.Total,
	}).Error
}

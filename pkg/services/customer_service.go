package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tokotalk/tokotalk/pkg/models"
)

// CustomerService manages WhatsApp customers per tenant.
type CustomerService struct {
	db *gorm.DB
}

// NewCustomerService creates a new CustomerService.
func NewCustomerService(db *gorm.DB) *CustomerService {
	return &CustomerService{db: db}
}

// GetOrCreate resolves the customer for a (tenant, chat) pair, creating
// it on first contact. The insert races with concurrent flushes for the
// same chat; ON CONFLICT DO NOTHING plus a re-read makes it idempotent.
func (s *CustomerService) GetOrCreate(httpCtx context.Context, tenantID, waChatID string) (*models.Customer, bool, error) {
	if tenantID == "" {
		return nil, false, NewValidationError("tenant_id", "required")
	}
	if waChatID == "" {
		return nil, false, NewValidationError("wa_chat_id", "required")
	}

	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	var customer models.Customer
	err := s.db.WithContext(ctx).
		First(&customer, "tenant_id = ? AND wa_chat_id = ?", tenantID, waChatID).Error
	if err == nil {
		return &customer, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("failed to look up customer: %w", err)
	}

	created := models.Customer{TenantID: tenantID, WAChatID: waChatID}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&created)
	if res.Error != nil {
		return nil, false, fmt.Errorf("failed to create customer: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return &created, true, nil
	}

	// Lost the race; the winner's row exists now.
	err = s.db.WithContext(ctx).
		First(&customer, "tenant_id = ? AND wa_chat_id = ?", tenantID, waChatID).Error
	if err != nil {
		return nil, false, fmt.Errorf("failed to re-read customer after conflict: %w", err)
	}
	return &customer, false, nil
}

// GetCustomer fetches a customer by id.
func (s *CustomerService) GetCustomer(httpCtx context.Context, id string) (*models.Customer, error) {
	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	var customer models.Customer
	err := s.db.WithContext(ctx).First(&customer, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return &customer, nil
}

// UpdateProfile applies profile fields a customer shared in conversation.
// Zero values are skipped so partial updates never erase known data.
func (s *CustomerService) UpdateProfile(httpCtx context.Context, id string, update *models.Customer) (*models.Customer, error) {
	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	fields := map[string]any{}
	if update.Name != "" {
		fields["name"] = update.Name
	}
	if update.Phone != "" {
		fields["phone"] = update.Phone
	}
	if update.Address != "" {
		fields["address"] = update.Address
	}
	if update.Latitude != 0 || update.Longitude != 0 {
		fields["latitude"] = update.Latitude
		fields["longitude"] = update.Longitude
	}
	if len(fields) == 0 {
		return s.GetCustomer(ctx, id)
	}

	res := s.db.WithContext(ctx).Model(&models.Customer{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update customer: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.GetCustomer(ctx, id)
}

// RecordOrder bumps the customer's lifetime order stats after an order is
// confirmed. VIP flips on at ten orders or five million rupiah spent.
func (s *CustomerService) RecordOrder(httpCtx context.Context, id string, total float64) error {
	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var customer models.Customer
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&customer, "id = ?", id).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to lock customer: %w", err)
		}

		customer.TotalOrders++
		customer.TotalSpent += total
		if customer.TotalOrders >= 10 || customer.TotalSpent >= 5_000_000 {
			customer.IsVIP = true
		}
		if err := tx.Save(&customer).Error; err != nil {
			return fmt.Errorf("failed to record order stats: %w", err)
		}
		return nil
	})
}

// ListCustomers returns a tenant's customers, most recently updated first.
func (s *CustomerService) ListCustomers(httpCtx context.Context, tenantID string, limit int) ([]models.Customer, error) {
	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var customers []models.Customer
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("updated_at DESC").
		Limit(limit).
		Find(&customers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	return customers, nil
}

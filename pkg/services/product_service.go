package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/tokotalk/tokotalk/pkg/models"
)

// ProductService manages the per-tenant product catalogue.
type ProductService struct {
	db *gorm.DB
}

// NewProductService creates a new ProductService.
func NewProductService(db *gorm.DB) *ProductService {
	return &ProductService{db: db}
}

// CreateProduct adds a product to a tenant's catalogue.
func (s *ProductService) CreateProduct(httpCtx context.Context, product *models.Product) (*models.Product, error) {
	if product.TenantID == "" {
		return nil, NewValidationError("tenant_id", "required")
	}
	if product.Name == "" {
		return nil, NewValidationError("name", "required")
	}
	if product.BasePrice < 0 {
		return nil, NewValidationError("base_price", "must not be negative")
	}

	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	product.IsActive = true
	if err := s.db.WithContext(ctx).Create(product).Error; err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}
	return product, nil
}

// GetProduct fetches a product by id, scoped to a tenant.
func (s *ProductService) GetProduct(httpCtx context.Context, tenantID, id string) (*models.Product, error) {
	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	var product models.Product
	err := s.db.WithContext(ctx).
		First(&product, "id = ? AND tenant_id = ?", id, tenantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &product, nil
}

// SearchProducts finds active products matching a free-text query against
// name, description, and category. An empty query lists the catalogue.
func (s *ProductService) SearchProducts(httpCtx context.Context, tenantID, query string, limit int) ([]models.Product, error) {
	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	if limit <= 0 || limit > 50 {
		limit = 10
	}

	q := s.db.WithContext(ctx).
		Where("tenant_id = ? AND is_active = true", tenantID)
	if trimmed := strings.TrimSpace(query); trimmed != "" {
		pattern := "%" + trimmed + "%"
		q = q.Where("name ILIKE ? OR description ILIKE ? OR category ILIKE ?",
			pattern, pattern, pattern)
	}

	var products []models.Product
	if err := q.Order("name").Limit(limit).Find(&products).Error; err != nil {
		return nil, fmt.Errorf("failed to search products: %w", err)
	}
	return products, nil
}

// CheckStock reports whether quantity units of a product are available.
func (s *ProductService) CheckStock(httpCtx context.Context, tenantID, id string, quantity int) (bool, int, error) {
	product, err := s.GetProduct(httpCtx, tenantID, id)
	if err != nil {
		return false, 0, err
	}
	return product.Stock >= quantity, product.Stock, nil
}

// UpdateProduct applies catalogue edits.
func (s *ProductService) UpdateProduct(httpCtx context.Context, tenantID, id string, update *models.Product) (*models.Product, error) {
	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	product, err := s.GetProduct(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{}
	if update.Name != "" {
		fields["name"] = update.Name
	}
	if update.Description != "" {
		fields["description"] = update.Description
	}
	if update.Category != "" {
		fields["category"] = update.Category
	}
	if update.BasePrice > 0 {
		fields["base_price"] = update.BasePrice
	}
	if update.Stock >= 0 {
		fields["stock"] = update.Stock
	}
	if update.Variants != nil {
		fields["variants"] = update.Variants
	}
	fields["is_active"] = update.IsActive

	if err := s.db.WithContext(ctx).Model(product).Updates(fields).Error; err != nil {
		return nil, fmt.Errorf("failed to update product: %w", err)
	}
	return s.GetProduct(ctx, tenantID, id)
}

// DeleteProduct soft-disables a product so past orders keep their lines.
func (s *ProductService) DeleteProduct(httpCtx context.Context, tenantID, id string) error {
	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	res := s.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Update("is_active", false)
	if res.Error != nil {
		return fmt.Errorf("failed to delete product: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

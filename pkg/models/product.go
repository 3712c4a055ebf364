package models

import "gorm.io/gorm"

// Product is a sellable item. Variants (size, colour) live in a jsonb
// column as a list of {sku, name, price_delta, stock} objects.
type Product struct {
	Base
	TenantID    string  `gorm:"index;not null" json:"tenant_id"`
	Name        string  `gorm:"not null" json:"name"`
	Description string  `gorm:"type:text" json:"description"`
	Category    string  `gorm:"index" json:"category"`
	BasePrice   float64 `gorm:"not null" json:"base_price"`
	Stock       int     `gorm:"default:0" json:"stock"`
	Variants    JSONMap `gorm:"type:jsonb" json:"variants"`
	IsActive    bool    `gorm:"default:true" json:"is_active"`
}

// BeforeCreate assigns the UUID primary key.
func (p *Product) BeforeCreate(_ *gorm.DB) error {
	p.EnsureID()
	return nil
}

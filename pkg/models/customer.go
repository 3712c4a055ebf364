package models

import "gorm.io/gorm"

// Customer is a WhatsApp contact of one tenant, keyed by the bridge's
// chat id.
type Customer struct {
	Base
	TenantID    string  `gorm:"index:idx_customer_tenant_chat,unique;not null" json:"tenant_id"`
	WAChatID    string  `gorm:"index:idx_customer_tenant_chat,unique;not null" json:"wa_chat_id"`
	Name        string  `json:"name"`
	Phone       string  `json:"phone"`
	TotalOrders int     `gorm:"default:0" json:"total_orders"`
	TotalSpent  float64 `gorm:"default:0" json:"total_spent"`
	IsVIP       bool    `gorm:"default:false" json:"is_vip"`
	Address     string  `json:"address"`
	// Latitude/Longitude are filled by the geocoder when the customer
	// shares a location or address.
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// BeforeCreate assigns the UUID primary key.
func (c *Customer) BeforeCreate(_ *gorm.DB) error {
	c.EnsureID()
	return nil
}

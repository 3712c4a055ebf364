package models

import "gorm.io/gorm"

// Label is a tenant-defined conversation tag.
type Label struct {
	Base
	TenantID string `gorm:"index:idx_label_tenant_name,unique;not null" json:"tenant_id"`
	Name     string `gorm:"index:idx_label_tenant_name,unique;not null" json:"name"`
	Color    string `json:"color"`
}

// BeforeCreate assigns the UUID primary key.
func (l *Label) BeforeCreate(_ *gorm.DB) error {
	l.EnsureID()
	return nil
}

// ConversationLabel attaches a label to a conversation.
type ConversationLabel struct {
	Base
	TenantID       string `gorm:"index;not null" json:"tenant_id"`
	ConversationID string `gorm:"index:idx_convlabel,unique;not null" json:"conversation_id"`
	LabelID        string `gorm:"index:idx_convlabel,unique;not null" json:"label_id"`
}

// BeforeCreate assigns the UUID primary key.
func (c *ConversationLabel) BeforeCreate(_ *gorm.DB) error {
	c.EnsureID()
	return nil
}

// QuickReply is a canned response the agent or operators can reuse.
type QuickReply struct {
	Base
	TenantID string `gorm:"index:idx_qr_tenant_shortcut,unique;not null" json:"tenant_id"`
	Shortcut string `gorm:"index:idx_qr_tenant_shortcut,unique;not null" json:"shortcut"`
	Body     string `gorm:"type:text;not null" json:"body"`
}

// BeforeCreate assigns the UUID primary key.
func (q *QuickReply) BeforeCreate(_ *gorm.DB) error {
	q.EnsureID()
	return nil
}

// TicketStatus is the support ticket state.
type TicketStatus string

// Ticket statuses.
const (
	TicketOpen       TicketStatus = "open"
	TicketInProgress TicketStatus = "in_progress"
	TicketResolved   TicketStatus = "resolved"
	TicketClosed     TicketStatus = "closed"
)

// Ticket is a support escalation raised from a conversation.
type Ticket struct {
	Base
	TenantID       string       `gorm:"index;not null" json:"tenant_id"`
	CustomerID     string       `gorm:"index;not null" json:"customer_id"`
	ConversationID string       `gorm:"index" json:"conversation_id"`
	Subject        string       `gorm:"not null" json:"subject"`
	Description    string       `gorm:"type:text" json:"description"`
	Status         TicketStatus `gorm:"default:open;index" json:"status"`
	Priority       string       `gorm:"default:normal" json:"priority"`
}

// BeforeCreate assigns the UUID primary key.
func (t *Ticket) BeforeCreate(_ *gorm.DB) error {
	t.EnsureID()
	return nil
}

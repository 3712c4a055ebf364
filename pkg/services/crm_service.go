package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tokotalk/tokotalk/pkg/models"
)

// CRMService manages labels, quick replies, and support tickets.
type CRMService struct {
	db *gorm.DB
}

// NewCRMService creates a new CRMService.
func NewCRMService(db *gorm.DB) *CRMService {
	return &CRMService{db: db}
}

// CreateLabel adds a label to a tenant's set.
func (s *CRMService) CreateLabel(httpCtx context.Context, label *models.Label) (*models.Label, error) {
	if label.TenantID == "" {
		return nil, NewValidationError("tenant_id", "required")
	}
	if label.Name == "" {
		return nil, NewValidationError("name", "required")
	}

	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	if err := s.db.WithContext(ctx).Create(label).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create label: %w", err)
	}
	return label, nil
}

// ListLabels returns a tenant's labels.
func (s *CRMService) ListLabels(httpCtx context.Context, tenantID string) ([]models.Label, error) {
	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	var labels []models.Label
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("name").
		Find(&labels).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", err)
	}
	return labels, nil
}

// ApplyLabel attaches a label (by name) to a conversation. Applying an
// already-attached label is a no-op.
func (s *CRMService) ApplyLabel(httpCtx context.Context, tenantID, conversationID, labelName string) (*models.Label, error) {
	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	var label models.Label
	err := s.db.WithContext(ctx).
		First(&label, "tenant_id = ? AND name = ?", tenantID, labelName).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("label %q: %w", labelName, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to look up label: %w", err)
	}

	link := models.ConversationLabel{
		TenantID:       tenantID,
		ConversationID: conversationID,
		LabelID:        label.ID,
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&link).Error
	if err != nil {
		return nil, fmt.Errorf("failed to apply label: %w", err)
	}
	return &label, nil
}

// RemoveLabel detaches a label from a conversation.
func (s *CRMService) RemoveLabel(httpCtx context.Context, tenantID, conversationID, labelName string) error {
	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	var label models.Label
	err := s.db.WithContext(ctx).
		First(&label, "tenant_id = ? AND name = ?", tenantID, labelName).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to look up label: %w", err)
	}

	res := s.db.WithContext(ctx).
		Where("conversation_id = ? AND label_id = ?", conversationID, label.ID).
		Delete(&models.ConversationLabel{})
	if res.Error != nil {
		return fmt.Errorf("failed to remove label: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ConversationLabels lists the labels attached to a conversation.
func (s *CRMService) ConversationLabels(httpCtx context.Context, tenantID, conversationID string) ([]models.Label, error) {
	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	var labels []models.Label
	err := s.db.WithContext(ctx).
		Joins("JOIN conversation_labels ON conversation_labels.label_id = labels.id").
		Where("conversation_labels.tenant_id = ? AND conversation_labels.conversation_id = ?",
			tenantID, conversationID).
		Order("labels.name").
		Find(&labels).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation labels: %w", err)
	}
	return labels, nil
}

// UpsertQuickReply creates or updates a quick reply by shortcut.
func (s *CRMService) UpsertQuickReply(httpCtx context.Context, qr *models.QuickReply) (*models.QuickReply, error) {
	if qr.TenantID == "" {
		return nil, NewValidationError("tenant_id", "required")
	}
	if qr.Shortcut == "" {
		return nil, NewValidationError("shortcut", "required")
	}
	if qr.Body == "" {
		return nil, NewValidationError("body", "required")
	}

	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	var existing models.QuickReply
	err := s.db.WithContext(ctx).
		First(&existing, "tenant_id = ? AND shortcut = ?", qr.TenantID, qr.Shortcut).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.WithContext(ctx).Create(qr).Error; err != nil {
			return nil, fmt.Errorf("failed to create quick reply: %w", err)
		}
		return qr, nil
	case err != nil:
		return nil, fmt.Errorf("failed to look up quick reply: %w", err)
	}

	existing.Body = qr.Body
	if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
		return nil, fmt.Errorf("failed to update quick reply: %w", err)
	}
	return &existing, nil
}

// ListQuickReplies returns a tenant's quick replies.
func (s *CRMService) ListQuickReplies(httpCtx context.Context, tenantID string) ([]models.QuickReply, error) {
	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	var replies []models.QuickReply
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("shortcut").
		Find(&replies).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list quick replies: %w", err)
	}
	return replies, nil
}

// CreateTicket opens a support ticket for a customer.
func (s *CRMService) CreateTicket(httpCtx context.Context, ticket *models.Ticket) (*models.Ticket, error) {
	if ticket.TenantID == "" {
		return nil, NewValidationError("tenant_id", "required")
	}
	if ticket.CustomerID == "" {
		return nil, NewValidationError("customer_id", "required")
	}
	if ticket.Subject == "" {
		return nil, NewValidationError("subject", "required")
	}

	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	ticket.Status = models.TicketOpen
	if ticket.Priority == "" {
		ticket.Priority = "normal"
	}
	if err := s.db.WithContext(ctx).Create(ticket).Error; err != nil {
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}
	return ticket, nil
}

// UpdateTicketStatus moves a ticket through its lifecycle.
func (s *CRMService) UpdateTicketStatus(httpCtx context.Context, tenantID, id string, status models.TicketStatus) (*models.Ticket, error) {
	switch status {
	case models.TicketOpen, models.TicketInProgress, models.TicketResolved, models.TicketClosed:
	default:
		return nil, NewValidationError("status", "unknown ticket status")
	}

	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	res := s.db.WithContext(ctx).Model(&models.Ticket{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Update("status", status)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update ticket: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	var ticket models.Ticket
	if err := s.db.WithContext(ctx).First(&ticket, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to re-read ticket: %w", err)
	}
	return &ticket, nil
}

// ListTickets returns a tenant's tickets filtered by status; an empty
// status lists everything.
func (s *CRMService) ListTickets(httpCtx context.Context, tenantID string, status models.TicketStatus) ([]models.Ticket, error) {
	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	q := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var tickets []models.Ticket
	if err := q.Order("created_at DESC").Find(&tickets).Error; err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	return tickets, nil
}

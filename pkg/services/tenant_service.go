package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tokotalk/tokotalk/pkg/models"
)

// dbTimeout bounds every single database call made by the services.
const dbTimeout = 5 * time.Second

// TenantService manages tenants and their LLM configurations.
type TenantService struct {
	db *gorm.DB
}

// NewTenantService creates a new TenantService.
func NewTenantService(db *gorm.DB) *TenantService {
	return &TenantService{db: db}
}

// CreateTenant registers a new tenant.
func (s *TenantService) CreateTenant(httpCtx context.Context, tenant *models.Tenant) (*models.Tenant, error) {
	if tenant.Name == "" {
		return nil, NewValidationError("name", "required")
	}
	if tenant.WASession == "" {
		return nil, NewValidationError("wa_session", "required")
	}
	if tenant.LLMConfigName == "" {
		return nil, NewValidationError("llm_config_name", "required")
	}

	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	tenant.IsActive = true
	if err := s.db.WithContext(ctx).Create(tenant).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}
	return tenant, nil
}

// GetTenant fetches a tenant by id.
func (s *TenantService) GetTenant(httpCtx context.Context, id string) (*models.Tenant, error) {
	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	var tenant models.Tenant
	err := s.db.WithContext(ctx).First(&tenant, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &tenant, nil
}

// GetTenantBySession resolves the active tenant owning a bridge session.
// Inactive tenants are treated as missing so their webhooks are ignored.
func (s *TenantService) GetTenantBySession(httpCtx context.Context, waSession string) (*models.Tenant, error) {
	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	var tenant models.Tenant
	err := s.db.WithContext(ctx).
		First(&tenant, "wa_session = ? AND is_active = true", waSession).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tenant by session: %w", err)
	}
	return &tenant, nil
}

// ListTenants returns all tenants.
func (s *TenantService) ListTenants(httpCtx context.Context) ([]models.Tenant, error) {
	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	var tenants []models.Tenant
	if err := s.db.WithContext(ctx).Order("created_at").Find(&tenants).Error; err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	return tenants, nil
}

// UpdateTenant applies the mutable fields of a tenant.
func (s *TenantService) UpdateTenant(httpCtx context.Context, id string, update *models.Tenant) (*models.Tenant, error) {
	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	tenant, err := s.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{}
	if update.Name != "" {
		fields["name"] = update.Name
	}
	if update.LLMConfigName != "" {
		fields["llm_config_name"] = update.LLMConfigName
	}
	if update.AgentPrompt != "" {
		fields["agent_prompt"] = update.AgentPrompt
	}
	fields["is_active"] = update.IsActive

	if err := s.db.WithContext(ctx).Model(tenant).Updates(fields).Error; err != nil {
		return nil, fmt.Errorf("failed to update tenant: %w", err)
	}
	return s.GetTenant(ctx, id)
}

// UpsertLLMConfig creates or replaces an LLM configuration by name.
func (s *TenantService) UpsertLLMConfig(httpCtx context.Context, cfg *models.LLMConfig) (*models.LLMConfig, error) {
	if cfg.Name == "" {
		return nil, NewValidationError("name", "required")
	}
	if cfg.Provider == "" {
		return nil, NewValidationError("provider", "required")
	}
	if cfg.ModelName == "" {
		return nil, NewValidationError("model_name", "required")
	}

	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	var existing models.LLMConfig
	err := s.db.WithContext(ctx).First(&existing, "name = ?", cfg.Name).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.WithContext(ctx).Create(cfg).Error; err != nil {
			return nil, fmt.Errorf("failed to create llm config: %w", err)
		}
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("failed to look up llm config: %w", err)
	}

	cfg.ID = existing.ID
	cfg.CreatedAt = existing.CreatedAt
	if err := s.db.WithContext(ctx).Save(cfg).Error; err != nil {
		return nil, fmt.Errorf("failed to update llm config: %w", err)
	}
	return cfg, nil
}

// ResolveLLMConfig returns the active LLM configuration a tenant references.
func (s *TenantService) ResolveLLMConfig(httpCtx context.Context, tenant *models.Tenant) (*models.LLMConfig, error) {
	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	var cfg models.LLMConfig
	err := s.db.WithContext(ctx).
		First(&cfg, "name = ? AND is_active = true", tenant.LLMConfigName).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("tenant %s references unknown llm config %q: %w",
				tenant.ID, tenant.LLMConfigName, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to resolve llm config: %w", err)
	}
	return &cfg, nil
}

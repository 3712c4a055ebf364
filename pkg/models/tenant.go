package models

import "gorm.io/gorm"

// Tenant is one WhatsApp-facing business. Each tenant maps to exactly one
// bridge session.
type Tenant struct {
	Base
	Name          string `gorm:"not null" json:"name"`
	WASession     string `gorm:"uniqueIndex;not null" json:"wa_session"`
	LLMConfigName string `gorm:"not null" json:"llm_config_name"`
	AgentPrompt   string `gorm:"type:text" json:"agent_prompt"`
	IsActive      bool   `gorm:"default:true" json:"is_active"`
}

// BeforeCreate assigns the UUID primary key.
func (t *Tenant) BeforeCreate(_ *gorm.DB) error {
	t.EnsureID()
	return nil
}

// LLMConfig names a model configuration tenants reference by name.
type LLMConfig struct {
	Base
	Name           string  `gorm:"uniqueIndex;not null" json:"name"`
	Provider       string  `gorm:"not null" json:"provider"`
	ModelName      string  `gorm:"not null" json:"model_name"`
	Temperature    float32 `gorm:"default:0.7" json:"temperature"`
	MaxTokens      int     `gorm:"default:1024" json:"max_tokens"`
	APIKeyEnv      string  `gorm:"not null" json:"api_key_env"`
	BaseURL        string  `json:"base_url"`
	TimeoutSeconds int     `gorm:"default:30" json:"timeout_seconds"`
	IsActive       bool    `gorm:"default:true" json:"is_active"`
}

// BeforeCreate assigns the UUID primary key.
func (c *LLMConfig) BeforeCreate(_ *gorm.DB) error {
	c.EnsureID()
	return nil
}

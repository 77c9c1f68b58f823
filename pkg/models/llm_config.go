package models

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gorm.io/gorm"
)

// LLMProvider identifies which client implementation talks to the model.
type LLMProvider string

const (
	ProviderOpenAI    LLMProvider = "openai"
	ProviderAnthropic LLMProvider = "anthropic"
	ProviderBedrock   LLMProvider = "bedrock"
	ProviderOllama    LLMProvider = "ollama"
)

// LLMConfig stores one model endpoint a search space can use. The API key is
// encrypted at rest; APIBase overrides the provider default so any
// OpenAI-compatible endpoint (vLLM, LiteLLM, OpenRouter) plugs in unchanged.
type LLMConfig struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	SearchSpaceID uint        `gorm:"not null;index:idx_llm_configs_space" json:"searchSpaceId"`
	Provider      LLMProvider `gorm:"type:varchar(50);not null" json:"provider"`
	ModelName     string      `gorm:"type:varchar(200);not null" json:"modelName"`

	// APIKey holds the encrypted credential. Empty is valid for local
	// endpoints such as Ollama.
	APIKey  string  `gorm:"type:text" json:"-"`
	APIBase *string `gorm:"type:varchar(500)" json:"apiBase,omitempty"`

	// Language declares the answer language this model is configured for.
	// Nil means unspecified.
	Language *string `gorm:"type:varchar(50)" json:"language,omitempty"`

	// Params carries provider-specific generation settings (temperature,
	// max tokens, context window).
	Params JSON `gorm:"type:jsonb" json:"params,omitempty"`
}

// TableName specifies the table name.
func (LLMConfig) TableName() string {
	return "llm_configs"
}

// Validate enforces field constraints before writes.
func (c *LLMConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.SearchSpaceID, validation.Required),
		validation.Field(&c.Provider, validation.Required, validation.In(
			ProviderOpenAI, ProviderAnthropic, ProviderBedrock, ProviderOllama)),
		validation.Field(&c.ModelName, validation.Required),
	)
}

// BeforeCreate validates the configuration.
func (c *LLMConfig) BeforeCreate(tx *gorm.DB) error {
	return c.Validate()
}

// Create inserts the configuration.
func (c *LLMConfig) Create(db *gorm.DB) error {
	return db.Create(c).Error
}

// GetLLMConfig retrieves a configuration by ID.
func GetLLMConfig(db *gorm.DB, id uint) (*LLMConfig, error) {
	var cfg LLMConfig
	if err := db.First(&cfg, id).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ContextWindow reads the context_window param, defaulting when unset.
func (c *LLMConfig) ContextWindow() int {
	return c.intParam("context_window", 128000)
}

// MaxOutputTokens reads the max_tokens param, defaulting when unset.
func (c *LLMConfig) MaxOutputTokens() int {
	return c.intParam("max_tokens", 4096)
}

func (c *LLMConfig) intParam(key string, def int) int {
	params, err := c.Params.AsMap()
	if err != nil {
		return def
	}
	if raw, ok := params[key]; ok {
		if f, ok := raw.(float64); ok && f > 0 {
			return int(f)
		}
	}
	return def
}

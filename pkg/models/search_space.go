package models

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gorm.io/gorm"
)

// LLMRole names the purpose a search space assigns to one of its configured
// models. Summaries want the large context window, query rewrites want the
// cheap fast model, and planning wants the strongest one.
type LLMRole string

const (
	LLMRoleLongContext LLMRole = "long_context"
	LLMRoleFast        LLMRole = "fast"
	LLMRoleStrategic   LLMRole = "strategic"
)

// SearchSpace is the isolation unit for the knowledge base. Connectors,
// documents, chunks, task logs and chats all hang off a search space and are
// removed with it.
type SearchSpace struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Name   string `gorm:"type:varchar(200);not null" json:"name"`
	UserID string `gorm:"type:varchar(255);not null;index:idx_search_spaces_user" json:"userId"`

	// Research behavior
	CitationsEnabled bool   `gorm:"not null;default:true" json:"citationsEnabled"`
	QnAInstructions  string `gorm:"type:text" json:"qnaInstructions"`

	// Model assignments per role. Null means the role is unconfigured and
	// callers fall back per LLMForRole.
	LongContextLLMID *uint `json:"longContextLlmId,omitempty"`
	FastLLMID        *uint `json:"fastLlmId,omitempty"`
	StrategicLLMID   *uint `json:"strategicLlmId,omitempty"`

	Connectors []Connector `gorm:"foreignKey:SearchSpaceID;constraint:OnDelete:CASCADE" json:"-"`
	Documents  []Document  `gorm:"foreignKey:SearchSpaceID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name.
func (SearchSpace) TableName() string {
	return "search_spaces"
}

// Validate enforces field constraints before writes.
func (sp *SearchSpace) Validate() error {
	return validation.ValidateStruct(sp,
		validation.Field(&sp.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&sp.UserID, validation.Required),
	)
}

// BeforeCreate validates the search space.
func (sp *SearchSpace) BeforeCreate(tx *gorm.DB) error {
	return sp.Validate()
}

// Create inserts the search space.
func (sp *SearchSpace) Create(db *gorm.DB) error {
	return db.Create(sp).Error
}

// GetSearchSpace retrieves a search space by ID.
func GetSearchSpace(db *gorm.DB, id uint) (*SearchSpace, error) {
	var sp SearchSpace
	if err := db.First(&sp, id).Error; err != nil {
		return nil, err
	}
	return &sp, nil
}

// LLMForRole resolves the LLM configuration a space assigns to a role. When
// the role is unassigned it falls back to the other roles in a fixed order so
// a space configured with a single model still works everywhere.
func (sp *SearchSpace) LLMForRole(db *gorm.DB, role LLMRole) (*LLMConfig, error) {
	order := map[LLMRole][]*uint{
		LLMRoleLongContext: {sp.LongContextLLMID, sp.StrategicLLMID, sp.FastLLMID},
		LLMRoleFast:        {sp.FastLLMID, sp.StrategicLLMID, sp.LongContextLLMID},
		LLMRoleStrategic:   {sp.StrategicLLMID, sp.LongContextLLMID, sp.FastLLMID},
	}
	for _, id := range order[role] {
		if id == nil {
			continue
		}
		cfg, err := GetLLMConfig(db, *id)
		if err == nil {
			return cfg, nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, err
		}
	}
	return nil, gorm.ErrRecordNotFound
}

package models

import (
	"time"

	"gorm.io/gorm"
)

// ChatThread groups the messages of one conversation in a search space.
type ChatThread struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	SearchSpaceID uint   `gorm:"not null;index:idx_chat_threads_space" json:"searchSpaceId"`
	UserID        string `gorm:"type:varchar(255);not null" json:"userId"`
	Title         string `gorm:"type:varchar(500)" json:"title"`

	Messages []ChatMessage `gorm:"foreignKey:ThreadID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

// TableName specifies the table name.
func (ChatThread) TableName() string {
	return "chat_threads"
}

// ChatMessage is one turn. Assistant turns written by the research agent
// carry the serialized event trace in Trace so the UI can replay citations
// and sources without re-running retrieval.
type ChatMessage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`

	ThreadID uint   `gorm:"not null;index:idx_chat_messages_thread" json:"threadId"`
	Role     string `gorm:"type:varchar(20);not null" json:"role"`
	Content  string `gorm:"type:text" json:"content"`
	Trace    JSON   `gorm:"type:jsonb" json:"trace,omitempty"`
}

// TableName specifies the table name.
func (ChatMessage) TableName() string {
	return "chat_messages"
}

// GetChatThread loads a thread with its messages in order.
func GetChatThread(db *gorm.DB, id uint) (*ChatThread, error) {
	var thread ChatThread
	err := db.Preload("Messages", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("id ASC")
	}).First(&thread, id).Error
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

// AppendChatMessage adds a message to a thread.
func AppendChatMessage(db *gorm.DB, msg *ChatMessage) error {
	return db.Create(msg).Error
}

// GetChatThreadsBySpace lists a space's threads, newest first, without
// their messages.
func GetChatThreadsBySpace(db *gorm.DB, searchSpaceID uint, skip, limit int) ([]ChatThread, error) {
	var threads []ChatThread
	err := db.
		Where("search_space_id = ?", searchSpaceID).
		Order("updated_at DESC").
		Offset(skip).
		Limit(limit).
		Find(&threads).Error
	return threads, err
}

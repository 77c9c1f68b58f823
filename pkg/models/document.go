package models

import (
	"time"

	"gorm.io/gorm"
)

// Document is the canonical indexed unit. Content holds the stored summary
// (what retrieval returns in DOCUMENTS mode and what the summary embedding is
// computed from); the full source text lives in the owned chunks.
//
// Two hash columns carry the dedup contract:
//   - ContentHash is unique across the whole store. Two sources producing the
//     same canonical text inside one search space collapse to one document.
//   - UniqueIdentifierHash is unique and stable across re-syncs of the same
//     source item, making it the update-in-place key.
type Document struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	SearchSpaceID uint          `gorm:"not null;index:idx_documents_space" json:"searchSpaceId"`
	ConnectorID   uint          `gorm:"not null;index:idx_documents_connector" json:"connectorId"`
	ConnectorType ConnectorType `gorm:"type:varchar(50);not null" json:"connectorType"`
	UserID        string        `gorm:"type:varchar(255);not null" json:"userId"`

	Title   string `gorm:"type:varchar(500);not null" json:"title"`
	Content string `gorm:"type:text" json:"content"`

	ContentHash          string `gorm:"type:varchar(64);not null;uniqueIndex" json:"-"`
	UniqueIdentifierHash string `gorm:"type:varchar(64);not null;uniqueIndex" json:"-"`

	// SourceID is the source-native identifier (Drive file id, Notion page
	// id, channel+ts). Indexed plainly so the early-skip check can see items
	// indexed by any connector in the space before paying for a download.
	SourceID string `gorm:"type:varchar(500);index:idx_documents_source_id" json:"sourceId"`

	// Metadata carries per-source-typed fields plus indexed_at. The UI only
	// renders URLs present here; it never invents them.
	Metadata JSON `gorm:"type:jsonb" json:"metadata,omitempty"`

	// Embedding is the summary embedding used for document-level rerank.
	Embedding Vector `gorm:"type:jsonb" json:"-"`

	Chunks []Chunk `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE" json:"chunks,omitempty"`
}

// TableName specifies the table name.
func (Document) TableName() string {
	return "documents"
}

// Chunk is one retrieval unit of a document's full text, embedded
// independently and ordered by Ordinal.
type Chunk struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`

	DocumentID uint   `gorm:"not null;index:idx_chunks_document" json:"documentId"`
	Ordinal    int    `gorm:"type:integer;not null" json:"ordinal"`
	Content    string `gorm:"type:text;not null" json:"content"`
	Embedding  Vector `gorm:"type:jsonb" json:"-"`
}

// TableName specifies the table name.
func (Chunk) TableName() string {
	return "chunks"
}

// GetDocumentByUniqueIdentifierHash finds the document for a source item, if
// it has been indexed before.
func GetDocumentByUniqueIdentifierHash(db *gorm.DB, hash string) (*Document, error) {
	var doc Document
	err := db.Where("unique_identifier_hash = ?", hash).First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetDocumentByContentHash finds a document carrying the exact canonical
// content, regardless of which connector indexed it.
func GetDocumentByContentHash(db *gorm.DB, hash string) (*Document, error) {
	var doc Document
	err := db.Where("content_hash = ?", hash).First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// IsSourceIndexed reports whether any connector in the search space already
// indexed the source-native id. Used for the early skip before download/ETL.
func IsSourceIndexed(db *gorm.DB, searchSpaceID uint, sourceID string) (bool, error) {
	if sourceID == "" {
		return false, nil
	}
	var count int64
	err := db.Model(&Document{}).
		Where("search_space_id = ? AND source_id = ?", searchSpaceID, sourceID).
		Count(&count).Error
	return count > 0, err
}

// GetDocumentsByIDs loads documents (without chunks) for explicit context
// selection in chat requests, scoped to the search space.
func GetDocumentsByIDs(db *gorm.DB, searchSpaceID uint, ids []uint) ([]Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var docs []Document
	err := db.Where("search_space_id = ? AND id IN ?", searchSpaceID, ids).
		Find(&docs).Error
	return docs, err
}

// CountDocumentsByConnector returns how many documents a connector owns.
func CountDocumentsByConnector(db *gorm.DB, connectorID uint) (int64, error) {
	var count int64
	err := db.Model(&Document{}).
		Where("connector_id = ?", connectorID).
		Count(&count).Error
	return count, err
}

// DeleteDocumentsByConnector removes a connector's documents and their chunks.
func DeleteDocumentsByConnector(db *gorm.DB, connectorID uint) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var ids []uint
		if err := tx.Model(&Document{}).
			Where("connector_id = ?", connectorID).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("document_id IN ?", ids).Delete(&Chunk{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&Document{}).Error
	})
}

// DeleteDocumentByUniqueIdentifierHash removes one source item's document and
// chunks. Returns false when no document carries the hash, which is normal
// for a delta removal of an item that was never indexed.
func DeleteDocumentByUniqueIdentifierHash(db *gorm.DB, hash string) (bool, error) {
	deleted := false
	err := db.Transaction(func(tx *gorm.DB) error {
		var doc Document
		if err := tx.Where("unique_identifier_hash = ?", hash).First(&doc).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		if err := tx.Where("document_id = ?", doc.ID).Delete(&Chunk{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&doc).Error; err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// GetChunksByDocument loads a document's chunks in order.
func GetChunksByDocument(db *gorm.DB, documentID uint) ([]Chunk, error) {
	var chunks []Chunk
	err := db.Where("document_id = ?", documentID).
		Order("ordinal ASC").
		Find(&chunks).Error
	return chunks, err
}

// Package docstore is the document store: hash-keyed lookups, batched
// deduplicating writes, and similarity search over stored embeddings.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/MODSetter/SurfSense-sub000/pkg/models"
)

// defaultMaxCandidates bounds how many chunks a similarity search scores in
// memory. Embeddings are stored as portable JSON arrays, so scoring happens
// here rather than in the database.
const defaultMaxCandidates = 2000

// Store wraps the database with document-store operations.
type Store struct {
	db     *gorm.DB
	logger hclog.Logger
}

// New creates a Store.
func New(db *gorm.DB, logger hclog.Logger) *Store {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Store{
		db:     db,
		logger: logger.Named("docstore"),
	}
}

// DB exposes the underlying handle for callers that join store tables with
// their own.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// FindByUniqueIdentifierHash returns the document previously indexed for the
// same source item, or nil.
func (s *Store) FindByUniqueIdentifierHash(ctx context.Context, hash string) (*models.Document, error) {
	doc, err := models.GetDocumentByUniqueIdentifierHash(s.db.WithContext(ctx), hash)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup by unique identifier hash: %w", err)
	}
	return doc, nil
}

// FindByContentHash returns the document carrying identical canonical
// content, regardless of which connector indexed it, or nil.
func (s *Store) FindByContentHash(ctx context.Context, hash string) (*models.Document, error) {
	doc, err := models.GetDocumentByContentHash(s.db.WithContext(ctx), hash)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup by content hash: %w", err)
	}
	return doc, nil
}

// SourceIDIndexed reports whether any connector in the space already indexed
// the source-native id. The indexer calls this before paying for a download
// or an ETL conversion.
func (s *Store) SourceIDIndexed(ctx context.Context, searchSpaceID uint, sourceID string) (bool, error) {
	return models.IsSourceIndexed(s.db.WithContext(ctx), searchSpaceID, sourceID)
}

// SearchParams scopes a similarity search. SpaceID is required; ConnectorID,
// ConnectorType and DocumentIDs narrow further when set. An empty Query
// vector degrades to recency order.
type SearchParams struct {
	SpaceID       uint
	ConnectorID   uint
	ConnectorType models.ConnectorType
	DocumentIDs   []uint
	Query         models.Vector
	TopK          int
	MaxCandidates int
}

func (p SearchParams) withDefaults() SearchParams {
	if p.TopK <= 0 {
		p.TopK = 10
	}
	if p.MaxCandidates <= 0 {
		p.MaxCandidates = defaultMaxCandidates
	}
	return p
}

// ChunkHit is one scored chunk with its owning document.
type ChunkHit struct {
	Chunk    models.Chunk
	Document models.Document
	Score    float64
}

// DocumentHit is one scored document.
type DocumentHit struct {
	Document models.Document
	Score    float64
}

func (s *Store) scopedDocuments(ctx context.Context, p SearchParams) ([]models.Document, error) {
	q := s.db.WithContext(ctx).
		Where("search_space_id = ?", p.SpaceID)
	if p.ConnectorID != 0 {
		q = q.Where("connector_id = ?", p.ConnectorID)
	}
	if p.ConnectorType != "" {
		q = q.Where("connector_type = ?", p.ConnectorType)
	}
	if len(p.DocumentIDs) > 0 {
		q = q.Where("id IN ?", p.DocumentIDs)
	}

	var docs []models.Document
	if err := q.Order("updated_at DESC").Limit(p.MaxCandidates).Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("load scoped documents: %w", err)
	}
	return docs, nil
}

// SearchChunks scores the scoped chunks against the query embedding and
// returns the top K, best first.
func (s *Store) SearchChunks(ctx context.Context, p SearchParams) ([]ChunkHit, error) {
	p = p.withDefaults()

	docs, err := s.scopedDocuments(ctx, p)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	byID := make(map[uint]models.Document, len(docs))
	ids := make([]uint, 0, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
		ids = append(ids, d.ID)
	}

	var chunks []models.Chunk
	err = s.db.WithContext(ctx).
		Where("document_id IN ?", ids).
		Order("document_id ASC, ordinal ASC").
		Limit(p.MaxCandidates).
		Find(&chunks).Error
	if err != nil {
		return nil, fmt.Errorf("load candidate chunks: %w", err)
	}

	hits := make([]ChunkHit, 0, len(chunks))
	for _, c := range chunks {
		hits = append(hits, ChunkHit{
			Chunk:    c,
			Document: byID[c.DocumentID],
			Score:    p.Query.Cosine(c.Embedding),
		})
	}
	if len(p.Query) > 0 {
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	}
	if len(hits) > p.TopK {
		hits = hits[:p.TopK]
	}

	s.logger.Debug("chunk search",
		"space_id", p.SpaceID,
		"candidates", len(chunks),
		"returned", len(hits),
	)
	return hits, nil
}

// SearchDocuments scores the scoped documents by their summary embedding.
// With an empty query the documents come back in recency order with zero
// scores, which is what whole-document retrieval wants.
func (s *Store) SearchDocuments(ctx context.Context, p SearchParams) ([]DocumentHit, error) {
	p = p.withDefaults()

	docs, err := s.scopedDocuments(ctx, p)
	if err != nil {
		return nil, err
	}

	hits := make([]DocumentHit, 0, len(docs))
	for _, d := range docs {
		hits = append(hits, DocumentHit{
			Document: d,
			Score:    p.Query.Cosine(d.Embedding),
		})
	}
	if len(p.Query) > 0 {
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	}
	if len(hits) > p.TopK {
		hits = hits[:p.TopK]
	}
	return hits, nil
}

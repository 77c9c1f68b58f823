package connectors

import (
	"context"
	"fmt"
	"strings"

	"github.com/MODSetter/SurfSense-sub000/pkg/docstore"
	"github.com/MODSetter/SurfSense-sub000/pkg/llm"
	"github.com/MODSetter/SurfSense-sub000/pkg/models"
)

// descriptionLen bounds the per-source preview shown in citations.
const descriptionLen = 120

// DocSearch implements the Searcher capability over the documents a
// connector has indexed. Adapters that index into the store embed it;
// adapters that query a remote corpus implement Searcher themselves.
type DocSearch struct {
	store    *docstore.Store
	embedder llm.Embedder
	conn     *models.Connector
}

// NewDocSearch builds the store-backed searcher for one connector row.
func NewDocSearch(deps Deps, conn *models.Connector) *DocSearch {
	return &DocSearch{
		store:    docstore.New(deps.DB, deps.Logger),
		embedder: deps.Embedder,
		conn:     conn,
	}
}

// Search returns the connector's source group and scored records for the
// query. Source IDs are document IDs, which is what citation tokens carry.
func (s *DocSearch) Search(ctx context.Context, query string, topK int, mode SearchMode) (SourceGroup, []ChunkRecord, error) {
	group := SourceGroup{
		ID:   int(s.conn.ID),
		Name: s.conn.ConnectorType.DisplayName(),
		Type: string(s.conn.ConnectorType),
	}

	var queryVec models.Vector
	if s.embedder != nil && query != "" {
		vecs, err := s.embedder.Embed(ctx, []string{query})
		if err != nil {
			return group, nil, fmt.Errorf("embed query: %w", err)
		}
		if len(vecs) == 1 {
			queryVec = models.Vector(vecs[0])
		}
	}

	params := docstore.SearchParams{
		SpaceID:     s.conn.SearchSpaceID,
		ConnectorID: s.conn.ID,
		Query:       queryVec,
		TopK:        topK,
	}

	if mode == SearchModeDocuments {
		hits, err := s.store.SearchDocuments(ctx, params)
		if err != nil {
			return group, nil, err
		}
		records := make([]ChunkRecord, 0, len(hits))
		for _, h := range hits {
			group.Sources = append(group.Sources, sourceFromDocument(h.Document, h.Document.Content))
			records = append(records, ChunkRecord{
				SourceID: int(h.Document.ID),
				Content:  h.Document.Content,
				Score:    DocumentScore,
			})
		}
		return group, records, nil
	}

	hits, err := s.store.SearchChunks(ctx, params)
	if err != nil {
		return group, nil, err
	}

	seen := make(map[uint]bool)
	records := make([]ChunkRecord, 0, len(hits))
	for _, h := range hits {
		if !seen[h.Document.ID] {
			seen[h.Document.ID] = true
			group.Sources = append(group.Sources, sourceFromDocument(h.Document, h.Chunk.Content))
		}
		records = append(records, ChunkRecord{
			ChunkID:  h.Chunk.ID,
			SourceID: int(h.Document.ID),
			Content:  h.Chunk.Content,
			Score:    h.Score,
		})
	}
	return group, records, nil
}

func sourceFromDocument(doc models.Document, preview string) Source {
	src := Source{
		ID:          int(doc.ID),
		Title:       doc.Title,
		Description: Truncate(preview, descriptionLen),
	}
	if meta, err := doc.Metadata.AsMap(); err == nil {
		if url, ok := meta["url"].(string); ok {
			src.URL = url
		}
	}
	return src
}

// Truncate shortens s to at most n runes, appending an ellipsis when content
// was dropped.
func Truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n])) + "..."
}

package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/MODSetter/SurfSense-sub000/pkg/connectors"
	"github.com/MODSetter/SurfSense-sub000/pkg/llm"
	"github.com/MODSetter/SurfSense-sub000/pkg/models"
)

// Reranker rescores retrieved chunks against the query and returns them
// best-first. Implementations replace the connector-reported scores.
type Reranker interface {
	Rerank(ctx context.Context, query string, records []connectors.ChunkRecord) ([]connectors.ChunkRecord, error)
}

// EmbeddingReranker scores chunks by cosine similarity between the query
// embedding and each chunk's content embedding, computed in one batch.
type EmbeddingReranker struct {
	embedder llm.Embedder
}

// NewEmbeddingReranker builds a reranker over the given embedder.
func NewEmbeddingReranker(embedder llm.Embedder) *EmbeddingReranker {
	return &EmbeddingReranker{embedder: embedder}
}

func (r *EmbeddingReranker) Rerank(ctx context.Context, query string, records []connectors.ChunkRecord) ([]connectors.ChunkRecord, error) {
	if len(records) == 0 || query == "" {
		return records, nil
	}

	texts := make([]string, 0, len(records)+1)
	texts = append(texts, query)
	for _, rec := range records {
		texts = append(texts, rec.Content)
	}
	vecs, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed for rerank: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}

	queryVec := models.Vector(vecs[0])
	out := make([]connectors.ChunkRecord, len(records))
	copy(out, records)
	for i := range out {
		out[i].Score = queryVec.Cosine(models.Vector(vecs[i+1]))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// LexicalReranker scores chunks with full-text match relevance on a
// throwaway in-memory index. Chunks the query does not match at all score
// zero and sort after every match, keeping their relative input order.
type LexicalReranker struct{}

// NewLexicalReranker builds the index-per-call lexical reranker.
func NewLexicalReranker() *LexicalReranker {
	return &LexicalReranker{}
}

func (r *LexicalReranker) Rerank(ctx context.Context, query string, records []connectors.ChunkRecord) ([]connectors.ChunkRecord, error) {
	if len(records) == 0 || query == "" {
		return records, nil
	}

	index, err := bleve.NewMemOnly(rerankMapping())
	if err != nil {
		return nil, fmt.Errorf("create rerank index: %w", err)
	}
	defer index.Close()

	batch := index.NewBatch()
	for i, rec := range records {
		err := batch.Index(strconv.Itoa(i), map[string]string{"content": rec.Content})
		if err != nil {
			return nil, fmt.Errorf("index chunk for rerank: %w", err)
		}
	}
	if err := index.Batch(batch); err != nil {
		return nil, fmt.Errorf("index chunks for rerank: %w", err)
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")
	request := bleve.NewSearchRequest(matchQuery)
	request.Size = len(records)

	result, err := index.SearchInContext(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("rerank search: %w", err)
	}

	out := make([]connectors.ChunkRecord, 0, len(records))
	matched := make(map[int]bool, len(result.Hits))
	for _, hit := range result.Hits {
		pos, err := strconv.Atoi(hit.ID)
		if err != nil || pos < 0 || pos >= len(records) {
			continue
		}
		rec := records[pos]
		rec.Score = hit.Score
		out = append(out, rec)
		matched[pos] = true
	}
	for i, rec := range records {
		if !matched[i] {
			rec.Score = 0
			out = append(out, rec)
		}
	}
	return out, nil
}

func rerankMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()

	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = "en"

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	indexMapping.AddDocumentMapping("_default", docMapping)

	return indexMapping
}

// Package retrieval fans research questions out across the connectors
// selected for a chat turn, merges what comes back and orders it for
// prompt packing.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/MODSetter/SurfSense-sub000/pkg/connectors"
	"github.com/MODSetter/SurfSense-sub000/pkg/models"
)

const (
	// defaultTopK is the per-connector result budget for one question.
	defaultTopK = 20

	// defaultParallel bounds concurrent connector searches.
	defaultParallel = 4
)

// EmitFunc receives human-readable progress lines while a retrieval runs.
// Callers stream them to the client as terminal-info events.
type EmitFunc func(message string)

// Options tunes one retrieval pass.
type Options struct {
	SpaceID uint

	// TopK is the per-connector, per-question result budget. Zero means
	// defaultTopK.
	TopK int

	// Mode selects chunk- or document-granularity results.
	Mode connectors.SearchMode

	// UserQuery and ReformulatedQuery feed the reranker; both are joined
	// into one scoring query.
	UserQuery         string
	ReformulatedQuery string

	// SelectedDocumentIDs are documents the user pinned to the chat turn.
	// Their groups always enter the merge first.
	SelectedDocumentIDs []uint

	// MaxParallel bounds concurrent searches. Zero means defaultParallel.
	MaxParallel int
}

// Result is the merged, deduplicated, ordered output of one retrieval.
type Result struct {
	// Groups hold the citable sources per connector, user-selected groups
	// first.
	Groups []connectors.SourceGroup

	// Chunks are deduplicated and sorted best-first. Token-budget
	// truncation is the consumer's job.
	Chunks []connectors.ChunkRecord
}

// Config wires a Retriever.
type Config struct {
	DB       *gorm.DB
	Registry *connectors.Registry
	Deps     connectors.Deps

	// Reranker rescores merged chunks when set; nil keeps the
	// connector-reported ordering.
	Reranker Reranker

	Logger hclog.Logger
}

// Retriever runs multi-connector searches for the research agent. One
// Retriever serves all chat requests.
type Retriever struct {
	db       *gorm.DB
	registry *connectors.Registry
	deps     connectors.Deps
	reranker Reranker
	logger   hclog.Logger
}

// New builds a Retriever.
func New(cfg Config) (*Retriever, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("adapter registry is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	return &Retriever{
		db:       cfg.DB,
		registry: cfg.Registry,
		deps:     cfg.Deps,
		reranker: cfg.Reranker,
		logger:   cfg.Logger.Named("retrieval"),
	}, nil
}

// searchHit is one (question, connector) search outcome awaiting the merge.
type searchHit struct {
	group   connectors.SourceGroup
	records []connectors.ChunkRecord
}

// Retrieve searches every selected connector with every question, merges
// the results and returns them ordered best-first. Connector failures
// degrade to warnings on emit; the error return is reserved for the
// database and for context cancellation.
func (r *Retriever) Retrieve(ctx context.Context, questions []string, connectorIDs []uint, opts Options, emit EmitFunc) (*Result, error) {
	if emit == nil {
		emit = func(string) {}
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	mode := opts.Mode
	if mode == "" {
		mode = connectors.SearchModeChunks
	}
	parallel := opts.MaxParallel
	if parallel <= 0 {
		parallel = defaultParallel
	}

	merger := newMerger()

	if err := r.addSelectedDocuments(merger, opts); err != nil {
		return nil, err
	}

	conns, err := models.GetConnectorsByIDs(r.db, opts.SpaceID, connectorIDs)
	if err != nil {
		return nil, fmt.Errorf("load connectors: %w", err)
	}

	var emitMu sync.Mutex
	say := func(format string, args ...interface{}) {
		emitMu.Lock()
		defer emitMu.Unlock()
		emit(fmt.Sprintf(format, args...))
	}

	// One slot per (connector, question); each task writes only its own,
	// so the merge below reads a deterministic layout without locking.
	hits := make([]*searchHit, len(conns)*len(questions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	for ci := range conns {
		conn := conns[ci]

		searcher := r.searcherFor(ctx, &conn, say)
		if searcher == nil {
			continue
		}
		say("🔎 Searching %s", conn.Name)

		for qi, question := range questions {
			slot := ci*len(questions) + qi
			g.Go(func() error {
				group, records, err := searcher.Search(gctx, question, topK, mode)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					r.logger.Warn("connector search failed",
						"connector", conn.ID, "type", conn.ConnectorType, "error", err)
					say("⚠️ %s search failed: %s", conn.Name, err)
					return nil
				}
				say("🔎 %s: found %d results", conn.Name, len(records))
				hits[slot] = &searchHit{group: group, records: records}
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, hit := range hits {
		if hit != nil {
			merger.add(hit.group, hit.records)
		}
	}

	result := &Result{
		Groups: merger.groups(),
		Chunks: merger.chunks(),
	}
	r.rank(ctx, opts, result, say)
	return result, nil
}

// searcherFor builds the connector's adapter and probes its search
// capability. Either failure mode is a warning, not a retrieval failure.
func (r *Retriever) searcherFor(ctx context.Context, conn *models.Connector, say func(string, ...interface{})) connectors.Searcher {
	adapter, err := r.registry.New(ctx, r.deps, conn)
	if err != nil {
		r.logger.Warn("cannot build adapter for search",
			"connector", conn.ID, "type", conn.ConnectorType, "error", err)
		say("⚠️ %s is not searchable: %s", conn.Name, err)
		return nil
	}
	searcher, ok := adapter.(connectors.Searcher)
	if !ok {
		r.logger.Warn("connector type does not support search",
			"connector", conn.ID, "type", conn.ConnectorType)
		say("⚠️ %s does not support search", conn.Name)
		return nil
	}
	return searcher
}

// addSelectedDocuments loads the user-pinned documents and seeds the merge
// with one group per owning connector, before any live search result.
func (r *Retriever) addSelectedDocuments(m *merger, opts Options) error {
	if len(opts.SelectedDocumentIDs) == 0 {
		return nil
	}
	docs, err := models.GetDocumentsByIDs(r.db, opts.SpaceID, opts.SelectedDocumentIDs)
	if err != nil {
		return fmt.Errorf("load selected documents: %w", err)
	}

	byConnector := make(map[uint]*searchHit)
	var order []uint
	for _, doc := range docs {
		hit, ok := byConnector[doc.ConnectorID]
		if !ok {
			hit = &searchHit{group: connectors.SourceGroup{
				ID:   int(doc.ConnectorID),
				Name: doc.ConnectorType.DisplayName(),
				Type: string(doc.ConnectorType),
			}}
			byConnector[doc.ConnectorID] = hit
			order = append(order, doc.ConnectorID)
		}
		src := connectors.Source{
			ID:          int(doc.ID),
			Title:       doc.Title,
			Description: connectors.Truncate(doc.Content, 120),
		}
		if meta, err := doc.Metadata.AsMap(); err == nil {
			if url, ok := meta["url"].(string); ok {
				src.URL = url
			}
		}
		hit.group.Sources = append(hit.group.Sources, src)
		hit.records = append(hit.records, connectors.ChunkRecord{
			SourceID: int(doc.ID),
			Content:  doc.Content,
			Score:    connectors.DocumentScore,
		})
	}
	for _, id := range order {
		m.add(byConnector[id].group, byConnector[id].records)
	}
	return nil
}

// rank orders the merged chunks: reranker when configured, else the
// connector-reported score. A reranker failure falls back to score order.
func (r *Retriever) rank(ctx context.Context, opts Options, result *Result, say func(string, ...interface{})) {
	if r.reranker != nil {
		query := strings.TrimSpace(opts.UserQuery + " " + opts.ReformulatedQuery)
		ranked, err := r.reranker.Rerank(ctx, query, result.Chunks)
		if err == nil {
			result.Chunks = ranked
			return
		}
		r.logger.Warn("rerank failed, keeping connector score order", "error", err)
		say("⚠️ Reranking failed, using original result order")
	}
	sort.SliceStable(result.Chunks, func(i, j int) bool {
		return result.Chunks[i].Score > result.Chunks[j].Score
	})
}

// merger applies the two dedup passes in arrival order: source groups
// keyed (type, group id) with more-chunks-wins replacement, chunks keyed
// by chunk id with a content-hash fallback.
type merger struct {
	groupOrder []groupKey
	groupByKey map[groupKey]connectors.SourceGroup
	groupCount map[groupKey]int

	seenChunk map[uint]bool
	seenHash  map[string]bool
	merged    []connectors.ChunkRecord
}

type groupKey struct {
	typ string
	id  int
}

func newMerger() *merger {
	return &merger{
		groupByKey: make(map[groupKey]connectors.SourceGroup),
		groupCount: make(map[groupKey]int),
		seenChunk:  make(map[uint]bool),
		seenHash:   make(map[string]bool),
	}
}

func (m *merger) add(group connectors.SourceGroup, records []connectors.ChunkRecord) {
	key := groupKey{typ: group.Type, id: group.ID}
	if count, exists := m.groupCount[key]; !exists {
		m.groupOrder = append(m.groupOrder, key)
		m.groupByKey[key] = group
		m.groupCount[key] = len(records)
	} else if len(records) > count {
		// A later appearance with more chunks carries the richer source
		// list; ties keep the incumbent.
		m.groupByKey[key] = group
		m.groupCount[key] = len(records)
	}

	for _, rec := range records {
		if rec.ChunkID != 0 {
			if m.seenChunk[rec.ChunkID] {
				continue
			}
			m.seenChunk[rec.ChunkID] = true
		}
		hash := contentKey(rec.Content)
		if m.seenHash[hash] {
			continue
		}
		m.seenHash[hash] = true
		m.merged = append(m.merged, rec)
	}
}

func (m *merger) groups() []connectors.SourceGroup {
	out := make([]connectors.SourceGroup, 0, len(m.groupOrder))
	for _, key := range m.groupOrder {
		out = append(out, m.groupByKey[key])
	}
	return out
}

func (m *merger) chunks() []connectors.ChunkRecord {
	return m.merged
}

func contentKey(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Package connectors defines the adapter contract every source type
// implements, plus the shared machinery adapters lean on: the registry,
// retry/backoff, the date-range policy, OAuth token handling and config
// decoding. Concrete adapters live in subpackages.
package connectors

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/MODSetter/SurfSense-sub000/pkg/etl"
	"github.com/MODSetter/SurfSense-sub000/pkg/llm"
	"github.com/MODSetter/SurfSense-sub000/pkg/models"
	"github.com/MODSetter/SurfSense-sub000/pkg/secrets"
)

// RawItem is one source item before canonicalization.
type RawItem struct {
	// SourceID is the source-native identifier: page id for Notion,
	// channel+ts for Slack, file id for Drive, URL for web pages.
	SourceID string

	Title    string
	URL      string
	MimeType string

	// Payload carries source-specific fields the formatter renders.
	Payload map[string]interface{}

	// Metadata is stored on the document for the UI and citations.
	Metadata map[string]interface{}

	// HashText, when set, is the canonical text the content hash is
	// computed from instead of the rendered markdown. Adapters set it when
	// their rendering embeds volatile metadata (crawl timestamps, request
	// ids) that must not change the hash.
	HashText string

	ModifiedAt time.Time
}

// ChangeKind classifies one delta-feed entry.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeRemoved ChangeKind = "removed"
)

// Change is one entry from an adapter's delta feed.
type Change struct {
	Kind     ChangeKind
	SourceID string
	// Item is nil for removed entries and for adapters whose feed carries
	// ids only; the indexer then fetches content separately.
	Item *RawItem
}

// ItemIterator streams raw items one page at a time. Implementations stop
// pushing as soon as yield returns false, so callers can abandon a listing
// without draining it.
type ItemIterator func(yield func(RawItem, error) bool)

// Window is a resolved date range for a full scan.
type Window struct {
	Start time.Time
	End   time.Time
}

// FetchHint carries what the lister already knows about an item, so
// FetchContent can pick the cheap path.
type FetchHint struct {
	MimeType string
	Title    string
	Metadata map[string]interface{}
}

// SearchMode selects the result granularity of Search.
type SearchMode string

const (
	// SearchModeChunks returns chunk-granularity results with real scores.
	SearchModeChunks SearchMode = "CHUNKS"
	// SearchModeDocuments returns whole-document text with a uniform
	// pseudo-score.
	SearchModeDocuments SearchMode = "DOCUMENTS"
)

// DocumentScore is the uniform pseudo-score attached to DOCUMENTS-mode
// results.
const DocumentScore = 0.5

// Source is one citable document inside a source group. ID is the citation
// id the research agent's `[citation:N]` tokens refer to.
type Source struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// SourceGroup bundles the sources one connector returned for one search.
type SourceGroup struct {
	ID      int      `json:"id"`
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Sources []Source `json:"sources"`
}

// ChunkRecord is one retrieved result row.
type ChunkRecord struct {
	// ChunkID is the database chunk id; zero when the result has no stored
	// chunk (DOCUMENTS mode, remote sources).
	ChunkID uint
	// SourceID ties the chunk to its Source within the group.
	SourceID int
	Content  string
	Score    float64
}

// Adapter is the base contract: every connector type implements it, all
// other capabilities are optional and probed with type assertions.
type Adapter interface {
	Type() models.ConnectorType
}

// Validator verifies credentials at attach time.
type Validator interface {
	Validate(ctx context.Context) error
}

// DeltaLister pulls changes since a cursor. Adapters without a change feed
// simply do not implement it.
type DeltaLister interface {
	ListDelta(ctx context.Context, cursor string) ([]Change, string, error)
}

// FullLister scans a date window.
type FullLister interface {
	ListFull(ctx context.Context, win Window) (ItemIterator, error)
}

// ContentFetcher returns canonical text for one source id. Expensive for
// file-backed sources, which is why the indexer early-skips before calling
// it.
type ContentFetcher interface {
	FetchContent(ctx context.Context, sourceID string, hint FetchHint) (string, error)
}

// Searcher serves retrieval queries.
type Searcher interface {
	Search(ctx context.Context, query string, topK int, mode SearchMode) (SourceGroup, []ChunkRecord, error)
}

// MarkdownFormatter renders a raw item as markdown. Must be pure: the same
// raw item always renders to the same bytes.
type MarkdownFormatter interface {
	FormatMarkdown(raw RawItem) string
}

// VolatileConfig lists config keys excluded from the settings hash beyond
// the always-excluded credential keys: cursors, rotating state, anything a
// run rewrites.
type VolatileConfig interface {
	VolatileConfigKeys() []string
}

// CalendarLike marks adapters allowed to index into the future (events not
// yet occurred). Everything else clamps scan windows to now.
type CalendarLike interface {
	CalendarLike() bool
}

// Deps carries the shared services a factory may hand its adapter.
type Deps struct {
	DB         *gorm.DB
	Secrets    secrets.Store
	Etl        etl.Converter
	Embedder   llm.Embedder
	HTTP       *http.Client
	Logger     hclog.Logger
	SelfHosted bool
}

// HTTPClient returns the shared client, or a default with the adapter
// timeout.
func (d Deps) HTTPClient() *http.Client {
	if d.HTTP != nil {
		return d.HTTP
	}
	return &http.Client{Timeout: DefaultTimeout}
}

// Log returns the logger, never nil.
func (d Deps) Log() hclog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return hclog.NewNullLogger()
}

// DefaultTimeout bounds individual adapter API calls.
const DefaultTimeout = 30 * time.Second

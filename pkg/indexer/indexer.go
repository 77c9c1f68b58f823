// Package indexer runs the generic sync pipeline for one connector: decide
// delta vs full scan, walk the source's items, dispatch each into the
// document store, and keep the task log alive while doing it.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/MODSetter/SurfSense-sub000/pkg/connectors"
	"github.com/MODSetter/SurfSense-sub000/pkg/docstore"
	"github.com/MODSetter/SurfSense-sub000/pkg/llm"
	"github.com/MODSetter/SurfSense-sub000/pkg/models"
	"github.com/MODSetter/SurfSense-sub000/pkg/notify"
	"github.com/MODSetter/SurfSense-sub000/pkg/secrets"
)

const (
	// heartbeatInterval keeps watchers from declaring a run dead during
	// slow ETL or long backoffs.
	heartbeatInterval = 30 * time.Second

	// maxItemErrors bounds the per-item error list in the run summary.
	maxItemErrors = 25
)

// SyncMode says how a run walked its source.
type SyncMode string

const (
	SyncModeFull  SyncMode = "full"
	SyncModeDelta SyncMode = "delta"
)

// RunParams describes one requested connector run.
type RunParams struct {
	ConnectorID uint
	UserID      string

	// StartDate and EndDate are raw caller strings; sentinels and garbage
	// resolve through the shared date-range policy.
	StartDate string
	EndDate   string

	// UpdateLastIndexed advances last_indexed_at on success. Callers
	// orchestrating retries pass false to keep the window open.
	UpdateLastIndexed bool

	// MaxItems caps how many items the run processes; zero means unlimited.
	// A capped run leaves cursor, settings hash and watermark untouched.
	MaxItems int

	// ConfigOverride is merged over the stored connector config for this run
	// only. Overridden runs are scoped: they never persist sync state.
	ConfigOverride map[string]interface{}
}

// RunResult summarizes a finished run.
type RunResult struct {
	RunID    uuid.UUID
	Mode     SyncMode
	Window   connectors.Window
	Counters docstore.Counters

	// ItemErrors holds up to maxItemErrors per-item failures. They never
	// abort a run.
	ItemErrors []string
}

// Config wires a Runner.
type Config struct {
	DB       *gorm.DB
	Store    *docstore.Store
	Registry *connectors.Registry
	Secrets  secrets.Store
	Deps     connectors.Deps
	Embedder llm.Embedder

	// Summarizer writes document summaries when configured; nil falls back
	// to the deterministic template summary.
	Summarizer llm.Client

	// Clients resolves a search space's long-context model into a per-run
	// summarizer. When set it takes precedence over Summarizer; spaces
	// without a configured model fall back to Summarizer, then to the
	// template summary. *llm.ClientFactory satisfies it.
	Clients ClientProvider

	Emitter notify.Emitter
	Logger  hclog.Logger
}

// ClientProvider builds chat clients from stored model configurations.
type ClientProvider interface {
	ClientFor(ctx context.Context, cfg *models.LLMConfig) (llm.Client, error)
}

// Runner executes connector runs. One Runner serves all connectors; the
// scheduler serializes runs per connector id upstream.
type Runner struct {
	db         *gorm.DB
	store      *docstore.Store
	registry   *connectors.Registry
	secrets    secrets.Store
	deps       connectors.Deps
	embedder   llm.Embedder
	summarizer llm.Client
	clients    ClientProvider
	emitter    notify.Emitter
	logger     hclog.Logger

	heartbeatEvery time.Duration
	now            func() time.Time
}

// New builds a Runner.
func New(cfg Config) (*Runner, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("adapter registry is required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.Emitter == nil {
		cfg.Emitter = notify.Nop
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	return &Runner{
		db:             cfg.DB,
		store:          cfg.Store,
		registry:       cfg.Registry,
		secrets:        cfg.Secrets,
		deps:           cfg.Deps,
		embedder:       cfg.Embedder,
		summarizer:     cfg.Summarizer,
		clients:        cfg.Clients,
		emitter:        cfg.Emitter,
		logger:         cfg.Logger.Named("indexer"),
		heartbeatEvery: heartbeatInterval,
		now:            time.Now,
	}, nil
}

// SettingsHash fingerprints the user-visible connector configuration:
// SHA-256 over sorted key=value pairs, with credential keys, the encryption
// marker and the adapter's declared volatile keys excluded. A changed hash
// forces the next run to a full scan.
func SettingsHash(cfg map[string]interface{}, volatile []string) string {
	excluded := make(map[string]bool, len(volatile)+len(secrets.SensitiveConfigKeys)+1)
	excluded[secrets.TokenEncryptedKey] = true
	for _, k := range secrets.SensitiveConfigKeys {
		excluded[k] = true
	}
	for _, k := range volatile {
		excluded[k] = true
	}

	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		if !excluded[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%v\n", k, cfg[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

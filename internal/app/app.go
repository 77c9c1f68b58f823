// Package app wires the engine from configuration: database, secret store,
// adapter registry, indexer, scheduler, retrieval and the research agent.
// Both the serve and worker commands build the same App and use the slices
// they need.
package app

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/MODSetter/SurfSense-sub000/internal/config"
	"github.com/MODSetter/SurfSense-sub000/pkg/connectors"
	"github.com/MODSetter/SurfSense-sub000/pkg/connectors/builtin"
	"github.com/MODSetter/SurfSense-sub000/pkg/database"
	"github.com/MODSetter/SurfSense-sub000/pkg/docstore"
	"github.com/MODSetter/SurfSense-sub000/pkg/etl"
	"github.com/MODSetter/SurfSense-sub000/pkg/indexer"
	"github.com/MODSetter/SurfSense-sub000/pkg/llm"
	"github.com/MODSetter/SurfSense-sub000/pkg/models"
	"github.com/MODSetter/SurfSense-sub000/pkg/notify"
	"github.com/MODSetter/SurfSense-sub000/pkg/research"
	"github.com/MODSetter/SurfSense-sub000/pkg/retrieval"
	"github.com/MODSetter/SurfSense-sub000/pkg/scheduler"
	"github.com/MODSetter/SurfSense-sub000/pkg/secrets"
)

// App holds the wired components.
type App struct {
	Config    *config.Config
	DB        *gorm.DB
	Secrets   secrets.Store
	Store     *docstore.Store
	Registry  *connectors.Registry
	Deps      connectors.Deps
	Runner    *indexer.Runner
	Scheduler *scheduler.Scheduler
	Retriever *retrieval.Retriever
	Agent     *research.Agent
	Logger    hclog.Logger

	kafkaSink *notify.KafkaSink
}

// Build constructs every component from the configuration. The database is
// migrated on the way up so a fresh deployment needs no separate step.
func Build(cfg *config.Config, logger hclog.Logger) (*App, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	secretStore, err := secrets.NewStore(cfg.ServiceSecret)
	if err != nil {
		return nil, err
	}

	db, err := database.Connect(databaseConfig(cfg.Database), logger)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		return nil, err
	}

	var converter etl.Converter
	if cfg.ETL != nil {
		converter, err = etl.New(etl.Config{
			Service: cfg.ETL.Service,
			APIKey:  cfg.ETL.APIKey,
			BaseURL: cfg.ETL.BaseURL,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build etl converter: %w", err)
		}
	}

	embedder, err := buildEmbedder(cfg.Embeddings, logger)
	if err != nil {
		return nil, err
	}

	registry, err := builtin.Registry()
	if err != nil {
		return nil, fmt.Errorf("register adapters: %w", err)
	}

	deps := connectors.Deps{
		DB:         db,
		Secrets:    secretStore,
		Etl:        converter,
		Embedder:   embedder,
		Logger:     logger,
		SelfHosted: cfg.SelfHosted,
	}

	emitter, kafkaSink, err := buildEmitter(cfg.Kafka, db, logger)
	if err != nil {
		return nil, err
	}

	clients, err := llm.NewClientFactory(llm.ClientFactoryConfig{
		Store:         secretStore,
		BedrockRegion: cfg.BedrockRegion,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	store := docstore.New(db, logger)
	runner, err := indexer.New(indexer.Config{
		DB:       db,
		Store:    store,
		Registry: registry,
		Secrets:  secretStore,
		Deps:     deps,
		Embedder: embedder,
		Clients:  clients,
		Emitter:  emitter,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	schedCfg := scheduler.Config{DB: db, Runner: runner, Logger: logger}
	if cfg.Scheduler != nil {
		schedCfg.Workers = cfg.Scheduler.Workers
		schedCfg.QueueSize = cfg.Scheduler.QueueSize
	}
	sched, err := scheduler.New(schedCfg)
	if err != nil {
		return nil, err
	}

	retriever, err := retrieval.New(retrieval.Config{
		DB:       db,
		Registry: registry,
		Deps:     deps,
		Reranker: buildReranker(cfg.Reranker, embedder),
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	agent, err := research.New(research.Config{
		DB:        db,
		Retriever: retriever,
		Clients:   clients,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		Config:    cfg,
		DB:        db,
		Secrets:   secretStore,
		Store:     store,
		Registry:  registry,
		Deps:      deps,
		Runner:    runner,
		Scheduler: sched,
		Retriever: retriever,
		Agent:     agent,
		Logger:    logger,
		kafkaSink: kafkaSink,
	}, nil
}

// Close releases held connections. Safe after a partial shutdown.
func (a *App) Close() error {
	if a.kafkaSink != nil {
		a.kafkaSink.Close()
	}
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func databaseConfig(d *config.Database) database.Config {
	if d == nil {
		return database.Config{}
	}
	return database.Config{
		Driver:   d.Driver,
		Host:     d.Host,
		Port:     d.Port,
		User:     d.User,
		Password: d.Password,
		DBName:   d.DBName,
		SSLMode:  d.SSLMode,
		Path:     d.Path,
	}
}

// buildEmbedder returns the OpenAI-compatible client when an endpoint is
// configured, else the deterministic hash embedder so self-hosted spaces
// without a provider still index and search.
func buildEmbedder(e *config.Embeddings, logger hclog.Logger) (llm.Embedder, error) {
	if e == nil {
		return llm.NewHashEmbedder(0), nil
	}
	return llm.NewOpenAIEmbedder(llm.OpenAIEmbedderConfig{
		APIKey:     e.APIKey,
		BaseURL:    e.BaseURL,
		Model:      e.Model,
		Dimensions: e.Dimensions,
		Logger:     logger,
	})
}

func buildReranker(r *config.Reranker, embedder llm.Embedder) retrieval.Reranker {
	if r == nil {
		return nil
	}
	switch r.Kind {
	case "embedding":
		return retrieval.NewEmbeddingReranker(embedder)
	case "lexical":
		return retrieval.NewLexicalReranker()
	default:
		return nil
	}
}

// buildEmitter always writes task-log rows; Kafka publishing joins in when
// brokers are configured.
func buildEmitter(k *config.Kafka, db *gorm.DB, logger hclog.Logger) (notify.Emitter, *notify.KafkaSink, error) {
	taskLog := notify.NewTaskLogSink(db)
	if k == nil {
		return taskLog, nil, nil
	}
	sink, err := notify.NewKafkaSink(notify.KafkaConfig{
		Brokers: k.Brokers,
		Topic:   k.Topic,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect kafka: %w", err)
	}
	return notify.Multi{taskLog, sink}, sink, nil
}

// ValidateConnector exercises an adapter's credential check at attach time.
// Adapters without the capability pass.
func (a *App) ValidateConnector(ctx context.Context, connID uint) error {
	conn, err := models.GetConnector(a.DB, connID)
	if err != nil {
		return fmt.Errorf("load connector %d: %w", connID, err)
	}
	adapter, err := a.Registry.New(ctx, a.Deps, conn)
	if err != nil {
		return err
	}
	if v, ok := adapter.(connectors.Validator); ok {
		return v.Validate(ctx)
	}
	return nil
}

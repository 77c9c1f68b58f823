// Package config loads the service configuration from an HCL file. One
// config drives both the serve and worker commands; blocks are optional
// unless the feature they configure is required (the service secret always
// is, since connector credentials encrypt with it).
package config

import (
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/MODSetter/SurfSense-sub000/pkg/etl"
)

// Config is the root of the HCL file.
type Config struct {
	// ServiceSecret encrypts credential fields at rest. Required.
	ServiceSecret string `hcl:"service_secret"`

	// SelfHosted unlocks connectors that read the local machine (Obsidian
	// vaults, local upload directories).
	SelfHosted bool `hcl:"self_hosted,optional"`

	// BedrockRegion is the AWS region for Bedrock-hosted models.
	BedrockRegion string `hcl:"bedrock_region,optional"`

	Server     *Server     `hcl:"server,block"`
	Database   *Database   `hcl:"database,block"`
	ETL        *ETL        `hcl:"etl,block"`
	Embeddings *Embeddings `hcl:"embeddings,block"`
	Reranker   *Reranker   `hcl:"reranker,block"`
	Kafka      *Kafka      `hcl:"kafka,block"`
	Scheduler  *Scheduler  `hcl:"scheduler,block"`
}

// Server configures the HTTP boundary.
type Server struct {
	// Addr is the listen address, e.g. ":8000".
	Addr string `hcl:"addr,optional"`
}

// Database selects postgres (the default) or sqlite for self-hosted
// single-user deployments.
type Database struct {
	Driver   string `hcl:"driver,optional"`
	Host     string `hcl:"host,optional"`
	Port     int    `hcl:"port,optional"`
	User     string `hcl:"user,optional"`
	Password string `hcl:"password,optional"`
	DBName   string `hcl:"dbname,optional"`
	SSLMode  string `hcl:"sslmode,optional"`

	// Path is the sqlite database file when driver is "sqlite".
	Path string `hcl:"path,optional"`
}

// ETL selects the binary-extraction vendor.
type ETL struct {
	// Service is UNSTRUCTURED, LLAMACLOUD or DOCLING.
	Service string `hcl:"service"`
	APIKey  string `hcl:"api_key,optional"`
	BaseURL string `hcl:"base_url,optional"`
}

// Embeddings configures the OpenAI-compatible embeddings endpoint. Without
// this block the deterministic hash embedder serves self-hosted spaces.
type Embeddings struct {
	APIKey     string `hcl:"api_key,optional"`
	BaseURL    string `hcl:"base_url,optional"`
	Model      string `hcl:"model,optional"`
	Dimensions int    `hcl:"dimensions,optional"`
}

// Reranker selects how retrieved chunks are reordered before packing.
type Reranker struct {
	// Kind is "embedding", "lexical" or "" (keep connector scores).
	Kind string `hcl:"kind"`
}

// Kafka enables task-event publishing for external watchers.
type Kafka struct {
	Brokers []string `hcl:"brokers"`
	Topic   string   `hcl:"topic,optional"`
}

// Scheduler sizes the run worker pool.
type Scheduler struct {
	Workers   int `hcl:"workers,optional"`
	QueueSize int `hcl:"queue_size,optional"`
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the loaded values. Defaults are applied by the consumers,
// not here, so a round-tripped config stays byte-comparable.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.ServiceSecret, validation.Required),
	); err != nil {
		return err
	}

	if c.ETL != nil {
		switch strings.ToUpper(c.ETL.Service) {
		case etl.ServiceUnstructured, etl.ServiceLlamaCloud, etl.ServiceDocling:
		default:
			return fmt.Errorf("etl.service must be one of %s, %s, %s",
				etl.ServiceUnstructured, etl.ServiceLlamaCloud, etl.ServiceDocling)
		}
	}

	if c.Reranker != nil {
		switch c.Reranker.Kind {
		case "", "embedding", "lexical":
		default:
			return fmt.Errorf("reranker.kind must be \"embedding\", \"lexical\" or empty")
		}
	}

	if c.Database != nil {
		switch c.Database.Driver {
		case "", "postgres", "sqlite":
		default:
			return fmt.Errorf("database.driver must be \"postgres\" or \"sqlite\"")
		}
		if c.Database.Driver == "sqlite" && c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	}

	if c.Kafka != nil && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers must list at least one broker")
	}

	return nil
}

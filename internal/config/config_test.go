package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.hcl")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
service_secret = "swordfish"
self_hosted    = true
bedrock_region = "eu-west-1"

server {
  addr = ":9000"
}

database {
  driver = "sqlite"
  path   = "surfsense.db"
}

etl {
  service = "DOCLING"
  base_url = "http://localhost:5001"
}

embeddings {
  base_url = "http://localhost:11434/v1"
  model    = "nomic-embed-text"
}

reranker {
  kind = "embedding"
}

kafka {
  brokers = ["localhost:9092"]
  topic   = "surfsense.task-events"
}

scheduler {
  workers    = 5
  queue_size = 128
}
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "swordfish", cfg.ServiceSecret)
	assert.True(t, cfg.SelfHosted)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "DOCLING", cfg.ETL.Service)
	assert.Equal(t, "nomic-embed-text", cfg.Embeddings.Model)
	assert.Equal(t, "embedding", cfg.Reranker.Kind)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5, cfg.Scheduler.Workers)
}

func TestLoadMinimalConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `service_secret = "s"`))
	require.NoError(t, err)
	assert.Nil(t, cfg.Server)
	assert.Nil(t, cfg.Kafka)
	assert.False(t, cfg.SelfHosted)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "missing service secret",
			body: `self_hosted = true`,
		},
		{
			name: "unknown etl vendor",
			body: "service_secret = \"s\"\netl {\n  service = \"MAGIC\"\n}",
		},
		{
			name: "unknown reranker kind",
			body: "service_secret = \"s\"\nreranker {\n  kind = \"psychic\"\n}",
		},
		{
			name: "sqlite without path",
			body: "service_secret = \"s\"\ndatabase {\n  driver = \"sqlite\"\n}",
		},
		{
			name: "kafka without brokers",
			body: "service_secret = \"s\"\nkafka {\n  brokers = []\n}",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

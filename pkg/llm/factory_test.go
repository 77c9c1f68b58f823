package llm

import (
	"context"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MODSetter/SurfSense-sub000/pkg/models"
	"github.com/MODSetter/SurfSense-sub000/pkg/secrets"
)

func newTestFactory(t *testing.T) (*ClientFactory, secrets.Store) {
	t.Helper()

	store, err := secrets.NewStore("test-service-secret")
	require.NoError(t, err)

	factory, err := NewClientFactory(ClientFactoryConfig{
		Store:  store,
		Logger: hclog.NewNullLogger(),
	})
	require.NoError(t, err)
	return factory, store
}

func TestClientFactory_OpenAI(t *testing.T) {
	factory, store := newTestFactory(t)

	sealed, err := store.EncryptField("sk-test-key")
	require.NoError(t, err)

	base := "https://litellm.internal/v1"
	client, err := factory.ClientFor(context.Background(), &models.LLMConfig{
		Provider:  models.ProviderOpenAI,
		ModelName: "gpt-4o-mini",
		APIKey:    sealed,
		APIBase:   &base,
	})

	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", client.Model())

	openai, ok := client.(*OpenAIClient)
	require.True(t, ok)
	assert.Equal(t, "sk-test-key", openai.apiKey)
	assert.Equal(t, base, openai.baseURL)
}

func TestClientFactory_PlaintextKeyStillWorks(t *testing.T) {
	factory, _ := newTestFactory(t)

	client, err := factory.ClientFor(context.Background(), &models.LLMConfig{
		Provider:  models.ProviderOpenAI,
		ModelName: "gpt-4o-mini",
		APIKey:    "sk-plain",
	})

	require.NoError(t, err)
	openai, ok := client.(*OpenAIClient)
	require.True(t, ok)
	assert.Equal(t, "sk-plain", openai.apiKey)
}

func TestClientFactory_Ollama(t *testing.T) {
	factory, _ := newTestFactory(t)

	base := "http://ollama.local:11434"
	client, err := factory.ClientFor(context.Background(), &models.LLMConfig{
		Provider:  models.ProviderOllama,
		ModelName: "llama3",
		APIBase:   &base,
	})

	require.NoError(t, err)
	ollama, ok := client.(*OllamaClient)
	require.True(t, ok)
	assert.Equal(t, base, ollama.baseURL)
	assert.Equal(t, "llama3", ollama.Model())
}

func TestClientFactory_Anthropic(t *testing.T) {
	factory, store := newTestFactory(t)

	sealed, err := store.EncryptField("sk-ant-test")
	require.NoError(t, err)

	client, err := factory.ClientFor(context.Background(), &models.LLMConfig{
		Provider:  models.ProviderAnthropic,
		ModelName: "claude-sonnet-4-20250514",
		APIKey:    sealed,
	})

	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-20250514", client.Model())
}

func TestClientFactory_UnsupportedProvider(t *testing.T) {
	factory, _ := newTestFactory(t)

	_, err := factory.ClientFor(context.Background(), &models.LLMConfig{
		Provider:  "petals",
		ModelName: "whatever",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported LLM provider")
}

func TestClientFactory_NilConfig(t *testing.T) {
	factory, _ := newTestFactory(t)

	_, err := factory.ClientFor(context.Background(), nil)
	require.Error(t, err)
}

func TestNewClientFactory_RequiresStore(t *testing.T) {
	_, err := NewClientFactory(ClientFactoryConfig{})
	require.Error(t, err)
}

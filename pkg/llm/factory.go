package llm

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/MODSetter/SurfSense-sub000/pkg/models"
	"github.com/MODSetter/SurfSense-sub000/pkg/secrets"
)

// ClientFactory builds provider clients from stored model configurations.
type ClientFactory struct {
	store         secrets.Store
	bedrockRegion string
	logger        hclog.Logger
}

// ClientFactoryConfig holds configuration for the client factory.
type ClientFactoryConfig struct {
	Store         secrets.Store // Decrypts stored API keys (required)
	BedrockRegion string        // AWS Bedrock region (default: us-east-1)
	Logger        hclog.Logger  // Logger (optional)
}

// NewClientFactory creates a new LLM client factory.
func NewClientFactory(config ClientFactoryConfig) (*ClientFactory, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("secrets store is required")
	}
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}

	return &ClientFactory{
		store:         config.Store,
		bedrockRegion: config.BedrockRegion,
		logger:        config.Logger.Named("llm-factory"),
	}, nil
}

// ClientFor returns a client for the given stored configuration. The API key
// is decrypted on the way out; plaintext keys written before encryption was
// enabled still work.
func (f *ClientFactory) ClientFor(ctx context.Context, cfg *models.LLMConfig) (Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("llm config is required")
	}

	apiKey := cfg.APIKey
	if secrets.IsEncrypted(apiKey) {
		plain, err := f.store.DecryptField(apiKey)
		if err != nil {
			return nil, fmt.Errorf("decrypt api key for model %s: %w", cfg.ModelName, err)
		}
		apiKey = plain
	}

	baseURL := ""
	if cfg.APIBase != nil {
		baseURL = *cfg.APIBase
	}

	f.logger.Debug("building LLM client",
		"provider", cfg.Provider,
		"model", cfg.ModelName,
	)

	switch cfg.Provider {
	case models.ProviderOpenAI:
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  apiKey,
			BaseURL: baseURL,
			Model:   cfg.ModelName,
			Logger:  f.logger,
		})
	case models.ProviderAnthropic:
		return NewAnthropicClient(AnthropicConfig{
			APIKey:  apiKey,
			BaseURL: baseURL,
			Model:   cfg.ModelName,
			Logger:  f.logger,
		})
	case models.ProviderOllama:
		return NewOllamaClient(OllamaConfig{
			BaseURL: baseURL,
			Model:   cfg.ModelName,
			Logger:  f.logger,
		})
	case models.ProviderBedrock:
		region := f.bedrockRegion
		if params, err := cfg.Params.AsMap(); err == nil {
			if r, ok := params["aws_region"].(string); ok && r != "" {
				region = r
			}
		}
		return NewBedrockClient(ctx, BedrockConfig{
			Region: region,
			Model:  cfg.ModelName,
			Logger: f.logger,
		})
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

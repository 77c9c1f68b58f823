package llm

import (
	"context"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/hashicorp/go-hclog"
)

// AnthropicMessagesAPI captures the subset of the Anthropic SDK used here.
// It is satisfied by *sdk.MessageService so tests can substitute a mock.
type AnthropicMessagesAPI interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// AnthropicClient implements the Client interface on top of the Anthropic
// Messages API.
type AnthropicClient struct {
	messages AnthropicMessagesAPI
	model    string
	logger   hclog.Logger
}

// AnthropicConfig holds configuration for the Anthropic client.
type AnthropicConfig struct {
	APIKey  string       // API key
	BaseURL string       // Base URL override (optional)
	Model   string       // Model name
	Logger  hclog.Logger // Logger (optional)
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(config AnthropicConfig) (*AnthropicClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	ac := sdk.NewClient(opts...)

	return &AnthropicClient{
		messages: &ac.Messages,
		model:    config.Model,
		logger:   config.Logger.Named("anthropic-client"),
	}, nil
}

// NewAnthropicClientWithAPI creates an Anthropic client with a caller-supplied
// Messages implementation. Used by tests.
func NewAnthropicClientWithAPI(api AnthropicMessagesAPI, model string, logger hclog.Logger) *AnthropicClient {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &AnthropicClient{
		messages: api,
		model:    model,
		logger:   logger.Named("anthropic-client"),
	}
}

// Model returns the configured model name.
func (c *AnthropicClient) Model() string {
	return c.model
}

// Complete issues a non-streaming Messages request and concatenates the text
// blocks of the response.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	params := c.messageParams(req)

	c.logger.Debug("sending request to Anthropic",
		"model", c.model,
		"messages", len(params.Messages),
	)

	msg, err := c.messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to call Anthropic API: %w", err)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("empty response from Anthropic")
	}
	return out.String(), nil
}

// CompleteStream issues a streaming Messages request, invoking fn per text
// delta.
func (c *AnthropicClient) CompleteStream(ctx context.Context, req Request, fn StreamFunc) (string, error) {
	params := c.messageParams(req)

	stream := c.messages.NewStreaming(ctx, params)

	var full strings.Builder
	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case sdk.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text == "" {
					continue
				}
				full.WriteString(delta.Text)
				if fn != nil {
					if err := fn(delta.Text); err != nil {
						return full.String(), err
					}
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return full.String(), fmt.Errorf("anthropic stream failed: %w", err)
	}

	return full.String(), nil
}

func (c *AnthropicClient) messageParams(req Request) sdk.MessageNewParams {
	system, rest := SystemAndRest(req.Messages)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  make([]sdk.MessageParam, 0, len(rest)),
		Model:     sdk.Model(c.model),
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	for _, m := range rest {
		if m.Role == RoleAssistant {
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		} else {
			params.Messages = append(params.Messages, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	return params
}

package llm

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/hashicorp/go-hclog"
)

// BedrockConverseAPI defines the interface for Bedrock Converse operations.
// This allows for testing with mocks.
type BedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockClient implements the Client interface for AWS Bedrock's Converse API.
type BedrockClient struct {
	client BedrockConverseAPI
	model  string
	logger hclog.Logger
}

// BedrockConfig holds configuration for the Bedrock client.
type BedrockConfig struct {
	Region string       // AWS region (default: us-east-1)
	Model  string       // Bedrock model ID
	Logger hclog.Logger // Logger (optional)
}

// NewBedrockClient creates a new AWS Bedrock client using the Converse API.
// Credentials come from the default AWS credential chain.
func NewBedrockClient(ctx context.Context, cfg BedrockConfig) (*BedrockClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}

	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &BedrockClient{
		client: bedrockruntime.NewFromConfig(awsCfg),
		model:  cfg.Model,
		logger: cfg.Logger.Named("bedrock-client"),
	}, nil
}

// NewBedrockClientWithAPI creates a Bedrock client with a caller-supplied
// Converse implementation. Used by tests.
func NewBedrockClientWithAPI(api BedrockConverseAPI, model string, logger hclog.Logger) *BedrockClient {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &BedrockClient{
		client: api,
		model:  model,
		logger: logger.Named("bedrock-client"),
	}
}

// Model returns the configured model name.
func (c *BedrockClient) Model() string {
	return c.model
}

// Complete runs a Converse call and returns the first text block.
func (c *BedrockClient) Complete(ctx context.Context, req Request) (string, error) {
	system, rest := SystemAndRest(req.Messages)

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(c.model),
		Messages: make([]types.Message, 0, len(rest)),
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(int32(req.MaxTokens)),
			Temperature: aws.Float32(float32(req.Temperature)),
		},
	}
	if system != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: system},
		}
	}
	for _, m := range rest {
		role := types.ConversationRoleUser
		if m.Role == RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		input.Messages = append(input.Messages, types.Message{
			Role: role,
			Content: []types.ContentBlock{
				&types.ContentBlockMemberText{Value: m.Content},
			},
		})
	}

	c.logger.Debug("sending request to Bedrock",
		"model", c.model,
		"messages", len(input.Messages),
	)

	resp, err := c.client.Converse(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to call Bedrock Converse API: %w", err)
	}

	if resp.Output == nil {
		return "", fmt.Errorf("no output in Bedrock response")
	}

	message, ok := resp.Output.(*types.ConverseOutputMemberMessage)
	if !ok || message == nil || len(message.Value.Content) == 0 {
		return "", fmt.Errorf("no message content in Bedrock response")
	}

	var responseText string
	for _, block := range message.Value.Content {
		if textBlock, ok := block.(*types.ContentBlockMemberText); ok {
			responseText = textBlock.Value
			break
		}
	}
	if responseText == "" {
		return "", fmt.Errorf("empty response from Bedrock")
	}

	if resp.Usage != nil && resp.Usage.TotalTokens != nil {
		c.logger.Debug("bedrock completion finished",
			"model", c.model,
			"tokens_used", *resp.Usage.TotalTokens,
		)
	}
	return responseText, nil
}

// CompleteStream satisfies the Client interface. The Converse API is called
// non-streaming and the full response is delivered as a single delta.
func (c *BedrockClient) CompleteStream(ctx context.Context, req Request, fn StreamFunc) (string, error) {
	text, err := c.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if fn != nil {
		if err := fn(text); err != nil {
			return text, err
		}
	}
	return text, nil
}

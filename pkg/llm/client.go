// Package llm provides chat-completion and embedding clients for the model
// providers a search space can configure: any OpenAI-compatible endpoint,
// Anthropic, AWS Bedrock and Ollama.
package llm

import (
	"context"
	"strings"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-independent chat completion request.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64

	// ForceJSON asks the provider for a JSON-only response where supported;
	// providers without a JSON mode rely on the prompt alone.
	ForceJSON bool
}

// StreamFunc receives each text delta as it arrives. Returning an error
// aborts the stream.
type StreamFunc func(delta string) error

// Client is a chat completion client.
type Client interface {
	// Complete returns the full assistant response.
	Complete(ctx context.Context, req Request) (string, error)
	// CompleteStream invokes fn per text delta and returns the assembled
	// response.
	CompleteStream(ctx context.Context, req Request, fn StreamFunc) (string, error)
	// Model returns the configured model name.
	Model() string
}

// SystemAndRest splits leading system messages from the conversation, for
// providers that carry the system prompt out of band.
func SystemAndRest(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if m.Content != "" {
				system = append(system, m.Content)
			}
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

// ExtractJSON trims a model response down to its JSON body, stripping the
// markdown fences models add despite instructions.
func ExtractJSON(response string) string {
	s := strings.TrimSpace(response)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	// Fall back to the outermost braces when prose surrounds the JSON.
	if !strings.HasPrefix(s, "{") && !strings.HasPrefix(s, "[") {
		start := strings.IndexAny(s, "{[")
		if start < 0 {
			return s
		}
		var end int
		if s[start] == '{' {
			end = strings.LastIndexByte(s, '}')
		} else {
			end = strings.LastIndexByte(s, ']')
		}
		if end > start {
			s = s[start : end+1]
		}
	}
	return s
}

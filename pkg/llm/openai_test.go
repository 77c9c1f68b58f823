package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIClient_Complete(t *testing.T) {
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))

		var reqBody openAIChatRequest
		err := json.NewDecoder(r.Body).Decode(&reqBody)
		require.NoError(t, err)

		assert.Equal(t, "gpt-4o-mini", reqBody.Model)
		assert.Equal(t, 500, reqBody.MaxTokens)
		assert.False(t, reqBody.Stream)
		require.Len(t, reqBody.Messages, 2)
		assert.Equal(t, "system", reqBody.Messages[0].Role)
		assert.Equal(t, "user", reqBody.Messages[1].Role)

		resp := openAIChatResponse{
			ID:      "chatcmpl-123",
			Object:  "chat.completion",
			Created: time.Now().Unix(),
			Model:   "gpt-4o-mini",
			Choices: []openAIChatChoice{
				{
					Index: 0,
					Message: openAIChatMessage{
						Role:    "assistant",
						Content: "Raft is a consensus protocol.",
					},
					FinishReason: "stop",
				},
			},
			Usage: openAIUsage{
				PromptTokens:     100,
				CompletionTokens: 20,
				TotalTokens:      120,
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer mockServer.Close()

	client, err := NewOpenAIClient(OpenAIConfig{
		APIKey:  "test-api-key",
		BaseURL: mockServer.URL,
		Model:   "gpt-4o-mini",
		Timeout: 10 * time.Second,
		Logger:  hclog.NewNullLogger(),
	})
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "Answer briefly."},
			{Role: RoleUser, Content: "What is Raft?"},
		},
		MaxTokens: 500,
	})

	require.NoError(t, err)
	assert.Equal(t, "Raft is a consensus protocol.", out)
}

func TestOpenAIClient_Complete_ForceJSON(t *testing.T) {
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqBody openAIChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reqBody))

		require.NotNil(t, reqBody.ResponseFormat)
		assert.Equal(t, "json_object", reqBody.ResponseFormat.Type)

		resp := openAIChatResponse{
			Choices: []openAIChatChoice{
				{Message: openAIChatMessage{Role: "assistant", Content: `{"ok":true}`}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer mockServer.Close()

	client, err := NewOpenAIClient(OpenAIConfig{
		BaseURL: mockServer.URL,
		Model:   "gpt-4o-mini",
		Logger:  hclog.NewNullLogger(),
	})
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), Request{
		Messages:  []Message{{Role: RoleUser, Content: "emit json"}},
		ForceJSON: true,
	})

	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, out)
}

func TestOpenAIClient_Complete_APIError(t *testing.T) {
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"message": "Rate limit exceeded", "type": "rate_limit_error"}}`)
	}))
	defer mockServer.Close()

	client, err := NewOpenAIClient(OpenAIConfig{
		APIKey:  "test-api-key",
		BaseURL: mockServer.URL,
		Model:   "gpt-4o-mini",
		Logger:  hclog.NewNullLogger(),
	})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Rate limit exceeded")
	assert.Contains(t, err.Error(), "429")
}

func TestOpenAIClient_Complete_NoChoices(t *testing.T) {
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices": []}`)
	}))
	defer mockServer.Close()

	client, err := NewOpenAIClient(OpenAIConfig{
		BaseURL: mockServer.URL,
		Model:   "gpt-4o-mini",
		Logger:  hclog.NewNullLogger(),
	})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestOpenAIClient_CompleteStream(t *testing.T) {
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqBody openAIChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reqBody))
		assert.True(t, reqBody.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Raft \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"is a \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"protocol.\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer mockServer.Close()

	client, err := NewOpenAIClient(OpenAIConfig{
		BaseURL: mockServer.URL,
		Model:   "gpt-4o-mini",
		Logger:  hclog.NewNullLogger(),
	})
	require.NoError(t, err)

	var deltas []string
	full, err := client.CompleteStream(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "What is Raft?"}},
	}, func(delta string) error {
		deltas = append(deltas, delta)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, "Raft is a protocol.", full)
	assert.Equal(t, []string{"Raft ", "is a ", "protocol."}, deltas)
}

func TestOpenAIClient_CompleteStream_CallbackAbort(t *testing.T) {
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"first\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"second\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer mockServer.Close()

	client, err := NewOpenAIClient(OpenAIConfig{
		BaseURL: mockServer.URL,
		Model:   "gpt-4o-mini",
		Logger:  hclog.NewNullLogger(),
	})
	require.NoError(t, err)

	abort := fmt.Errorf("stop here")
	partial, err := client.CompleteStream(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	}, func(delta string) error {
		return abort
	})

	require.ErrorIs(t, err, abort)
	assert.Equal(t, "first", partial)
}

func TestNewOpenAIClient_RequiresModel(t *testing.T) {
	_, err := NewOpenAIClient(OpenAIConfig{})
	require.Error(t, err)
}

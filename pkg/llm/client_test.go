package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSystemAndRest(t *testing.T) {
	t.Run("splits leading system messages", func(t *testing.T) {
		system, rest := SystemAndRest([]Message{
			{Role: RoleSystem, Content: "You are a researcher."},
			{Role: RoleSystem, Content: "Answer in English."},
			{Role: RoleUser, Content: "What is Raft?"},
			{Role: RoleAssistant, Content: "A consensus protocol."},
		})

		assert.Equal(t, "You are a researcher.\n\nAnswer in English.", system)
		assert.Len(t, rest, 2)
		assert.Equal(t, RoleUser, rest[0].Role)
		assert.Equal(t, RoleAssistant, rest[1].Role)
	})

	t.Run("no system messages", func(t *testing.T) {
		system, rest := SystemAndRest([]Message{
			{Role: RoleUser, Content: "hello"},
		})

		assert.Empty(t, system)
		assert.Len(t, rest, 1)
	})

	t.Run("empty input", func(t *testing.T) {
		system, rest := SystemAndRest(nil)
		assert.Empty(t, system)
		assert.Empty(t, rest)
	})
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "bare object",
			input:    `{"answer": 42}`,
			expected: `{"answer": 42}`,
		},
		{
			name:     "json fence",
			input:    "```json\n{\"answer\": 42}\n```",
			expected: `{"answer": 42}`,
		},
		{
			name:     "plain fence",
			input:    "```\n{\"answer\": 42}\n```",
			expected: `{"answer": 42}`,
		},
		{
			name:     "prose around object",
			input:    "Here is the outline you asked for:\n{\"sections\": []}\nLet me know.",
			expected: `{"sections": []}`,
		},
		{
			name:     "prose around array",
			input:    "Sure: [1, 2, 3] as requested",
			expected: `[1, 2, 3]`,
		},
		{
			name:     "surrounding whitespace",
			input:    "  \n{\"a\":1}\n  ",
			expected: `{"a":1}`,
		},
		{
			name:     "no json at all",
			input:    "I cannot produce that.",
			expected: "I cannot produce that.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractJSON(tt.input))
		})
	}
}

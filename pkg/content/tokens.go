package content

import "strings"

// EstimateTokens approximates the LLM token count of text without a
// model-specific tokenizer: roughly four characters per token, floored at
// the word count since a word never encodes to zero tokens.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	chars := (len(text) + 3) / 4
	words := len(strings.Fields(text))
	if words > chars {
		return words
	}
	return chars
}

package research

import (
	"fmt"
	"strings"

	"github.com/MODSetter/SurfSense-sub000/pkg/connectors"
	"github.com/MODSetter/SurfSense-sub000/pkg/llm"
)

const basePrompt = "You are a research assistant answering from the user's " +
	"own knowledge base. Use only the supplied documents as factual ground; " +
	"when they do not cover the question, say so instead of guessing. Write " +
	"clear markdown."

const noDocumentsPrompt = "You are a research assistant. No documents " +
	"matched this question in the user's knowledge base. Say that nothing " +
	"relevant was found, then answer from general knowledge if you can, " +
	"clearly marked as such."

const citationPrompt = "Cite every factual sentence with [citation:<source_id>] " +
	"using the source_id exactly as given in the document metadata. Multiple " +
	"sources chain as [citation:1], [citation:2]. Never use markdown links, " +
	"parentheses, footnotes or invented ids for citations."

const noCitationPrompt = "Do not add citation markers of any kind to the answer."

const reformulatePrompt = "Rewrite the user's latest question as one " +
	"standalone search query, resolving every pronoun and reference from the " +
	"conversation. Output only the rewritten query."

const outlinePromptFmt = "Plan an answer to the research question below as " +
	"exactly %d section(s). Respond with only a JSON object of the form " +
	`{"answer_outline": [{"section_id": 1, "section_title": "...", ` +
	`"questions": ["...", "..."]}]}` + ". Each section carries 2 to 5 " +
	"retrieval questions that together cover the section.\n\nResearch " +
	"question: %s"

const sectionPromptFmt = "Write the section %q of a research report " +
	"answering: %s. Start with a markdown heading (## %s), then the section " +
	"body. Do not write other sections or a conclusion."

const furtherQuestionsPrompt = "Suggest up to 5 natural follow-up questions " +
	"the user might ask next, grounded in the conversation and the documents " +
	"listed below. Respond with only a JSON object of the form " +
	`{"further_questions": [{"id": 1, "question": "..."}]}` +
	". Respond with an empty list when nothing follows naturally."

// formatDocuments renders chunk records as the document block answer prompts
// consume. The source_id inside each document is what citation tokens must
// repeat verbatim.
func formatDocuments(records []connectors.ChunkRecord) []string {
	out := make([]string, 0, len(records))
	for _, rec := range records {
		out = append(out, fmt.Sprintf(
			"<document>\n<source_id>%d</source_id>\n<content>\n%s\n</content>\n</document>",
			rec.SourceID, rec.Content))
	}
	return out
}

// formatHistory renders prior turns for prompts that need the conversation
// inline rather than as chat messages.
func formatHistory(history []llm.Message) string {
	if len(history) == 0 {
		return "(no prior conversation)"
	}
	var b strings.Builder
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

// systemPrompt composes the three prompt layers: base instructions, the
// citation layer and the space's custom instructions.
func systemPrompt(hasDocuments, citations bool, instructions, language string) string {
	layers := make([]string, 0, 4)
	if hasDocuments {
		layers = append(layers, basePrompt)
	} else {
		layers = append(layers, noDocumentsPrompt)
	}
	if hasDocuments && citations {
		layers = append(layers, citationPrompt)
	} else {
		layers = append(layers, noCitationPrompt)
	}
	if language != "" {
		layers = append(layers, fmt.Sprintf("Answer in %s.", language))
	}
	if strings.TrimSpace(instructions) != "" {
		layers = append(layers, strings.TrimSpace(instructions))
	}
	return strings.Join(layers, "\n\n")
}

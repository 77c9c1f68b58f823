package content

import (
	"fmt"
	"strings"
)

// templateSummaryMaxChars bounds the text excerpt in deterministic summaries.
const templateSummaryMaxChars = 2000

// MetadataField is one ordered entry of a document's metadata header.
// Ordering matters: the header is part of the stored summary, which must be
// deterministic for a given item.
type MetadataField struct {
	Key   string
	Value string
}

// MetadataHeader renders the fields prepended to stored summaries.
func MetadataHeader(fields []MetadataField) string {
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<document_metadata>\n")
	for _, f := range fields {
		if f.Value == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", f.Key, f.Value)
	}
	b.WriteString("</document_metadata>")
	return b.String()
}

// WithMetadataHeader joins a metadata header and a summary body.
func WithMetadataHeader(header, body string) string {
	header = strings.TrimSpace(header)
	body = strings.TrimSpace(body)
	if header == "" {
		return body
	}
	if body == "" {
		return header
	}
	return header + "\n\n" + body
}

// TemplateSummary is the deterministic fallback used when no long-context
// LLM is configured: the leading excerpt of the normalized text.
func TemplateSummary(text string) string {
	text = Normalize(text)
	if len(text) <= templateSummaryMaxChars {
		return text
	}
	// Cut at a word boundary near the limit.
	cut := templateSummaryMaxChars
	if idx := strings.LastIndexByte(text[:cut], ' '); idx > templateSummaryMaxChars/2 {
		cut = idx
	}
	return text[:cut] + " ..."
}

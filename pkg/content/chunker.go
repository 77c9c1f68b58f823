package content

import (
	"strings"
)

// DefaultChunkSize is sized for embedding models with modest input limits.
const DefaultChunkSize = 1000

// Chunker splits document text into ordered retrieval units.
type Chunker struct {
	// ChunkSize is the approximate chunk length in characters.
	ChunkSize int
}

// NewChunker returns a chunker with the default size.
func NewChunker() *Chunker {
	return &Chunker{ChunkSize: DefaultChunkSize}
}

func (c *Chunker) size() int {
	if c.ChunkSize > 0 {
		return c.ChunkSize
	}
	return DefaultChunkSize
}

// Split breaks text into chunks, routing source-code-like content through the
// structural splitter and prose through the paragraph splitter.
func (c *Chunker) Split(text string) []string {
	text = Normalize(text)
	if text == "" {
		return nil
	}
	if LooksLikeCode(text) {
		return c.splitCode(text)
	}
	return c.splitParagraphs(text)
}

// splitParagraphs accumulates paragraphs up to the chunk size, force-splitting
// any single paragraph that exceeds it.
func (c *Chunker) splitParagraphs(text string) []string {
	chunkSize := c.size()
	var chunks []string

	paragraphs := strings.Split(text, "\n\n")

	currentChunk := ""
	for _, para := range paragraphs {
		// If paragraph itself is too long, force split it
		if len(para) > chunkSize {
			if len(currentChunk) > 0 {
				chunks = append(chunks, strings.TrimSpace(currentChunk))
				currentChunk = ""
			}
			for i := 0; i < len(para); i += chunkSize {
				end := i + chunkSize
				if end > len(para) {
					end = len(para)
				}
				chunks = append(chunks, para[i:end])
			}
			continue
		}

		// If adding this paragraph would exceed chunk size
		if len(currentChunk)+len(para)+2 > chunkSize && len(currentChunk) > 0 {
			chunks = append(chunks, strings.TrimSpace(currentChunk))
			currentChunk = para
		} else {
			if len(currentChunk) > 0 {
				currentChunk += "\n\n" + para
			} else {
				currentChunk = para
			}
		}
	}

	if len(currentChunk) > 0 {
		chunks = append(chunks, strings.TrimSpace(currentChunk))
	}

	return chunks
}

// splitCode cuts at definition boundaries so a chunk holds whole functions or
// classes where possible, then packs blocks up to the chunk size.
func (c *Chunker) splitCode(text string) []string {
	chunkSize := c.size()
	lines := strings.Split(text, "\n")

	var blocks []string
	var current []string
	for i, line := range lines {
		if i > 0 && isDefinitionStart(line) && len(current) > 0 {
			blocks = append(blocks, strings.Join(current, "\n"))
			current = current[:0]
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		blocks = append(blocks, strings.Join(current, "\n"))
	}

	var chunks []string
	currentChunk := ""
	for _, block := range blocks {
		if len(block) > chunkSize {
			if len(currentChunk) > 0 {
				chunks = append(chunks, currentChunk)
				currentChunk = ""
			}
			for i := 0; i < len(block); i += chunkSize {
				end := i + chunkSize
				if end > len(block) {
					end = len(block)
				}
				chunks = append(chunks, block[i:end])
			}
			continue
		}
		if len(currentChunk)+len(block)+1 > chunkSize && len(currentChunk) > 0 {
			chunks = append(chunks, currentChunk)
			currentChunk = block
		} else if len(currentChunk) > 0 {
			currentChunk += "\n" + block
		} else {
			currentChunk = block
		}
	}
	if len(currentChunk) > 0 {
		chunks = append(chunks, currentChunk)
	}

	return chunks
}

var definitionPrefixes = []string{
	"func ", "def ", "class ", "function ", "type ", "impl ", "fn ",
	"public ", "private ", "protected ", "static ", "export ",
}

func isDefinitionStart(line string) bool {
	if line == "" || line[0] == ' ' || line[0] == '\t' {
		return false
	}
	for _, p := range definitionPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// LooksLikeCode guesses whether text is source code rather than prose, so the
// splitter can keep definitions together instead of cutting mid-function.
func LooksLikeCode(text string) bool {
	lines := strings.Split(text, "\n")
	if len(lines) < 3 {
		return false
	}

	var codeLines, total int
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		total++
		switch {
		case strings.HasPrefix(line, "\t"), strings.HasPrefix(line, "    "):
			codeLines++
		case strings.HasSuffix(trimmed, "{"), strings.HasSuffix(trimmed, "}"),
			strings.HasSuffix(trimmed, ";"):
			codeLines++
		case isDefinitionStart(line):
			codeLines++
		case strings.HasPrefix(trimmed, "import "), strings.HasPrefix(trimmed, "#include"),
			strings.HasPrefix(trimmed, "package "), strings.HasPrefix(trimmed, "from "):
			codeLines++
		}
	}
	if total == 0 {
		return false
	}
	return float64(codeLines)/float64(total) > 0.4
}

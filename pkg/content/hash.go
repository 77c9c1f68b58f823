// Package content implements the canonical text handling shared by every
// connector: normalization, the two dedup hashes, chunking, deterministic
// summaries, token estimation and the token-budget packer.
package content

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Normalize canonicalizes text before hashing or chunking: line endings
// become LF and surrounding whitespace is dropped. Hashes computed over
// normalized text survive transport differences (CRLF uploads, trailing
// newlines) without content actually changing.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimSpace(text)
}

// ContentHash digests (search_space_id, canonical_text). Canonical text must
// not embed ephemeral metadata (request ids, indexed_at, crawl timestamps);
// callers hash the stable rendering even when they store an enriched one.
func ContentHash(searchSpaceID uint, text string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s", searchSpaceID, Normalize(text))))
	return hex.EncodeToString(sum[:])
}

// UniqueIdentifierHash digests (connector_type, source_identifier,
// search_space_id). It is the update-in-place key: stable across re-syncs of
// the same source item.
func UniqueIdentifierHash(connectorType, sourceID string, searchSpaceID uint) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", connectorType, sourceID, searchSpaceID)))
	return hex.EncodeToString(sum[:])
}

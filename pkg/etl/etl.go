// Package etl converts binary files to text through an extraction vendor.
// Text files never need a vendor; IsTextMIME and DecodeText handle those
// directly so adapters only pay for extraction when they must.
package etl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/text/encoding/charmap"
)

// ETL service selector values.
const (
	ServiceUnstructured = "UNSTRUCTURED"
	ServiceLlamaCloud   = "LLAMACLOUD"
	ServiceDocling      = "DOCLING"
)

// ErrEmptyExtraction is returned when the vendor produced no text.
var ErrEmptyExtraction = errors.New("extraction returned no text")

// File is one input to a conversion.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// Converter turns a binary file into markdown or plain text.
type Converter interface {
	Convert(ctx context.Context, file File) (string, error)
	Name() string
}

// Config selects and configures an extraction vendor.
type Config struct {
	Service string        // UNSTRUCTURED, LLAMACLOUD or DOCLING
	APIKey  string        // Vendor API key
	BaseURL string        // Endpoint override (optional)
	Timeout time.Duration // HTTP timeout (default per vendor)
	Logger  hclog.Logger  // Logger (optional)
}

// New builds the configured converter.
func New(config Config) (Converter, error) {
	switch strings.ToUpper(config.Service) {
	case ServiceUnstructured:
		return NewUnstructuredClient(config)
	case ServiceLlamaCloud:
		return NewLlamaCloudClient(config)
	case ServiceDocling:
		return NewDoclingClient(config)
	default:
		return nil, fmt.Errorf("unknown ETL service: %s", config.Service)
	}
}

// textMIMEPrefixes and textMIMETypes route content past the vendor.
var textMIMETypes = map[string]bool{
	"application/json":         true,
	"application/xml":          true,
	"application/x-yaml":       true,
	"application/yaml":         true,
	"application/javascript":   true,
	"application/x-sh":         true,
	"application/sql":          true,
	"application/x-httpd-php":  true,
	"application/toml":         true,
	"application/x-ndjson":     true,
	"application/rss+xml":      true,
	"application/atom+xml":     true,
	"application/xhtml+xml":    true,
	"message/rfc822":           true,
	"application/x-subrip":     true,
	"application/mbox":         true,
	"application/x-tex":        true,
	"application/x-javascript": true,
}

// IsTextMIME reports whether content of this type decodes directly, without
// an extraction vendor.
func IsTextMIME(mimeType string) bool {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if strings.HasPrefix(mt, "text/") {
		return true
	}
	if textMIMETypes[mt] {
		return true
	}
	return strings.HasSuffix(mt, "+json") || strings.HasSuffix(mt, "+xml")
}

// DecodeText decodes raw bytes as UTF-8, falling back to Latin-1 for legacy
// exports. The fallback cannot fail; every byte sequence is valid Latin-1.
func DecodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(decoded)
}

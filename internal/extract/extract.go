// Package extract turns uploaded content into plain text for indexing.
package extract

import (
	"fmt"
	"mime"
	"strings"

	"github.com/rfpdesk/docvault/internal/domain"
)

// Content types with dedicated extractors.
const (
	MimeText     = "text/plain"
	MimeMarkdown = "text/markdown"
	MimeCSV      = "text/csv"
	MimeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// DefaultAllowed is the upload allow-list used when none is configured.
var DefaultAllowed = []string{
	"application/pdf",
	"application/msword",
	MimeDOCX,
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	MimeText,
	MimeMarkdown,
	MimeCSV,
	"image/jpeg",
	"image/png",
	"image/gif",
}

// Extractor pulls indexable text out of one content type.
type Extractor interface {
	Extract(data []byte) (string, error)
}

// Registry maps allowed content types to extractors. Allowed types without
// an extractor yield no text and are indexed on metadata only.
type Registry struct {
	allowed    map[string]bool
	extractors map[string]Extractor
}

// NewRegistry creates a registry with the default extractors. An empty
// allow-list means DefaultAllowed.
func NewRegistry(allowed []string) *Registry {
	if len(allowed) == 0 {
		allowed = DefaultAllowed
	}
	r := &Registry{allowed: map[string]bool{}, extractors: map[string]Extractor{}}
	for _, m := range allowed {
		r.allowed[Normalize(m)] = true
	}
	r.Register(MimeText, textExtractor{})
	r.Register(MimeMarkdown, newMarkdownExtractor())
	r.Register(MimeCSV, csvExtractor{})
	r.Register(MimeDOCX, docxExtractor{})
	return r
}

// Register binds an extractor to a content type.
func (r *Registry) Register(mimeType string, e Extractor) {
	r.extractors[Normalize(mimeType)] = e
}

// Allowed reports whether uploads of mimeType are accepted.
func (r *Registry) Allowed(mimeType string) bool {
	return r.allowed[Normalize(mimeType)]
}

// Extract returns the text of data. Content types outside the allow-list
// and unreadable content fail with domain.ErrUnsupportedContent.
func (r *Registry) Extract(mimeType string, data []byte) (string, error) {
	m := Normalize(mimeType)
	if !r.allowed[m] {
		return "", fmt.Errorf("content type %q: %w", mimeType, domain.ErrUnsupportedContent)
	}
	e, ok := r.extractors[m]
	if !ok {
		return "", nil
	}
	text, err := e.Extract(data)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w: %w", m, domain.ErrUnsupportedContent, err)
	}
	return text, nil
}

// Normalize lowercases a media type and drops its parameters.
func Normalize(mimeType string) string {
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		return mt
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

type textExtractor struct{}

func (textExtractor) Extract(data []byte) (string, error) {
	return strings.ToValidUTF8(string(data), " "), nil
}

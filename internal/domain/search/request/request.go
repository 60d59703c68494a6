package request

import (
	"fmt"

	"github.com/rfpdesk/docvault/internal/domain/search/filter"
)

// Search parameter limits.
const (
	// MaxQueryLength is the maximum allowed search query length.
	MaxQueryLength = 4096
	DefaultLimit   = 20
	MaxLimit       = 100
)

// Request is a validated search query. Offset counts authorized hits, so
// repeating a request with the returned next offset resumes the sequence.
type Request struct {
	query          string
	filters        filter.Expression
	offset         int
	limit          int
	includeHistory bool
}

// New validates and normalizes search parameters.
// Defaults: limit=20. Limit is clamped to MaxLimit.
func New(query string, filters filter.Expression, offset, limit int, includeHistory bool) (Request, error) {
	if query == "" {
		return Request{}, fmt.Errorf("query is required")
	}
	if len(query) > MaxQueryLength {
		return Request{}, fmt.Errorf("query too long (max %d chars)", MaxQueryLength)
	}
	if offset < 0 {
		return Request{}, fmt.Errorf("offset must be >= 0")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return Request{
		query:          query,
		filters:        filters,
		offset:         offset,
		limit:          limit,
		includeHistory: includeHistory,
	}, nil
}

// Query returns the search query text.
func (r *Request) Query() string { return r.query }

// Filters returns the filter expression.
func (r *Request) Filters() filter.Expression { return r.filters }

// Offset returns the number of authorized hits to skip.
func (r *Request) Offset() int { return r.offset }

// Limit returns the page size.
func (r *Request) Limit() int { return r.limit }

// IncludeHistory reports whether superseded versions are searched too.
func (r *Request) IncludeHistory() bool { return r.includeHistory }

// WithLimitCap returns a copy whose limit does not exceed maxLimit.
func (r Request) WithLimitCap(maxLimit int) Request {
	if maxLimit > 0 && r.limit > maxLimit {
		r.limit = maxLimit
	}
	return r
}

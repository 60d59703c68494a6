package index

import (
	"context"
	"iter"

	"github.com/rfpdesk/docvault/internal/domain/access"
	domdoc "github.com/rfpdesk/docvault/internal/domain/document"
)

// Ledger is the read-only view of the version store the propagator syncs from.
type Ledger interface {
	GetDocument(ctx context.Context, id string) (domdoc.Document, error)
	Documents(ctx context.Context, ids []string) ([]domdoc.Document, error)
	ListVersionsAfter(ctx context.Context, id string, after int) iter.Seq2[domdoc.Version, error]
	IDs(ctx context.Context) ([]string, error)
}

// VisibilitySource computes the current visibility closure of a document.
type VisibilitySource interface {
	Visibility(ctx context.Context, documentID string) (access.Closure, error)
}

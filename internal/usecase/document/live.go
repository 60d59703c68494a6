package document

import (
	"context"

	"github.com/rfpdesk/docvault/internal/domain/access"
)

// LiveView is the final authorization step of search: it reads the ledger
// for deletion and asks the evaluator, bypassing every cache.
type LiveView struct {
	store VersionStore
	eval  Evaluator
}

// NewLiveView creates the live view check.
func NewLiveView(store VersionStore, eval Evaluator) *LiveView {
	return &LiveView{store: store, eval: eval}
}

// CanView reports whether principal may view the document now. Tombstoned
// documents are never viewable through search.
func (l *LiveView) CanView(ctx context.Context, principal, documentID string) (bool, error) {
	doc, err := l.store.GetDocument(ctx, documentID)
	if err != nil {
		return false, err
	}
	if doc.Deleted() {
		return false, nil
	}
	return l.eval.CheckPermission(ctx, principal, documentID, access.ActionView)
}

package permission

import (
	"context"

	"github.com/rfpdesk/docvault/internal/domain/access"
	domdoc "github.com/rfpdesk/docvault/internal/domain/document"
)

// DocumentReader reads document records for ownership and existence.
type DocumentReader interface {
	GetDocument(ctx context.Context, id string) (domdoc.Document, error)
}

// GrantRepository stores the grant set of each document. Put applies
// last-writer-wins atomically per grantee, also across instances.
type GrantRepository interface {
	Put(ctx context.Context, g access.Grant) (access.Grant, error)
	List(ctx context.Context, documentID string) ([]access.Grant, error)
}

// Directory is the identity collaborator.
type Directory interface {
	ResolveRoles(ctx context.Context, principal string) ([]string, error)
	RFPDefaultPolicy(ctx context.Context, rfpID string) (access.Policy, error)
}

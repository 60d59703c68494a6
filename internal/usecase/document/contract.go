package document

import (
	"context"
	"iter"
	"time"

	"github.com/rfpdesk/docvault/internal/domain/access"
	domaudit "github.com/rfpdesk/docvault/internal/domain/audit"
	domdoc "github.com/rfpdesk/docvault/internal/domain/document"
	"github.com/rfpdesk/docvault/internal/domain/search/request"
	"github.com/rfpdesk/docvault/internal/domain/search/result"
	"github.com/rfpdesk/docvault/internal/usecase/versionstore"
)

// VersionStore owns documents and their history.
type VersionStore interface {
	CreateDocument(ctx context.Context, doc *domdoc.Document, up versionstore.Upload) (domdoc.Document, domdoc.Version, error)
	CreateVersion(ctx context.Context, id string, up versionstore.Upload, uploader string) (domdoc.Document, domdoc.Version, error)
	Tombstone(ctx context.Context, id, actor string) (domdoc.Document, domdoc.Version, error)
	GetDocument(ctx context.Context, id string) (domdoc.Document, error)
	GetVersion(ctx context.Context, id string, sel domdoc.Selector) (domdoc.Version, error)
	ListVersionsAfter(ctx context.Context, id string, after int) iter.Seq2[domdoc.Version, error]
}

// Evaluator decides access and owns the grant set.
type Evaluator interface {
	CheckPermission(ctx context.Context, principal, documentID string, action access.Action) (bool, error)
	CheckRFPPermission(ctx context.Context, principal, rfpID string, action access.Action) (bool, error)
	Grant(ctx context.Context, g access.Grant) (access.Grant, error)
	Revoke(ctx context.Context, documentID string, grantee access.Grantee, by string) (access.Grant, error)
	Grants(ctx context.Context, documentID string) ([]access.Grant, error)
	Subject(ctx context.Context, principal string) (access.Subject, error)
}

// SearchIndex answers ranked, authorized queries.
type SearchIndex interface {
	Page(ctx context.Context, subject access.Subject, req request.Request) (result.Page, error)
}

// Propagator carries ledger and grant changes into the index.
type Propagator interface {
	Enqueue(documentID string)
	WaitIdle(ctx context.Context) error
}

// ContentStore holds raw content bytes.
type ContentStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	PresignGet(ctx context.Context, key, filename string, ttl time.Duration) (string, error)
}

// TextExtractor turns allowed content into indexable text.
type TextExtractor interface {
	Allowed(mimeType string) bool
	Extract(mimeType string, data []byte) (string, error)
}

// AccessLog records access decisions per document.
type AccessLog interface {
	Append(ctx context.Context, e domaudit.Entry) error
	Recent(ctx context.Context, documentID string, limit int) ([]domaudit.Entry, error)
}

// SignatureStore keeps the signatures recorded on versions.
type SignatureStore interface {
	Add(ctx context.Context, sig domdoc.Signature) error
	List(ctx context.Context, documentID string) ([]domdoc.Signature, error)
}

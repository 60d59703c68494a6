package batch

import (
	"context"

	domdoc "github.com/rfpdesk/docvault/internal/domain/document"
	"github.com/rfpdesk/docvault/internal/usecase/document"
)

// Uploader creates one document with its first version.
type Uploader interface {
	CreateDocument(ctx context.Context, principal string, in document.NewDocument) (domdoc.Document, domdoc.Version, error)
}

package versionstore

import (
	"context"

	domdoc "github.com/rfpdesk/docvault/internal/domain/document"
)

// Repository defines the storage contract of the document ledger.
type Repository interface {
	Create(ctx context.Context, doc *domdoc.Document, first *domdoc.Version) (domdoc.Document, error)
	Append(ctx context.Context, doc *domdoc.Document, v *domdoc.Version) (domdoc.Document, error)
	Get(ctx context.Context, id string) (domdoc.Document, error)
	GetMany(ctx context.Context, ids []string) ([]domdoc.Document, error)
	Version(ctx context.Context, id string, number int) (domdoc.Version, error)
	Versions(ctx context.Context, id string, from, to int) ([]domdoc.Version, error)
	IDs(ctx context.Context) ([]string, error)
}

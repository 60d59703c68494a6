// Package versionstore owns the lifecycle of documents and their append-only
// version history.
package versionstore

import (
	"context"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/rfpdesk/docvault/internal/domain"
	domdoc "github.com/rfpdesk/docvault/internal/domain/document"
	"github.com/rfpdesk/docvault/internal/keylock"
	"github.com/rfpdesk/docvault/internal/logger"
)

const defaultPageSize = 50

// Upload is the content of a new version.
type Upload struct {
	Content domdoc.Content
	Text    string
	Notes   string
}

// Service serializes structural mutations per document. Reads go straight
// to the repository and never wait for the write token.
type Service struct {
	repo     Repository
	locks    *keylock.Map
	now      func() time.Time
	pageSize int
}

// New creates a version store.
func New(repo Repository) *Service {
	return &Service{repo: repo, locks: keylock.New(), now: time.Now, pageSize: defaultPageSize}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// WithPageSize sets how many versions ListVersions fetches per round trip.
func (s *Service) WithPageSize(n int) *Service {
	if n > 0 {
		s.pageSize = n
	}
	return s
}

// CreateDocument stores doc with up as version 1.
func (s *Service) CreateDocument(
	ctx context.Context, doc *domdoc.Document, up Upload,
) (domdoc.Document, domdoc.Version, error) {
	unlock, err := s.locks.Lock(ctx, doc.ID())
	if err != nil {
		return domdoc.Document{}, domdoc.Version{}, fmt.Errorf("acquire write token: %w", err)
	}
	defer unlock()

	first, err := domdoc.NewVersion(doc.ID(), 1, up.Content, up.Text, up.Notes, doc.CreatedBy(), doc.CreatedAt())
	if err != nil {
		return domdoc.Document{}, domdoc.Version{}, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	created, err := s.repo.Create(ctx, doc, &first)
	if err != nil {
		return domdoc.Document{}, domdoc.Version{}, fmt.Errorf("create document: %w", err)
	}
	logger.FromContext(ctx).Debug("document created",
		zap.String("document_id", created.ID()), zap.String("rfp_id", created.RFPID()))
	return created, first, nil
}

// CreateVersion appends a content version with the next number.
func (s *Service) CreateVersion(
	ctx context.Context, id string, up Upload, uploader string,
) (domdoc.Document, domdoc.Version, error) {
	return s.append(ctx, id, func(doc *domdoc.Document, at time.Time) (domdoc.Version, error) {
		v, err := domdoc.NewVersion(id, doc.Head()+1, up.Content, up.Text, up.Notes, uploader, at)
		if err != nil {
			return domdoc.Version{}, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
		}
		return v, nil
	})
}

// Tombstone appends the deletion marker. Prior versions stay readable.
func (s *Service) Tombstone(ctx context.Context, id, actor string) (domdoc.Document, domdoc.Version, error) {
	return s.append(ctx, id, func(doc *domdoc.Document, at time.Time) (domdoc.Version, error) {
		return domdoc.NewTombstone(id, doc.Head()+1, actor, at), nil
	})
}

func (s *Service) append(
	ctx context.Context, id string, build func(*domdoc.Document, time.Time) (domdoc.Version, error),
) (domdoc.Document, domdoc.Version, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return domdoc.Document{}, domdoc.Version{}, fmt.Errorf("acquire write token: %w", err)
	}
	defer unlock()

	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return domdoc.Document{}, domdoc.Version{}, fmt.Errorf("get document: %w", err)
	}
	if doc.Deleted() {
		return domdoc.Document{}, domdoc.Version{}, fmt.Errorf("document %s: %w", id, domain.ErrDocumentDeleted)
	}
	v, err := build(&doc, s.now())
	if err != nil {
		return domdoc.Document{}, domdoc.Version{}, err
	}
	next, err := s.repo.Append(ctx, &doc, &v)
	if err != nil {
		return domdoc.Document{}, domdoc.Version{}, fmt.Errorf("append version: %w", err)
	}
	logger.FromContext(ctx).Debug("version appended",
		zap.String("document_id", id), zap.Int("version", v.Number()), zap.Bool("tombstone", v.Tombstone()))
	return next, v, nil
}

// GetDocument returns the document record.
func (s *Service) GetDocument(ctx context.Context, id string) (domdoc.Document, error) {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// Documents returns the records of ids in one batch, skipping unknown ids.
// Heads may trail GetDocument after an interrupted write.
func (s *Service) Documents(ctx context.Context, ids []string) ([]domdoc.Document, error) {
	docs, err := s.repo.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get documents: %w", err)
	}
	return docs, nil
}

// GetVersion returns the selected version. Latest on a tombstoned document
// yields the tombstone.
func (s *Service) GetVersion(ctx context.Context, id string, sel domdoc.Selector) (domdoc.Version, error) {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return domdoc.Version{}, fmt.Errorf("get document: %w", err)
	}
	n := sel.Resolve(doc.Head())
	if n > doc.Head() {
		return domdoc.Version{}, fmt.Errorf("version %d of %s: %w", n, id, domain.ErrVersionNotFound)
	}
	v, err := s.repo.Version(ctx, id, n)
	if err != nil {
		return domdoc.Version{}, fmt.Errorf("get version: %w", err)
	}
	return v, nil
}

// ListVersions yields the history of a document in ascending order,
// tombstones included. Versions are fetched page by page as the sequence is
// consumed; ranging again restarts from version 1.
func (s *Service) ListVersions(ctx context.Context, id string) iter.Seq2[domdoc.Version, error] {
	return s.ListVersionsAfter(ctx, id, 0)
}

// ListVersionsAfter is ListVersions resumed after version number after.
func (s *Service) ListVersionsAfter(ctx context.Context, id string, after int) iter.Seq2[domdoc.Version, error] {
	return func(yield func(domdoc.Version, error) bool) {
		doc, err := s.repo.Get(ctx, id)
		if err != nil {
			yield(domdoc.Version{}, fmt.Errorf("get document: %w", err))
			return
		}
		head := doc.Head()
		for from := max(after, 0) + 1; from <= head; from += s.pageSize {
			if err := ctx.Err(); err != nil {
				yield(domdoc.Version{}, err)
				return
			}
			page, err := s.repo.Versions(ctx, id, from, min(from+s.pageSize-1, head))
			if err != nil {
				yield(domdoc.Version{}, fmt.Errorf("list versions: %w", err))
				return
			}
			for _, v := range page {
				if !yield(v, nil) {
					return
				}
			}
		}
	}
}

// IDs returns every document id in the ledger.
func (s *Service) IDs(ctx context.Context) ([]string, error) {
	ids, err := s.repo.IDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list document ids: %w", err)
	}
	return ids, nil
}

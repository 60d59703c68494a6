// Package batch uploads many documents into one RFP with per-item results.
package batch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rfpdesk/docvault/internal/domain"
	dombatch "github.com/rfpdesk/docvault/internal/domain/batch"
	"github.com/rfpdesk/docvault/internal/logger"
	"github.com/rfpdesk/docvault/internal/usecase/document"
)

// MaxBatchSize is the maximum number of items per batch request.
const MaxBatchSize = 100

// Item is one upload of a bulk request.
type Item struct {
	Filename     string
	DocumentType string
	MimeType     string
	Notes        string
	Data         []byte
}

// Service handles bulk uploads with per-item error reporting.
type Service struct {
	docs         Uploader
	maxBatchSize int
}

// New creates a batch service.
func New(docs Uploader) *Service {
	return &Service{docs: docs, maxBatchSize: MaxBatchSize}
}

// WithMaxBatchSize configures the maximum batch size.
func (s *Service) WithMaxBatchSize(size int) *Service {
	if size > 0 {
		s.maxBatchSize = size
	}
	return s
}

// Upload creates one document per item, in order. A failure that would
// repeat for every item (denied on the RFP, identity outage, rate limit)
// fails the remaining items without trying them.
func (s *Service) Upload(ctx context.Context, principal, rfpID string, items []Item) []dombatch.Result {
	results := make([]dombatch.Result, len(items))

	if len(items) > s.maxBatchSize {
		for i, item := range items {
			results[i] = dombatch.NewError(
				item.Filename,
				fmt.Errorf("batch size exceeds %d: %w", s.maxBatchSize, domain.ErrInvalidInput),
			)
		}
		return results
	}

	for i, item := range items {
		doc, v, err := s.docs.CreateDocument(ctx, principal, document.NewDocument{
			RFPID:        rfpID,
			Filename:     item.Filename,
			DocumentType: item.DocumentType,
			MimeType:     item.MimeType,
			Notes:        item.Notes,
			Data:         item.Data,
		})
		if err != nil {
			results[i] = dombatch.NewError(item.Filename, err)
			if cascades(err) {
				for j := i + 1; j < len(items); j++ {
					results[j] = dombatch.NewError(items[j].Filename, fmt.Errorf("skipped: %w", err))
				}
				break
			}
			continue
		}
		results[i] = dombatch.NewOK(item.Filename, doc.ID(), v.Number())
	}

	ok, failed := dombatch.Summary(results)
	logger.FromContext(ctx).Info("bulk upload finished",
		zap.String("rfp_id", rfpID), zap.String("principal", principal),
		zap.Int("ok", ok), zap.Int("failed", failed))
	return results
}

func cascades(err error) bool {
	return errors.Is(err, domain.ErrDenied) ||
		errors.Is(err, domain.ErrEvaluation) ||
		errors.Is(err, domain.ErrRateLimited) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

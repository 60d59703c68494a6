package chi

import (
	"errors"
	"fmt"
	"time"

	"github.com/rfpdesk/docvault/internal/domain"
	"github.com/rfpdesk/docvault/internal/domain/access"
	domaudit "github.com/rfpdesk/docvault/internal/domain/audit"
	dombatch "github.com/rfpdesk/docvault/internal/domain/batch"
	domdoc "github.com/rfpdesk/docvault/internal/domain/document"
	"github.com/rfpdesk/docvault/internal/domain/search/filter"
	"github.com/rfpdesk/docvault/internal/domain/search/request"
	"github.com/rfpdesk/docvault/internal/domain/search/result"
	documentuc "github.com/rfpdesk/docvault/internal/usecase/document"
)

type documentResponse struct {
	ID           string     `json:"id"`
	RFPID        string     `json:"rfp_id"`
	Filename     string     `json:"filename"`
	DocumentType string     `json:"document_type"`
	CreatedBy    string     `json:"created_by"`
	CreatedAt    time.Time  `json:"created_at"`
	Head         int        `json:"head_version"`
	Deleted      bool       `json:"deleted"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	DeletedBy    string     `json:"deleted_by,omitempty"`
}

type versionResponse struct {
	DocumentID string    `json:"document_id"`
	Number     int       `json:"version"`
	Tombstone  bool      `json:"tombstone"`
	Filename   string    `json:"filename,omitempty"`
	MimeType   string    `json:"mime_type,omitempty"`
	Size       int64     `json:"size,omitempty"`
	Digest     string    `json:"digest,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	UploadedBy string    `json:"uploaded_by"`
	CreatedAt  time.Time `json:"created_at"`
}

type createDocumentResponse struct {
	Document documentResponse `json:"document"`
	Version  versionResponse  `json:"version"`
}

type versionListResponse struct {
	Items     []versionResponse `json:"items"`
	HasMore   bool              `json:"has_more"`
	NextAfter int               `json:"next_after,omitempty"`
}

type downloadResponse struct {
	DocumentID string    `json:"document_id"`
	Version    int       `json:"version"`
	Filename   string    `json:"filename"`
	MimeType   string    `json:"mime_type"`
	Size       int64     `json:"size"`
	Digest     string    `json:"digest"`
	URL        string    `json:"url"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type grantRequest struct {
	Level     access.Level `json:"level"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty"`
}

type grantResponse struct {
	DocumentID string       `json:"document_id"`
	Grantee    string       `json:"grantee"`
	Level      access.Level `json:"level"`
	GrantedBy  string       `json:"granted_by"`
	GrantedAt  time.Time    `json:"granted_at"`
	ExpiresAt  *time.Time   `json:"expires_at,omitempty"`
}

type grantListResponse struct {
	Items []grantResponse `json:"items"`
}

// signRequest carries the signature payload, base64 in JSON.
type signRequest struct {
	SignatureData []byte `json:"signature_data"`
}

type signatureResponse struct {
	DocumentID    string    `json:"document_id"`
	Version       int       `json:"version"`
	SignerID      string    `json:"signer_id"`
	ContentDigest string    `json:"content_digest"`
	SignatureHash string    `json:"signature_hash"`
	SignedAt      time.Time `json:"signed_at"`
}

type signatureListResponse struct {
	Items []signatureResponse `json:"items"`
}

type accessLogResponse struct {
	Items []domaudit.Entry `json:"items"`
}

type rangeFilter struct {
	GT  *float64 `json:"gt,omitempty"`
	GTE *float64 `json:"gte,omitempty"`
	LT  *float64 `json:"lt,omitempty"`
	LTE *float64 `json:"lte,omitempty"`
}

type filterCondition struct {
	Key   string       `json:"key"`
	Match *string      `json:"match,omitempty"`
	Range *rangeFilter `json:"range,omitempty"`
}

type filterExpression struct {
	Must    []filterCondition `json:"must,omitempty"`
	Should  []filterCondition `json:"should,omitempty"`
	MustNot []filterCondition `json:"must_not,omitempty"`
}

type searchRequest struct {
	Query          string            `json:"query"`
	Filters        *filterExpression `json:"filters,omitempty"`
	Offset         int               `json:"offset"`
	Limit          int               `json:"limit"`
	IncludeHistory bool              `json:"include_history"`
}

type searchResultItem struct {
	DocumentID   string    `json:"document_id"`
	Version      int       `json:"version"`
	Score        float64   `json:"score"`
	MatchedTerms int       `json:"matched_terms"`
	Snippet      string    `json:"snippet,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type searchResponse struct {
	Items      []searchResultItem `json:"items"`
	HasMore    bool               `json:"has_more"`
	NextOffset int                `json:"next_offset,omitempty"`
}

type bulkItem struct {
	Filename     string `json:"filename"`
	DocumentType string `json:"document_type,omitempty"`
	MimeType     string `json:"mime_type"`
	Notes        string `json:"notes,omitempty"`
	Data         []byte `json:"data"` // base64 in JSON
}

type bulkRequest struct {
	Items []bulkItem `json:"items"`
}

type bulkResultItem struct {
	Filename   string         `json:"filename"`
	Status     string         `json:"status"`
	DocumentID string         `json:"document_id,omitempty"`
	Version    int            `json:"version,omitempty"`
	Error      *errorResponse `json:"error,omitempty"`
}

type bulkResponse struct {
	Items     []bulkResultItem `json:"items"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func documentToResponse(d *domdoc.Document) documentResponse {
	resp := documentResponse{
		ID:           d.ID(),
		RFPID:        d.RFPID(),
		Filename:     d.Filename(),
		DocumentType: d.Type(),
		CreatedBy:    d.CreatedBy(),
		CreatedAt:    d.CreatedAt().UTC(),
		Head:         d.Head(),
		Deleted:      d.Deleted(),
		DeletedBy:    d.DeletedBy(),
	}
	if d.Deleted() {
		at := d.DeletedAt().UTC()
		resp.DeletedAt = &at
	}
	return resp
}

func versionToResponse(v *domdoc.Version) versionResponse {
	c := v.Content()
	return versionResponse{
		DocumentID: v.DocumentID(),
		Number:     v.Number(),
		Tombstone:  v.Tombstone(),
		Filename:   c.Filename,
		MimeType:   c.MimeType,
		Size:       c.Size,
		Digest:     c.Digest,
		Notes:      v.Notes(),
		UploadedBy: v.UploadedBy(),
		CreatedAt:  v.CreatedAt().UTC(),
	}
}

func ticketToResponse(t documentuc.DownloadTicket) downloadResponse {
	return downloadResponse{
		DocumentID: t.DocumentID,
		Version:    t.Version,
		Filename:   t.Filename,
		MimeType:   t.MimeType,
		Size:       t.Size,
		Digest:     t.Digest,
		URL:        t.URL,
		ExpiresAt:  t.ExpiresAt.UTC(),
	}
}

func signatureToResponse(sig *domdoc.Signature) signatureResponse {
	return signatureResponse{
		DocumentID:    sig.DocumentID,
		Version:       sig.Version,
		SignerID:      sig.SignerID,
		ContentDigest: sig.ContentDigest,
		SignatureHash: sig.Hash,
		SignedAt:      sig.SignedAt.UTC(),
	}
}

func grantToResponse(g access.Grant) grantResponse {
	resp := grantResponse{
		DocumentID: g.DocumentID,
		Grantee:    g.Grantee.Key(),
		Level:      g.Level,
		GrantedBy:  g.GrantedBy,
		GrantedAt:  g.GrantedAt.UTC(),
	}
	if !g.ExpiresAt.IsZero() {
		at := g.ExpiresAt.UTC()
		resp.ExpiresAt = &at
	}
	return resp
}

func searchResultToResponse(r *result.Result) searchResultItem {
	return searchResultItem{
		DocumentID:   r.DocumentID(),
		Version:      r.Version(),
		Score:        r.Score(),
		MatchedTerms: r.MatchedTerms(),
		Snippet:      r.Snippet(),
		CreatedAt:    r.CreatedAt().UTC(),
	}
}

func batchResultToResponse(r dombatch.Result) bulkResultItem {
	item := bulkResultItem{
		Filename:   r.Filename(),
		Status:     string(r.Status()),
		DocumentID: r.DocumentID(),
		Version:    r.Version(),
	}
	if r.Err() != nil {
		item.Error = &errorResponse{Code: batchErrorCode(r.Err()), Message: safeDomainMessage(r.Err())}
	}
	return item
}

func batchErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrEvaluation):
		return codeEvaluation
	case errors.Is(err, domain.ErrNotFound):
		return codeNotFound
	case errors.Is(err, domain.ErrDenied):
		return codeDenied
	case errors.Is(err, domain.ErrConflict):
		return codeConflict
	case errors.Is(err, domain.ErrInvalidInput):
		return codeValidation
	case errors.Is(err, domain.ErrUnsupportedContent):
		return codeUnsupportedContent
	case errors.Is(err, domain.ErrRateLimited):
		return codeRateLimited
	default:
		return codeInternal
	}
}

func searchRequestFromDTO(req searchRequest) (request.Request, error) {
	filters, err := filtersFromDTO(req.Filters)
	if err != nil {
		return request.Request{}, fmt.Errorf("parse filters: %w", err)
	}
	r, err := request.New(req.Query, filters, req.Offset, req.Limit, req.IncludeHistory)
	if err != nil {
		return request.Request{}, fmt.Errorf("build search request: %w", err)
	}
	return r, nil
}

func filtersFromDTO(f *filterExpression) (filter.Expression, error) {
	if f == nil {
		return filter.NewExpression(nil, nil, nil)
	}
	must, err := conditionsFromDTO(f.Must)
	if err != nil {
		return filter.Expression{}, err
	}
	should, err := conditionsFromDTO(f.Should)
	if err != nil {
		return filter.Expression{}, err
	}
	mustNot, err := conditionsFromDTO(f.MustNot)
	if err != nil {
		return filter.Expression{}, err
	}
	expr, err := filter.NewExpression(must, should, mustNot)
	if err != nil {
		return filter.Expression{}, fmt.Errorf("new expression: %w", err)
	}
	return expr, nil
}

func conditionsFromDTO(cs []filterCondition) ([]filter.Condition, error) {
	out := make([]filter.Condition, 0, len(cs))
	for _, c := range cs {
		cond, err := conditionFromDTO(c)
		if err != nil {
			return nil, err
		}
		out = append(out, cond)
	}
	return out, nil
}

func conditionFromDTO(c filterCondition) (filter.Condition, error) {
	switch {
	case c.Match != nil && c.Range != nil:
		return filter.Condition{}, fmt.Errorf("filter condition for %q must have match or range, not both", c.Key)
	case c.Match != nil:
		cond, err := filter.NewMatch(c.Key, *c.Match)
		if err != nil {
			return filter.Condition{}, fmt.Errorf("match filter: %w", err)
		}
		return cond, nil
	case c.Range != nil:
		rf, err := filter.NewRangeFilter(c.Range.GT, c.Range.GTE, c.Range.LT, c.Range.LTE)
		if err != nil {
			return filter.Condition{}, fmt.Errorf("range filter: %w", err)
		}
		cond, err := filter.NewRange(c.Key, rf)
		if err != nil {
			return filter.Condition{}, fmt.Errorf("range condition: %w", err)
		}
		return cond, nil
	default:
		return filter.Condition{}, errors.New("filter condition must have either match or range")
	}
}

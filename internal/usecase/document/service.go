// Package document is the entry point for document reads, downloads,
// searches and mutations. It authorizes every call and keeps the ledger,
// the grant set and the search index consistent.
package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rfpdesk/docvault/internal/domain"
	"github.com/rfpdesk/docvault/internal/domain/access"
	domaudit "github.com/rfpdesk/docvault/internal/domain/audit"
	domdoc "github.com/rfpdesk/docvault/internal/domain/document"
	"github.com/rfpdesk/docvault/internal/domain/mutation"
	"github.com/rfpdesk/docvault/internal/domain/search/request"
	"github.com/rfpdesk/docvault/internal/domain/search/result"
	"github.com/rfpdesk/docvault/internal/logger"
	"github.com/rfpdesk/docvault/internal/metrics"
	"github.com/rfpdesk/docvault/internal/storage"
	"github.com/rfpdesk/docvault/internal/usecase/versionstore"
)

// Defaults.
const (
	DefaultMaxContentSize = 50 << 20
	DefaultPresignTTL     = time.Hour
	DefaultAccessLogLimit = 100
	MaxSignatureSize      = 64 << 10
)

// NewDocument is the input of CreateDocument.
type NewDocument struct {
	RFPID        string
	Filename     string
	DocumentType string
	MimeType     string
	Notes        string
	Data         []byte
}

// NewVersion is the input of CreateVersion. An empty filename keeps the
// document's filename.
type NewVersion struct {
	Filename string
	MimeType string
	Notes    string
	Data     []byte
}

// DownloadTicket is a granted download of one version.
type DownloadTicket struct {
	DocumentID string
	Version    int
	Filename   string
	MimeType   string
	Size       int64
	Digest     string
	URL        string
	ExpiresAt  time.Time
}

// Service is the document facade.
type Service struct {
	store      VersionStore
	eval       Evaluator
	index      SearchIndex
	propagator Propagator
	objects    ContentStore
	extractor  TextExtractor
	audit      AccessLog
	signatures SignatureStore

	hashAlgorithm string
	maxSize       int64
	presignTTL    time.Duration
	maxPageSize   int
	indexWait     time.Duration
	now           func() time.Time
	newID         func() string
}

// New creates the facade.
func New(
	store VersionStore, eval Evaluator, index SearchIndex, propagator Propagator,
	objects ContentStore, extractor TextExtractor, audit AccessLog, signatures SignatureStore,
) *Service {
	return &Service{
		store: store, eval: eval, index: index, propagator: propagator,
		objects: objects, extractor: extractor, audit: audit, signatures: signatures,
		hashAlgorithm: storage.SHA256,
		maxSize:       DefaultMaxContentSize,
		presignTTL:    DefaultPresignTTL,
		maxPageSize:   request.MaxLimit,
		now:           time.Now,
		newID:         uuid.NewString,
	}
}

// WithContentLimits sets the digest algorithm and the maximum content size.
func (s *Service) WithContentLimits(hashAlgorithm string, maxSize int64) *Service {
	if hashAlgorithm != "" {
		s.hashAlgorithm = hashAlgorithm
	}
	if maxSize > 0 {
		s.maxSize = maxSize
	}
	return s
}

// WithPresignTTL sets the lifetime of download URLs.
func (s *Service) WithPresignTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.presignTTL = ttl
	}
	return s
}

// WithMaxPageSize caps search page sizes.
func (s *Service) WithMaxPageSize(n int) *Service {
	if n > 0 {
		s.maxPageSize = n
	}
	return s
}

// WithIndexWait makes mutations wait up to d for index propagation before
// they are acknowledged. Zero acknowledges right after the ledger write.
func (s *Service) WithIndexWait(d time.Duration) *Service {
	s.indexWait = d
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// WithIDGenerator overrides document id generation.
func (s *Service) WithIDGenerator(gen func() string) *Service {
	if gen != nil {
		s.newID = gen
	}
	return s
}

func observeStage(op string, st mutation.Stage) {
	metrics.MutationStageTotal.WithLabelValues(op, string(st)).Inc()
}

// --- Mutations ---

// CreateDocument stores a new document in an RFP with its first version.
// The creator needs edit through the RFP policy and manages the document
// from the ledger write on; no separate grant write can leave it orphaned.
func (s *Service) CreateDocument(
	ctx context.Context, principal string, in NewDocument,
) (domdoc.Document, domdoc.Version, error) {
	tr := mutation.Start("create_document", observeStage)

	if err := s.checkContent(in.MimeType, in.Data); err != nil {
		_ = tr.Advance(mutation.Failed)
		return domdoc.Document{}, domdoc.Version{}, err
	}
	doc, err := domdoc.New(s.newID(), in.RFPID, in.Filename, in.DocumentType, principal, s.now())
	if err != nil {
		_ = tr.Advance(mutation.Failed)
		return domdoc.Document{}, domdoc.Version{}, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}

	ok, err := s.eval.CheckRFPPermission(ctx, principal, in.RFPID, access.ActionEdit)
	if err := s.settle(ctx, tr, principal, "rfp:"+in.RFPID, access.ActionEdit, ok, err); err != nil {
		return domdoc.Document{}, domdoc.Version{}, err
	}

	up, err := s.upload(ctx, &doc, in.Filename, in.MimeType, in.Notes, in.Data)
	if err != nil {
		_ = tr.Advance(mutation.Failed)
		return domdoc.Document{}, domdoc.Version{}, err
	}
	created, first, err := s.store.CreateDocument(ctx, &doc, up)
	if err != nil {
		_ = tr.Advance(mutation.Failed)
		return domdoc.Document{}, domdoc.Version{}, err
	}

	s.applied(ctx, tr, created.ID())
	logger.FromContext(ctx).Info("document created",
		zap.String("document_id", created.ID()), zap.String("rfp_id", created.RFPID()),
		zap.String("principal", principal), zap.String("digest", first.Content().Digest))
	return created, first, nil
}

// CreateVersion appends new content to a document. Requires edit.
func (s *Service) CreateVersion(
	ctx context.Context, principal, documentID string, in NewVersion,
) (domdoc.Version, error) {
	tr := mutation.Start("create_version", observeStage)

	if err := s.checkContent(in.MimeType, in.Data); err != nil {
		_ = tr.Advance(mutation.Failed)
		return domdoc.Version{}, err
	}
	if err := s.authorize(ctx, tr, principal, documentID, access.ActionEdit); err != nil {
		return domdoc.Version{}, err
	}

	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		_ = tr.Advance(mutation.Failed)
		return domdoc.Version{}, err
	}
	if doc.Deleted() {
		_ = tr.Advance(mutation.Failed)
		return domdoc.Version{}, fmt.Errorf("document %s: %w", documentID, domain.ErrDocumentDeleted)
	}
	filename := in.Filename
	if filename == "" {
		filename = doc.Filename()
	}
	up, err := s.upload(ctx, &doc, filename, in.MimeType, in.Notes, in.Data)
	if err != nil {
		_ = tr.Advance(mutation.Failed)
		return domdoc.Version{}, err
	}
	_, v, err := s.store.CreateVersion(ctx, documentID, up, principal)
	if err != nil {
		_ = tr.Advance(mutation.Failed)
		return domdoc.Version{}, err
	}

	s.applied(ctx, tr, documentID)
	logger.FromContext(ctx).Info("version created",
		zap.String("document_id", documentID), zap.Int("version", v.Number()), zap.String("principal", principal))
	return v, nil
}

// GrantAccess gives grantee level on the document. Requires manage.
func (s *Service) GrantAccess(
	ctx context.Context, principal, documentID string, grantee access.Grantee, level access.Level, expiresAt time.Time,
) (access.Grant, error) {
	tr := mutation.Start("grant_access", observeStage)
	if level == access.None {
		_ = tr.Advance(mutation.Failed)
		return access.Grant{}, fmt.Errorf("%w: use revoke to remove access", domain.ErrInvalidInput)
	}
	if err := s.authorize(ctx, tr, principal, documentID, access.ActionManage); err != nil {
		return access.Grant{}, err
	}
	g, err := s.eval.Grant(ctx, access.Grant{
		DocumentID: documentID, Grantee: grantee, Level: level,
		GrantedBy: principal, GrantedAt: s.now(), ExpiresAt: expiresAt,
	})
	if err != nil {
		_ = tr.Advance(mutation.Failed)
		return access.Grant{}, err
	}
	s.applied(ctx, tr, documentID)
	s.record(ctx, documentID, principal, "grant", domaudit.Allowed, 0, grantee.Key()+"="+level.String())
	return g, nil
}

// RevokeAccess removes grantee's explicit grant. Requires manage.
func (s *Service) RevokeAccess(
	ctx context.Context, principal, documentID string, grantee access.Grantee,
) (access.Grant, error) {
	tr := mutation.Start("revoke_access", observeStage)
	if err := s.authorize(ctx, tr, principal, documentID, access.ActionManage); err != nil {
		return access.Grant{}, err
	}
	g, err := s.eval.Revoke(ctx, documentID, grantee, principal)
	if err != nil {
		_ = tr.Advance(mutation.Failed)
		return access.Grant{}, err
	}
	s.applied(ctx, tr, documentID)
	s.record(ctx, documentID, principal, "revoke", domaudit.Allowed, 0, grantee.Key())
	return g, nil
}

// DeleteDocument tombstones the document. History stays readable; the
// document leaves search. Requires manage.
func (s *Service) DeleteDocument(ctx context.Context, principal, documentID string) (domdoc.Version, error) {
	tr := mutation.Start("delete_document", observeStage)
	if err := s.authorize(ctx, tr, principal, documentID, access.ActionManage); err != nil {
		return domdoc.Version{}, err
	}
	_, marker, err := s.store.Tombstone(ctx, documentID, principal)
	if err != nil {
		_ = tr.Advance(mutation.Failed)
		return domdoc.Version{}, err
	}
	s.applied(ctx, tr, documentID)
	s.record(ctx, documentID, principal, "delete", domaudit.Allowed, marker.Number(), "")
	logger.FromContext(ctx).Info("document tombstoned",
		zap.String("document_id", documentID), zap.Int("version", marker.Number()), zap.String("principal", principal))
	return marker, nil
}

// SignVersion records principal's signature over one content version.
// Requires edit. The signature hash covers the version's content digest, the
// signer, the signing time and data; a signer signs a version once.
func (s *Service) SignVersion(
	ctx context.Context, principal, documentID string, sel domdoc.Selector, data []byte,
) (domdoc.Signature, error) {
	tr := mutation.Start("sign_version", observeStage)
	if len(data) == 0 || len(data) > MaxSignatureSize {
		_ = tr.Advance(mutation.Failed)
		return domdoc.Signature{}, fmt.Errorf("%w: signature data must be 1 to %d bytes", domain.ErrInvalidInput, MaxSignatureSize)
	}
	if err := s.authorize(ctx, tr, principal, documentID, access.ActionEdit); err != nil {
		return domdoc.Signature{}, err
	}

	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		_ = tr.Advance(mutation.Failed)
		return domdoc.Signature{}, err
	}
	if doc.Deleted() {
		_ = tr.Advance(mutation.Failed)
		return domdoc.Signature{}, fmt.Errorf("document %s: %w", documentID, domain.ErrDocumentDeleted)
	}
	v, err := s.store.GetVersion(ctx, documentID, sel)
	if err != nil {
		_ = tr.Advance(mutation.Failed)
		return domdoc.Signature{}, err
	}
	if v.Tombstone() {
		_ = tr.Advance(mutation.Failed)
		return domdoc.Signature{}, fmt.Errorf("%w: version %d marks deletion", domain.ErrInvalidInput, v.Number())
	}

	sig := domdoc.Signature{
		DocumentID:    documentID,
		Version:       v.Number(),
		SignerID:      principal,
		Data:          data,
		ContentDigest: v.Content().Digest,
		SignedAt:      s.now().UTC(),
	}
	if sig.Hash, err = s.signatureHash(&sig); err != nil {
		_ = tr.Advance(mutation.Failed)
		return domdoc.Signature{}, err
	}
	if err := s.signatures.Add(ctx, sig); err != nil {
		_ = tr.Advance(mutation.Failed)
		return domdoc.Signature{}, err
	}

	_ = tr.Advance(mutation.Applied)
	_ = tr.Advance(mutation.Acknowledged)
	s.record(ctx, documentID, principal, "sign", domaudit.Allowed, v.Number(), sig.Hash)
	logger.FromContext(ctx).Info("version signed",
		zap.String("document_id", documentID), zap.Int("version", v.Number()),
		zap.String("principal", principal), zap.String("hash", sig.Hash))
	return sig, nil
}

func (s *Service) signatureHash(sig *domdoc.Signature) (string, error) {
	payload, err := json.Marshal(struct {
		DocumentID    string    `json:"document_id"`
		Version       int       `json:"version"`
		ContentDigest string    `json:"content_digest"`
		SignerID      string    `json:"signer_id"`
		Data          []byte    `json:"signature_data"`
		SignedAt      time.Time `json:"signed_at"`
	}{sig.DocumentID, sig.Version, sig.ContentDigest, sig.SignerID, sig.Data, sig.SignedAt})
	if err != nil {
		return "", fmt.Errorf("marshal signature: %w", err)
	}
	hash, err := storage.Digest(s.hashAlgorithm, payload)
	if err != nil {
		return "", fmt.Errorf("hash signature: %w", err)
	}
	return hash, nil
}

// authorize moves tr out of Received according to the permission decision.
func (s *Service) authorize(
	ctx context.Context, tr *mutation.Tracker, principal, documentID string, action access.Action,
) error {
	ok, err := s.eval.CheckPermission(ctx, principal, documentID, action)
	return s.settle(ctx, tr, principal, documentID, action, ok, err)
}

func (s *Service) settle(
	ctx context.Context, tr *mutation.Tracker, principal, target string, action access.Action, ok bool, err error,
) error {
	if err != nil {
		_ = tr.Advance(mutation.Failed)
		return err
	}
	if !ok {
		_ = tr.Advance(mutation.Denied)
		logger.FromContext(ctx).Info("mutation denied",
			zap.String("operation", tr.Op()), zap.String("principal", principal),
			zap.String("target", target), zap.String("required", string(action)))
		return fmt.Errorf("%s requires %s on %s: %w", tr.Op(), action, target, domain.ErrDenied)
	}
	return tr.Advance(mutation.Authorized)
}

// applied records the ledger write, hands the document to propagation and
// acknowledges. Indexing never fails the mutation.
func (s *Service) applied(ctx context.Context, tr *mutation.Tracker, documentID string) {
	_ = tr.Advance(mutation.Applied)
	s.propagator.Enqueue(documentID)
	if s.indexWait > 0 {
		wctx, cancel := context.WithTimeout(ctx, s.indexWait)
		err := s.propagator.WaitIdle(wctx)
		cancel()
		if err == nil {
			_ = tr.Advance(mutation.Indexed)
		} else {
			logger.FromContext(ctx).Warn("acknowledging before index propagation",
				zap.String("document_id", documentID), zap.Error(err))
		}
	}
	_ = tr.Advance(mutation.Acknowledged)
}

func (s *Service) checkContent(mimeType string, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: content is empty", domain.ErrInvalidInput)
	}
	if int64(len(data)) > s.maxSize {
		return fmt.Errorf("%w: content exceeds %d bytes", domain.ErrInvalidInput, s.maxSize)
	}
	if !s.extractor.Allowed(mimeType) {
		return fmt.Errorf("content type %q: %w", mimeType, domain.ErrUnsupportedContent)
	}
	return nil
}

// upload stores the bytes and prepares the version payload.
func (s *Service) upload(
	ctx context.Context, doc *domdoc.Document, filename, mimeType, notes string, data []byte,
) (versionstore.Upload, error) {
	text, err := s.extractor.Extract(mimeType, data)
	if err != nil {
		return versionstore.Upload{}, err
	}
	digest, err := storage.Digest(s.hashAlgorithm, data)
	if err != nil {
		return versionstore.Upload{}, fmt.Errorf("digest content: %w", err)
	}
	key := storage.ObjectKey(doc.RFPID(), doc.ID(), filename, s.now())
	if err := s.objects.Put(ctx, key, data, mimeType); err != nil {
		return versionstore.Upload{}, fmt.Errorf("store content: %w", err)
	}
	return versionstore.Upload{
		Content: domdoc.Content{
			Key: key, Digest: digest, Size: int64(len(data)), MimeType: mimeType, Filename: filename,
		},
		Text:  text,
		Notes: notes,
	}, nil
}

// --- Reads ---

// GetDocumentByID returns document metadata. Requires view.
func (s *Service) GetDocumentByID(ctx context.Context, principal, documentID string) (domdoc.Document, error) {
	if err := s.require(ctx, principal, documentID, access.ActionView); err != nil {
		return domdoc.Document{}, err
	}
	return s.store.GetDocument(ctx, documentID)
}

// GetVersion returns one version's metadata. Requires view.
func (s *Service) GetVersion(
	ctx context.Context, principal, documentID string, sel domdoc.Selector,
) (domdoc.Version, error) {
	if err := s.require(ctx, principal, documentID, access.ActionView); err != nil {
		return domdoc.Version{}, err
	}
	return s.store.GetVersion(ctx, documentID, sel)
}

// ListVersions returns the history after version number after, ascending
// and lazily read. Requires view; the check happens before the sequence is
// returned.
func (s *Service) ListVersions(
	ctx context.Context, principal, documentID string, after int,
) (iter.Seq2[domdoc.Version, error], error) {
	if err := s.require(ctx, principal, documentID, access.ActionView); err != nil {
		return nil, err
	}
	return s.store.ListVersionsAfter(ctx, documentID, after), nil
}

// CheckDownloadPermission grants a time-limited download of a version.
// It requires download, which the default view policy never satisfies.
// Every decision lands in the access log.
func (s *Service) CheckDownloadPermission(
	ctx context.Context, principal, documentID string, sel domdoc.Selector,
) (DownloadTicket, error) {
	log := logger.FromContext(ctx)
	ok, err := s.eval.CheckPermission(ctx, principal, documentID, access.ActionDownload)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return DownloadTicket{}, err
	case err != nil:
		s.record(ctx, documentID, principal, "download", domaudit.Errored, 0, err.Error())
		return DownloadTicket{}, err
	case !ok:
		s.record(ctx, documentID, principal, "download", domaudit.Denied, 0, "")
		log.Info("download denied", zap.String("document_id", documentID), zap.String("principal", principal))
		return DownloadTicket{}, fmt.Errorf("download of %s: %w", documentID, domain.ErrDenied)
	}

	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return DownloadTicket{}, err
	}
	if doc.Deleted() {
		return DownloadTicket{}, fmt.Errorf("document %s is deleted: %w", documentID, domain.ErrDocumentNotFound)
	}
	v, err := s.store.GetVersion(ctx, documentID, sel)
	if err != nil {
		return DownloadTicket{}, err
	}

	content := v.Content()
	url, err := s.objects.PresignGet(ctx, content.Key, content.Filename, s.presignTTL)
	if err != nil {
		return DownloadTicket{}, fmt.Errorf("presign download: %w", err)
	}
	s.record(ctx, documentID, principal, "download", domaudit.Allowed, v.Number(), "")
	log.Info("download granted",
		zap.String("document_id", documentID), zap.Int("version", v.Number()), zap.String("principal", principal))
	return DownloadTicket{
		DocumentID: documentID,
		Version:    v.Number(),
		Filename:   content.Filename,
		MimeType:   content.MimeType,
		Size:       content.Size,
		Digest:     content.Digest,
		URL:        url,
		ExpiresAt:  s.now().Add(s.presignTTL),
	}, nil
}

// PerformDocumentSearch runs a ranked search restricted to what principal
// may view at the time of the call.
func (s *Service) PerformDocumentSearch(
	ctx context.Context, principal string, req request.Request,
) (result.Page, error) {
	subject, err := s.eval.Subject(ctx, principal)
	if err != nil {
		return result.Page{}, err
	}
	page, err := s.index.Page(ctx, subject, req.WithLimitCap(s.maxPageSize))
	if err != nil {
		return result.Page{}, fmt.Errorf("search: %w", err)
	}
	return page, nil
}

// Grants lists the grant in force per grantee. Requires manage.
func (s *Service) Grants(ctx context.Context, principal, documentID string) ([]access.Grant, error) {
	if err := s.require(ctx, principal, documentID, access.ActionManage); err != nil {
		return nil, err
	}
	return s.eval.Grants(ctx, documentID)
}

// Signatures lists the signatures recorded on a document. Requires view.
func (s *Service) Signatures(ctx context.Context, principal, documentID string) ([]domdoc.Signature, error) {
	if err := s.require(ctx, principal, documentID, access.ActionView); err != nil {
		return nil, err
	}
	sigs, err := s.signatures.List(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("list signatures: %w", err)
	}
	return sigs, nil
}

// AccessLog returns the newest access decisions on a document. Requires manage.
func (s *Service) AccessLog(ctx context.Context, principal, documentID string, limit int) ([]domaudit.Entry, error) {
	if err := s.require(ctx, principal, documentID, access.ActionManage); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > DefaultAccessLogLimit {
		limit = DefaultAccessLogLimit
	}
	entries, err := s.audit.Recent(ctx, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("read access log: %w", err)
	}
	return entries, nil
}

// AwaitIndexed blocks until every accepted mutation has reached the index.
func (s *Service) AwaitIndexed(ctx context.Context) error {
	return s.propagator.WaitIdle(ctx)
}

// require checks action for a read and logs view denials to the access log.
func (s *Service) require(ctx context.Context, principal, documentID string, action access.Action) error {
	ok, err := s.eval.CheckPermission(ctx, principal, documentID, action)
	if err != nil {
		return err
	}
	if !ok {
		s.record(ctx, documentID, principal, string(action), domaudit.Denied, 0, "")
		return fmt.Errorf("%s of %s: %w", action, documentID, domain.ErrDenied)
	}
	return nil
}

func (s *Service) record(
	ctx context.Context, documentID, principal, action string, decision domaudit.Decision, version int, detail string,
) {
	err := s.audit.Append(ctx, domaudit.Entry{
		DocumentID: documentID, Principal: principal, Action: action,
		Decision: decision, Version: version, Detail: detail, At: s.now(),
	})
	if err != nil {
		logger.FromContext(ctx).Warn("access log append failed",
			zap.String("document_id", documentID), zap.String("action", action), zap.Error(err))
	}
}

// Package chi is the HTTP edge of docvault: it resolves the calling
// principal, decodes requests for the document facade and maps domain
// errors onto status codes.
package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	gochi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rfpdesk/docvault/internal/domain"
	"github.com/rfpdesk/docvault/internal/domain/access"
	dombatch "github.com/rfpdesk/docvault/internal/domain/batch"
	domdoc "github.com/rfpdesk/docvault/internal/domain/document"
	batchuc "github.com/rfpdesk/docvault/internal/usecase/batch"
	documentuc "github.com/rfpdesk/docvault/internal/usecase/document"
	healthuc "github.com/rfpdesk/docvault/internal/usecase/health"
)

// Headers carrying upload metadata next to a raw body.
const (
	HeaderFilename     = "X-Filename"
	HeaderDocumentType = "X-Document-Type"
	HeaderVersionNotes = "X-Version-Notes"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxJSONBody      = 8 << 20
)

// Server serves the document API.
type Server struct {
	documents     *documentuc.Service
	batch         *batchuc.Service
	health        *healthuc.Service
	logger        *zap.Logger
	maxUploadSize int64
	maxBulkBody   int64
	pageSize      int
}

// NewServer creates an HTTP API server.
func NewServer(
	documents *documentuc.Service,
	batch *batchuc.Service,
	health *healthuc.Service,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		documents:     documents,
		batch:         batch,
		health:        health,
		logger:        logger,
		maxUploadSize: documentuc.DefaultMaxContentSize,
		maxBulkBody:   256 << 20,
	}
}

// WithMaxUploadSize limits raw upload bodies.
func (s *Server) WithMaxUploadSize(n int64) *Server {
	if n > 0 {
		s.maxUploadSize = n
	}
	return s
}

// WithDefaultPageSize sets the search page size used when a request names none.
func (s *Server) WithDefaultPageSize(n int) *Server {
	s.pageSize = n
	return s
}

// Routes registers every endpoint on r.
func (s *Server) Routes(r gochi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)

	r.Post("/search", s.SearchDocuments)
	r.Route("/rfps/{rfp}", func(r gochi.Router) {
		r.Post("/documents", s.CreateDocument)
		r.Post("/bulk", s.BulkUpload)
	})
	r.Route("/documents/{id}", func(r gochi.Router) {
		r.Get("/", s.GetDocument)
		r.Delete("/", s.DeleteDocument)
		r.Post("/versions", s.CreateVersion)
		r.Get("/versions", s.ListVersions)
		r.Get("/versions/{version}", s.GetVersion)
		r.Get("/versions/{version}/download", s.Download)
		r.Post("/versions/{version}/signatures", s.SignVersion)
		r.Get("/signatures", s.ListSignatures)
		r.Get("/grants", s.ListGrants)
		r.Put("/grants/{kind}/{grantee}", s.GrantAccess)
		r.Delete("/grants/{kind}/{grantee}", s.RevokeAccess)
		r.Get("/access-log", s.AccessLog)
	})
}

// CreateDocument handles POST /rfps/{rfp}/documents.
func (s *Server) CreateDocument(w http.ResponseWriter, r *http.Request) {
	data, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	doc, v, err := s.documents.CreateDocument(r.Context(), PrincipalFromContext(r.Context()), documentuc.NewDocument{
		RFPID:        gochi.URLParam(r, "rfp"),
		Filename:     r.Header.Get(HeaderFilename),
		DocumentType: r.Header.Get(HeaderDocumentType),
		MimeType:     r.Header.Get("Content-Type"),
		Notes:        r.Header.Get(HeaderVersionNotes),
		Data:         data,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/documents/"+doc.ID())
	writeJSON(w, http.StatusCreated, createDocumentResponse{
		Document: documentToResponse(&doc),
		Version:  versionToResponse(&v),
	})
}

// GetDocument handles GET /documents/{id}.
func (s *Server) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.documents.GetDocumentByID(r.Context(), PrincipalFromContext(r.Context()), gochi.URLParam(r, "id"))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.Header().Set("ETag", strconv.Quote(strconv.Itoa(doc.Head())))
	writeJSON(w, http.StatusOK, documentToResponse(&doc))
}

// DeleteDocument handles DELETE /documents/{id}.
func (s *Server) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	marker, err := s.documents.DeleteDocument(r.Context(), PrincipalFromContext(r.Context()), gochi.URLParam(r, "id"))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, versionToResponse(&marker))
}

// CreateVersion handles POST /documents/{id}/versions.
func (s *Server) CreateVersion(w http.ResponseWriter, r *http.Request) {
	data, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	v, err := s.documents.CreateVersion(r.Context(), PrincipalFromContext(r.Context()), gochi.URLParam(r, "id"),
		documentuc.NewVersion{
			Filename: r.Header.Get(HeaderFilename),
			MimeType: r.Header.Get("Content-Type"),
			Notes:    r.Header.Get(HeaderVersionNotes),
			Data:     data,
		})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/documents/%s/versions/%d", v.DocumentID(), v.Number()))
	writeJSON(w, http.StatusCreated, versionToResponse(&v))
}

// ListVersions handles GET /documents/{id}/versions?after=&limit=.
// next_after resumes the listing where this page stopped.
func (s *Server) ListVersions(w http.ResponseWriter, r *http.Request) {
	after, err := queryInt(r, "after", 0)
	if err != nil || after < 0 {
		writeError(w, http.StatusBadRequest, codeBadRequest, "after must be a non-negative integer")
		return
	}
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil || limit <= 0 || limit > maxListLimit {
		writeError(w, http.StatusBadRequest, codeBadRequest,
			fmt.Sprintf("limit must be between 1 and %d", maxListLimit))
		return
	}

	seq, err := s.documents.ListVersions(r.Context(), PrincipalFromContext(r.Context()), gochi.URLParam(r, "id"), after)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	resp := versionListResponse{Items: make([]versionResponse, 0, min(limit, defaultListLimit))}
	for v, err := range seq {
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		if len(resp.Items) == limit {
			resp.HasMore = true
			break
		}
		resp.Items = append(resp.Items, versionToResponse(&v))
	}
	if resp.HasMore {
		resp.NextAfter = resp.Items[len(resp.Items)-1].Number
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetVersion handles GET /documents/{id}/versions/{version}.
func (s *Server) GetVersion(w http.ResponseWriter, r *http.Request) {
	sel, err := domdoc.ParseSelector(gochi.URLParam(r, "version"))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	v, err := s.documents.GetVersion(r.Context(), PrincipalFromContext(r.Context()), gochi.URLParam(r, "id"), sel)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, versionToResponse(&v))
}

// Download handles GET /documents/{id}/versions/{version}/download.
// With ?redirect=true the caller is sent straight to the signed URL.
func (s *Server) Download(w http.ResponseWriter, r *http.Request) {
	sel, err := domdoc.ParseSelector(gochi.URLParam(r, "version"))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	ticket, err := s.documents.CheckDownloadPermission(
		r.Context(), PrincipalFromContext(r.Context()), gochi.URLParam(r, "id"), sel)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if r.URL.Query().Get("redirect") == "true" {
		http.Redirect(w, r, ticket.URL, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, ticketToResponse(ticket))
}

// SignVersion handles POST /documents/{id}/versions/{version}/signatures.
func (s *Server) SignVersion(w http.ResponseWriter, r *http.Request) {
	sel, err := domdoc.ParseSelector(gochi.URLParam(r, "version"))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	var req signRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	sig, err := s.documents.SignVersion(r.Context(), PrincipalFromContext(r.Context()), gochi.URLParam(r, "id"),
		sel, req.SignatureData)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, signatureToResponse(&sig))
}

// ListSignatures handles GET /documents/{id}/signatures.
func (s *Server) ListSignatures(w http.ResponseWriter, r *http.Request) {
	sigs, err := s.documents.Signatures(r.Context(), PrincipalFromContext(r.Context()), gochi.URLParam(r, "id"))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	resp := signatureListResponse{Items: make([]signatureResponse, len(sigs))}
	for i := range sigs {
		resp.Items[i] = signatureToResponse(&sigs[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListGrants handles GET /documents/{id}/grants.
func (s *Server) ListGrants(w http.ResponseWriter, r *http.Request) {
	grants, err := s.documents.Grants(r.Context(), PrincipalFromContext(r.Context()), gochi.URLParam(r, "id"))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	resp := grantListResponse{Items: make([]grantResponse, len(grants))}
	for i, g := range grants {
		resp.Items[i] = grantToResponse(g)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GrantAccess handles PUT /documents/{id}/grants/{kind}/{grantee}.
func (s *Server) GrantAccess(w http.ResponseWriter, r *http.Request) {
	grantee, ok := granteeParam(w, r)
	if !ok {
		return
	}
	var req grantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	var expiresAt time.Time
	if req.ExpiresAt != nil {
		expiresAt = *req.ExpiresAt
	}
	g, err := s.documents.GrantAccess(r.Context(), PrincipalFromContext(r.Context()), gochi.URLParam(r, "id"),
		grantee, req.Level, expiresAt)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grantToResponse(g))
}

// RevokeAccess handles DELETE /documents/{id}/grants/{kind}/{grantee}.
func (s *Server) RevokeAccess(w http.ResponseWriter, r *http.Request) {
	grantee, ok := granteeParam(w, r)
	if !ok {
		return
	}
	g, err := s.documents.RevokeAccess(r.Context(), PrincipalFromContext(r.Context()), gochi.URLParam(r, "id"), grantee)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grantToResponse(g))
}

// AccessLog handles GET /documents/{id}/access-log?limit=.
func (s *Server) AccessLog(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", documentuc.DefaultAccessLogLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "limit must be an integer")
		return
	}
	entries, err := s.documents.AccessLog(r.Context(), PrincipalFromContext(r.Context()), gochi.URLParam(r, "id"), limit)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accessLogResponse{Items: entries})
}

// SearchDocuments handles POST /search.
func (s *Server) SearchDocuments(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Limit == 0 {
		req.Limit = s.pageSize
	}
	searchReq, err := searchRequestFromDTO(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	page, err := s.documents.PerformDocumentSearch(r.Context(), PrincipalFromContext(r.Context()), searchReq)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	resp := searchResponse{
		Items:   make([]searchResultItem, len(page.Results)),
		HasMore: page.HasMore,
	}
	for i := range page.Results {
		resp.Items[i] = searchResultToResponse(&page.Results[i])
	}
	if page.HasMore {
		resp.NextOffset = page.NextOffset
	}
	writeJSON(w, http.StatusOK, resp)
}

// BulkUpload handles POST /rfps/{rfp}/bulk.
func (s *Server) BulkUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBulkBody)
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, codeValidation, "items must not be empty")
		return
	}

	items := make([]batchuc.Item, len(req.Items))
	for i, it := range req.Items {
		items[i] = batchuc.Item{
			Filename:     it.Filename,
			DocumentType: it.DocumentType,
			MimeType:     it.MimeType,
			Notes:        it.Notes,
			Data:         it.Data,
		}
	}
	results := s.batch.Upload(r.Context(), PrincipalFromContext(r.Context()), gochi.URLParam(r, "rfp"), items)

	resp := bulkResponse{Items: make([]bulkResultItem, len(results))}
	for i, res := range results {
		resp.Items[i] = batchResultToResponse(res)
	}
	resp.Succeeded, resp.Failed = dombatch.Summary(results)
	writeJSON(w, http.StatusOK, resp)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}
	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, healthResponse{Status: string(report.Status), Checks: checks})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// readUpload reads a raw upload body within the size limit. It writes the
// error response itself and reports whether the caller may continue.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUploadSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, codeValidation,
				fmt.Sprintf("content exceeds %d bytes", s.maxUploadSize))
			return nil, false
		}
		writeError(w, http.StatusBadRequest, codeBadRequest, "read body: "+err.Error())
		return nil, false
	}
	return data, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func granteeParam(w http.ResponseWriter, r *http.Request) (access.Grantee, bool) {
	g := access.Grantee{
		Kind: access.GranteeKind(gochi.URLParam(r, "kind")),
		ID:   gochi.URLParam(r, "grantee"),
	}
	if err := g.Validate(); err != nil {
		handleDomainError(w, r, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err))
		return access.Grantee{}, false
	}
	return g, true
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

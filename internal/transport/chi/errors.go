package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/rfpdesk/docvault/internal/domain"
	"github.com/rfpdesk/docvault/internal/logger"
)

// Error codes returned in error bodies.
const (
	codeBadRequest         = "bad_request"
	codeUnauthorized       = "unauthorized"
	codeNotFound           = "not_found"
	codeDenied             = "access_denied"
	codeConflict           = "conflict"
	codeEvaluation         = "permission_evaluation_failed"
	codeValidation         = "validation_failed"
	codeUnsupportedContent = "unsupported_content"
	codeRateLimited        = "rate_limited"
	codeInternal           = "internal_error"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

var errorHandlers = []errorHandler{
	evaluationHandler,
	sentinelHandler(domain.ErrNotFound, http.StatusNotFound, codeNotFound),
	sentinelHandler(domain.ErrDenied, http.StatusForbidden, codeDenied),
	sentinelHandler(domain.ErrConflict, http.StatusConflict, codeConflict),
	sentinelHandler(domain.ErrInvalidInput, http.StatusBadRequest, codeValidation),
	sentinelHandler(domain.ErrUnsupportedContent, http.StatusUnsupportedMediaType, codeUnsupportedContent),
	sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, codeRateLimited),
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrDocumentNotFound,
		domain.ErrVersionNotFound,
		domain.ErrNotFound,
		domain.ErrDenied,
		domain.ErrDocumentDeleted,
		domain.ErrConflict,
		domain.ErrEvaluation,
		domain.ErrUnsupportedContent,
		domain.ErrRateLimited,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	if errors.Is(err, domain.ErrInvalidInput) {
		// Validation messages are written for the caller.
		return err.Error()
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, safeDomainMessage(err))
		return true
	}
}

// evaluationHandler reports an undecidable permission check as retryable.
func evaluationHandler(w http.ResponseWriter, err error) bool {
	if !errors.Is(err, domain.ErrEvaluation) {
		return false
	}
	w.Header().Set("Retry-After", "1")
	writeError(w, http.StatusServiceUnavailable, codeEvaluation, safeDomainMessage(err))
	return true
}

func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())
	for _, h := range errorHandlers {
		if h(w, err) {
			if !errors.Is(err, domain.ErrDenied) {
				log.Warn("domain error", zap.Error(err))
			}
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-mfg/internal/platform/docstore"
)

// Sentinel errors shared by handlers.
var (
	ErrNotFound    = errors.New("resource not found")
	ErrConflict    = errors.New("conflicting update")
	ErrValidation  = errors.New("validation failed")
	ErrUnavailable = errors.New("service unavailable")
)

// RespondError maps generic and store errors to RFC7807 responses. Domain
// handlers translate their own errors first and fall back to this.
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, docstore.ErrNotFound):
		Problem(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, ErrConflict), errors.Is(err, docstore.ErrDuplicate):
		Problem(w, r, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, docstore.ErrInvalidPath):
		Problem(w, r, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, ErrUnavailable), errors.Is(err, docstore.ErrUnavailable):
		Problem(w, r, http.StatusServiceUnavailable, "store_unavailable", "backing store unavailable")
	default:
		Problem(w, r, http.StatusInternalServerError, "internal_error", "")
	}
}

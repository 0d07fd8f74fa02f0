// Package errors maps pipeline errors onto the API's stable JSON error
// envelope.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/costscope/costscope/pkg/locker"
	"github.com/costscope/costscope/pkg/pipeline"
	"github.com/costscope/costscope/pkg/runstore"
)

// HTTPErrorResponse is the wire shape of every API error.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// HTTPError carries a stable machine-readable code plus a human message.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Stable error codes returned by the API.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeStageFailed        = "STAGE_FAILED"
	CodeLockTimeout        = "LOCK_TIMEOUT"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternal           = "INTERNAL_ERROR"
)

// WriteError writes the envelope with the given status and code.
func WriteError(w http.ResponseWriter, status int, code, message, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{
		Error: HTTPError{Code: code, Message: message, RequestID: requestID},
	})
}

// RespondWithError classifies err per the pipeline taxonomy and writes the
// matching envelope. Lock timeouts are surfaced as retryable (429).
func RespondWithError(w http.ResponseWriter, requestID string, err error) {
	var verr *pipeline.ValidationError
	var eerr *pipeline.ExecutionError

	switch {
	case errors.Is(err, runstore.ErrJobNotFound):
		WriteError(w, http.StatusNotFound, CodeNotFound, err.Error(), requestID)
	case errors.Is(err, pipeline.ErrInvalidTransition):
		WriteError(w, http.StatusConflict, CodeInvalidTransition, err.Error(), requestID)
	case errors.Is(err, locker.ErrLockTimeout):
		WriteError(w, http.StatusTooManyRequests, CodeLockTimeout, err.Error(), requestID)
	case errors.As(err, &verr):
		WriteError(w, http.StatusUnprocessableEntity, CodeValidationFailed, err.Error(), requestID)
	case errors.As(err, &eerr):
		WriteError(w, http.StatusBadGateway, CodeStageFailed, err.Error(), requestID)
	default:
		WriteError(w, http.StatusInternalServerError, CodeInternal, err.Error(), requestID)
	}
}

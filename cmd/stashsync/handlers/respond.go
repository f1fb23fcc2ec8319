// Package handlers provides the REST API served by `stashsync serve`.
package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/kimhsiao/stashsync/internal/errors"
	"github.com/kimhsiao/stashsync/internal/logging"
)

// maxRequestBytes bounds JSON request bodies.
const maxRequestBytes = 1 << 20

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("Failed to write response", map[string]interface{}{"error": err.Error()})
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}

// respondAppError maps err to a status by its error code.
func respondAppError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrValidation, apperrors.ErrInvalid:
		status = http.StatusBadRequest
	case apperrors.ErrNotFound, apperrors.ErrItemNotFound, apperrors.ErrPromptNotFound,
		apperrors.ErrLabelNotFound, apperrors.ErrQueueNotFound:
		status = http.StatusNotFound
	case apperrors.ErrDuplicate, apperrors.ErrSyncInProgress:
		status = http.StatusConflict
	case apperrors.ErrSyncNotConfigured:
		status = http.StatusPreconditionFailed
	}
	if status == http.StatusInternalServerError {
		logging.ErrorWithCode("Request failed", string(code), err)
	}
	respondJSON(w, status, ErrorResponse{Error: err.Error(), Code: string(code)})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

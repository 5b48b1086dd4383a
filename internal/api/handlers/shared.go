package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/api/response"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/apperrors"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/model"
)

// maxBodyBytes bounds request bodies; every body this API accepts is tiny.
const maxBodyBytes = 64 << 10

// respondJSON sends a JSON response with the given status code
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("Failed to encode JSON: %v", err)
		}
	}
}

// parseJSON decodes the request body into T, rejecting unknown fields and trailing data.
func parseJSON[T any](r *http.Request) (T, error) {
	var v T
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&v); err != nil {
		return v, fmt.Errorf("failed to decode request body: %w", err)
	}
	if dec.More() {
		return v, errors.New("request body must contain a single JSON object")
	}
	return v, nil
}

// statusForCode maps an outcome error code onto an HTTP status.
func statusForCode(code model.ErrorCode) int {
	switch code {
	case model.ErrorCodeNetwork:
		return http.StatusServiceUnavailable
	case model.ErrorCodeProtocol:
		return http.StatusBadGateway
	case model.ErrorCodeSyncInProgress, model.ErrorCodeLinkInProgress:
		return http.StatusConflict
	case model.ErrorCodeAuthRejected, model.ErrorCodeReauthRequired, model.ErrorCodeCredentialsUnusable:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// respondAccountError writes the response for an error from an account lookup.
// Unknown accounts and accounts of other users both answer 404.
func respondAccountError(w http.ResponseWriter, failure error, err error) {
	switch {
	case errors.Is(err, apperrors.ErrLinkedAccountNotFound):
		response.RespondError(w, http.StatusNotFound, apperrors.ErrLinkedAccountNotFound.Error(), "")
	case errors.Is(err, apperrors.ErrInvalidUserID), errors.Is(err, apperrors.ErrInvalidAccountID):
		response.RespondError(w, http.StatusBadRequest, err.Error(), "")
	default:
		log.Printf("%v: %v", failure, err)
		response.RespondError(w, http.StatusInternalServerError, failure.Error(), "")
	}
}

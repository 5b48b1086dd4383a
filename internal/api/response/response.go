// Package response writes JSON success and error bodies in one consistent shape.
package response

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
)

// ErrorResponse is the body of every non-2xx answer that is not an outcome.
// Details holds a string, or a field-to-message map for validation failures.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

// RespondJSON writes data as JSON. A nil data writes only the status.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("failed to encode JSON response: %v", err)
		}
	}
}

// RespondError sends a structured error response with the given status code.
//
// Example:
//
//	response.RespondError(w, http.StatusNotFound, "linked account not found", "")
func RespondError(w http.ResponseWriter, status int, message string, details interface{}) {
	if s, ok := details.(string); ok && s == "" {
		details = nil
	}
	RespondJSON(w, status, ErrorResponse{Error: message, Details: details})
}

// fieldErrors is implemented by validation errors that name offending fields.
type fieldErrors interface {
	FieldErrors() map[string]string
}

// RespondValidationError answers 400 Bad Request. Field errors are returned as
// a map so clients can attach them to form inputs.
func RespondValidationError(w http.ResponseWriter, err error) {
	var fe fieldErrors
	if errors.As(err, &fe) {
		RespondError(w, http.StatusBadRequest, "validation failed", fe.FieldErrors())
		return
	}
	RespondError(w, http.StatusBadRequest, "validation failed", err.Error())
}

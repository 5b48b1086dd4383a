package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubFieldError map[string]string

func (s stubFieldError) Error() string                  { return "invalid" }
func (s stubFieldError) FieldErrors() map[string]string { return s }

func TestRespondValidationError(t *testing.T) {
	t.Run("returns field errors as a map", func(t *testing.T) {
		w := httptest.NewRecorder()

		RespondValidationError(w, stubFieldError{"password": "password is required"})

		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}
		var body struct {
			Error   string            `json:"error"`
			Details map[string]string `json:"details"`
		}
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if body.Details["password"] != "password is required" {
			t.Errorf("Expected password field error, got %v", body.Details)
		}
	})

	t.Run("falls back to the error text", func(t *testing.T) {
		w := httptest.NewRecorder()

		RespondValidationError(w, errors.New("bad input"))

		var body ErrorResponse
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if body.Details != "bad input" {
			t.Errorf("Expected details 'bad input', got %v", body.Details)
		}
	})
}

func TestRespondError(t *testing.T) {
	w := httptest.NewRecorder()

	RespondError(w, http.StatusNotFound, "linked account not found", "")

	if w.Body.String() != "{\"error\":\"linked account not found\"}\n" {
		t.Errorf("Expected empty details to be omitted, got %s", w.Body.String())
	}
}

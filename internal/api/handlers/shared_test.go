package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/api/request"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/apperrors"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/model"
)

// TestRespondJSON tests the respondJSON helper function.
// This is an internal test (package handlers, not handlers_test) because
// respondJSON is unexported.
func TestRespondJSON(t *testing.T) {
	t.Run("sets content-type and status code", func(t *testing.T) {
		w := httptest.NewRecorder()

		respondJSON(w, http.StatusAccepted, map[string]string{"status": "mfa_required"})

		if w.Code != http.StatusAccepted {
			t.Errorf("Expected status 202, got %d", w.Code)
		}
		if w.Header().Get("Content-Type") != "application/json" {
			t.Errorf("Expected Content-Type 'application/json', got '%s'", w.Header().Get("Content-Type"))
		}
	})

	t.Run("writes no body for nil data", func(t *testing.T) {
		w := httptest.NewRecorder()

		respondJSON(w, http.StatusNoContent, nil)

		if w.Body.Len() != 0 {
			t.Errorf("Expected empty body, got %q", w.Body.String())
		}
	})

	t.Run("keeps the status when encoding fails", func(t *testing.T) {
		w := httptest.NewRecorder()

		respondJSON(w, http.StatusOK, map[string]any{"channel": make(chan int)})

		if w.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", w.Code)
		}
	})
}

func TestParseJSON(t *testing.T) {
	parse := func(body string) (request.SubmitMFARequest, error) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		return parseJSON[request.SubmitMFARequest](r)
	}

	t.Run("decodes a single object", func(t *testing.T) {
		req, err := parse(`{"code":"123456"}`)
		if err != nil {
			t.Fatalf("parseJSON() returned unexpected error: %v", err)
		}
		if req.Code != "123456" {
			t.Errorf("Expected code 123456, got %q", req.Code)
		}
	})

	for name, body := range map[string]string{
		"unknown field":  `{"code":"123456","extra":1}`,
		"trailing data":  `{"code":"123456"}{"code":"654321"}`,
		"oversized body": `{"code":"` + strings.Repeat("1", maxBodyBytes) + `"}`,
		"empty body":     ``,
	} {
		t.Run("rejects "+name, func(t *testing.T) {
			if _, err := parse(body); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestStatusForCode(t *testing.T) {
	tests := []struct {
		code model.ErrorCode
		want int
	}{
		{model.ErrorCodeNetwork, http.StatusServiceUnavailable},
		{model.ErrorCodeProtocol, http.StatusBadGateway},
		{model.ErrorCodeSyncInProgress, http.StatusConflict},
		{model.ErrorCodeLinkInProgress, http.StatusConflict},
		{model.ErrorCodeAuthRejected, http.StatusUnprocessableEntity},
		{model.ErrorCodeReauthRequired, http.StatusUnprocessableEntity},
		{model.ErrorCodeCredentialsUnusable, http.StatusUnprocessableEntity},
		{model.ErrorCodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusForCode(tt.code); got != tt.want {
			t.Errorf("statusForCode(%s) = %d, expected %d", tt.code, got, tt.want)
		}
	}
}

func TestRespondAccountError(t *testing.T) {
	failure := apperrors.ErrFailedToRetrieveAccounts

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("lookup: %w", apperrors.ErrLinkedAccountNotFound), http.StatusNotFound},
		{"missing user", apperrors.ErrInvalidUserID, http.StatusBadRequest},
		{"missing account", apperrors.ErrInvalidAccountID, http.StatusBadRequest},
		{"storage failure", errors.New("disk I/O error"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			respondAccountError(w, failure, tt.err)

			if w.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, w.Code)
			}
			if tt.want == http.StatusInternalServerError && strings.Contains(w.Body.String(), "disk") {
				t.Error("Expected internal error details to stay out of the response")
			}
		})
	}
}

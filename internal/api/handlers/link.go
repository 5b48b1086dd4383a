package handlers

import (
	"net/http"
	"strings"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/api/middleware"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/api/request"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/api/response"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/model"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/service"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/validation"
)

// LinkHandler handles HTTP requests for linking brokerage accounts.
type LinkHandler struct {
	linkService *service.LinkService
}

// NewLinkHandler creates a new LinkHandler with the provided service dependency.
func NewLinkHandler(linkService *service.LinkService) *LinkHandler {
	return &LinkHandler{
		linkService: linkService,
	}
}

// LinkAccount handles POST requests to link a brokerage account.
// A push challenge is resolved within the request, so it may take up to the
// configured push timeout to answer.
//
// Endpoint: POST /api/link
// Request Body: LinkAccountRequest (username, password, optional mfaCode)
// Response: 200 OK with LinkOutcome when linked
// Response: 202 Accepted with LinkOutcome when an sms/app code is required
// Error: 400 Bad Request if validation fails or request body is invalid
// Error: 422 Unprocessable Entity if the brokerage rejected the login
// Error: 409/502/503/500 with LinkOutcome when the attempt could not complete
func (h *LinkHandler) LinkAccount(w http.ResponseWriter, r *http.Request) {
	req, err := parseJSON[request.LinkAccountRequest](r)
	if err != nil {
		response.RespondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if err := validation.ValidateLinkAccount(req); err != nil {
		response.RespondValidationError(w, err)
		return
	}

	outcome := h.linkService.LinkAccount(r.Context(), middleware.UserID(r.Context()), service.LinkCredentials{
		Username: strings.TrimSpace(req.Username),
		Password: req.Password,
		MFACode:  req.MFACode,
	})
	respondJSON(w, statusForLink(outcome), outcome)
}

// SubmitMFA handles POST requests answering the user's pending sms/app challenge.
//
// Endpoint: POST /api/link/mfa
// Request Body: SubmitMFARequest (code)
// Response: 200 OK with LinkOutcome when linked
// Response: 202 Accepted with LinkOutcome when the code was wrong and one more try remains
// Error: 400 Bad Request if the code is not 6 digits
// Error: 422 Unprocessable Entity if the challenge was rejected or has expired
func (h *LinkHandler) SubmitMFA(w http.ResponseWriter, r *http.Request) {
	req, err := parseJSON[request.SubmitMFARequest](r)
	if err != nil {
		response.RespondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	req.Code = strings.TrimSpace(req.Code)

	if err := validation.ValidateSubmitMFA(req); err != nil {
		response.RespondValidationError(w, err)
		return
	}

	outcome := h.linkService.SubmitMFACode(r.Context(), middleware.UserID(r.Context()), req.Code)
	respondJSON(w, statusForLink(outcome), outcome)
}

func statusForLink(outcome model.LinkOutcome) int {
	switch outcome.Status {
	case model.LinkStatusLinked:
		return http.StatusOK
	case model.LinkStatusMFARequired:
		return http.StatusAccepted
	case model.LinkStatusRejected:
		if outcome.Code == model.ErrorCodeNetwork {
			return http.StatusServiceUnavailable
		}
		return http.StatusUnprocessableEntity
	default:
		return statusForCode(outcome.Code)
	}
}

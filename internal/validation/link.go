package validation

import (
	"strings"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/api/request"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/broker"
)

// maxCredentialLength bounds username and password so oversized bodies never reach the broker.
const maxCredentialLength = 256

// ValidateLinkAccount validates a link request.
//
// Required fields:
//   - username: non-empty
//   - password: non-empty
//
// Optional fields (validated if provided):
//   - mfaCode: 6 digits
func ValidateLinkAccount(req request.LinkAccountRequest) error {
	errors := make(map[string]string)

	switch {
	case strings.TrimSpace(req.Username) == "":
		errors["username"] = "username is required"
	case len(req.Username) > maxCredentialLength:
		errors["username"] = "username is too long"
	}

	switch {
	case req.Password == "":
		errors["password"] = "password is required"
	case len(req.Password) > maxCredentialLength:
		errors["password"] = "password is too long"
	}

	if req.MFACode != "" && !broker.ValidCode(req.MFACode) {
		errors["mfaCode"] = "mfaCode must be 6 digits"
	}

	if len(errors) > 0 {
		return &Error{Fields: errors}
	}
	return nil
}

// ValidateSubmitMFA validates an MFA code submission.
func ValidateSubmitMFA(req request.SubmitMFARequest) error {
	if !broker.ValidCode(strings.TrimSpace(req.Code)) {
		return &Error{Fields: map[string]string{"code": "code must be 6 digits"}}
	}
	return nil
}

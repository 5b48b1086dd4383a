package request

// LinkAccountRequest starts linking a brokerage account.
// MFACode may be sent up front when the user already has an sms/app code.
type LinkAccountRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	MFACode  string `json:"mfaCode,omitempty"`
}

// SubmitMFARequest answers a pending sms/app challenge.
type SubmitMFARequest struct {
	Code string `json:"code"`
}

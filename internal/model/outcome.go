package model

import "time"

// LinkStatus is the caller-facing result of a link request.
type LinkStatus string

const (
	LinkStatusLinked      LinkStatus = "linked"
	LinkStatusMFARequired LinkStatus = "mfa_required"
	LinkStatusRejected    LinkStatus = "rejected"
	LinkStatusFailed      LinkStatus = "failed"
)

// LinkOutcome is returned by every link operation instead of an error.
type LinkOutcome struct {
	Status            LinkStatus     `json:"status"`
	Account           *LinkedAccount `json:"account,omitempty"`
	ChallengeType     string         `json:"challengeType,omitempty"`
	AttemptsRemaining int            `json:"attemptsRemaining,omitempty"`
	Reason            string         `json:"reason,omitempty"`
	Code              ErrorCode      `json:"code,omitempty"`
	Message           string         `json:"message,omitempty"`
}

// SyncStatusResult is the caller-facing result of a sync request.
type SyncStatusResult string

const (
	SyncResultSuccess    SyncStatusResult = "success"
	SyncResultFailed     SyncStatusResult = "failed"
	SyncResultInProgress SyncStatusResult = "in_progress"
)

// SyncOutcome reports what a sync changed.
type SyncOutcome struct {
	AccountID    string           `json:"accountId"`
	Status       SyncStatusResult `json:"status"`
	Created      int              `json:"created"`
	Updated      int              `json:"updated"`
	Unchanged    int              `json:"unchanged"`
	Closed       int              `json:"closed"`
	Transactions int              `json:"transactions"`
	SyncedAt     *time.Time       `json:"syncedAt,omitempty"`
	Code         ErrorCode        `json:"code,omitempty"`
	Message      string           `json:"message,omitempty"`
}

// Rejection reasons surfaced in LinkOutcome.Reason.
const (
	ReasonBadCredentials = "bad_credentials"
	ReasonInvalidCode    = "invalid_code"
	ReasonDenied         = "denied"
	ReasonTimeout        = "timeout"
	ReasonExpired        = "expired"
	ReasonCancelled      = "cancelled"
	ReasonUnknown        = "unknown"
)

var reasonMessages = map[string]string{
	ReasonBadCredentials: "The brokerage did not accept these credentials. Check your username and password.",
	ReasonInvalidCode:    "The verification code was not accepted. Try again.",
	ReasonDenied:         "The login was denied in the brokerage app.",
	ReasonTimeout:        "The login was not approved in time. Try again.",
	ReasonExpired:        "The verification window expired. Start the link again.",
	ReasonCancelled:      "The link attempt was cancelled.",
	ReasonUnknown:        "The brokerage returned an unexpected response. Try again later.",
}

var codeMessages = map[ErrorCode]string{
	ErrorCodeAuthRejected:        "The brokerage rejected the stored credentials. Re-link the account.",
	ErrorCodeNetwork:             "The brokerage could not be reached. Try again shortly.",
	ErrorCodeProtocol:            "The brokerage returned an unexpected response. Try again later.",
	ErrorCodeCredentialsUnusable: "Stored credentials can no longer be read. Re-link the account.",
	ErrorCodeReauthRequired:      "The brokerage requires verification. Re-link the account.",
	ErrorCodeSyncInProgress:      "A sync is already running for this account. Try again shortly.",
	ErrorCodeLinkInProgress:      "A link attempt is already being processed. Try again shortly.",
	ErrorCodeInternal:            "Something went wrong. Try again later.",
}

// MessageForReason returns the user-facing text for a rejection reason.
func MessageForReason(reason string) string {
	if msg, ok := reasonMessages[reason]; ok {
		return msg
	}
	return reasonMessages[ReasonUnknown]
}

// MessageFor returns the user-facing text for an error code. Broker error text
// is never shown to users.
func MessageFor(code ErrorCode) string {
	if msg, ok := codeMessages[code]; ok {
		return msg
	}
	return codeMessages[ErrorCodeInternal]
}

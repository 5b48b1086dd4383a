package model

import "time"

// AccountType is the brokerage account category.
type AccountType string

const (
	AccountTypeCash   AccountType = "cash"
	AccountTypeMargin AccountType = "margin"
	// AccountTypeGold is the premium margin tier.
	AccountTypeGold AccountType = "gold"
)

// MFAType records which second factor the account was linked with.
type MFAType string

const (
	MFANone MFAType = "none"
	MFASMS  MFAType = "sms"
	MFAApp  MFAType = "app"
	MFAPush MFAType = "push"
)

// SyncStatus is the outcome of the most recent sync or link attempt.
type SyncStatus string

const (
	SyncStatusNeverSynced SyncStatus = "never_synced"
	SyncStatusSuccess     SyncStatus = "success"
	SyncStatusPending     SyncStatus = "pending"
	SyncStatusFailed      SyncStatus = "failed"
)

// ErrorCode distinguishes why an account is in the failed state.
type ErrorCode string

const (
	ErrorCodeAuthRejected        ErrorCode = "auth_rejected"
	ErrorCodeNetwork             ErrorCode = "network"
	ErrorCodeProtocol            ErrorCode = "protocol"
	ErrorCodeCredentialsUnusable ErrorCode = "credentials_unusable"
	ErrorCodeReauthRequired      ErrorCode = "reauth_required"
	ErrorCodeSyncInProgress      ErrorCode = "sync_in_progress"
	ErrorCodeLinkInProgress      ErrorCode = "link_in_progress"
	ErrorCodeInternal            ErrorCode = "internal"
)

// LinkedAccount represents one authenticated connection to a brokerage account.
// Encrypted fields are never serialized.
type LinkedAccount struct {
	ID                   string      `json:"id"`
	UserID               string      `json:"userId"`
	AccountNumber        string      `json:"accountNumber"`
	AccountType          AccountType `json:"accountType"`
	LoginFingerprint     string      `json:"-"`
	CredentialsEncrypted string      `json:"-"`
	SessionEncrypted     string      `json:"-"`
	SessionExpiresAt     *time.Time  `json:"-"`
	MFAType              MFAType     `json:"mfaType"`
	LastSyncAt           *time.Time  `json:"lastSyncAt"`
	SyncStatus           SyncStatus  `json:"syncStatus"`
	SyncError            string      `json:"syncError,omitempty"`
	SyncErrorCode        ErrorCode   `json:"syncErrorCode,omitempty"`
	IsActive             bool        `json:"isActive"`
	IsVerified           bool        `json:"isVerified"`
	CreatedAt            time.Time   `json:"createdAt"`
	UpdatedAt            time.Time   `json:"updatedAt"`
}

// AccountTypeFromProfile maps the broker's account descriptor onto an AccountType.
func AccountTypeFromProfile(kind string, gold bool) AccountType {
	switch {
	case gold:
		return AccountTypeGold
	case kind == string(AccountTypeMargin):
		return AccountTypeMargin
	default:
		return AccountTypeCash
	}
}

package apperrors

import "errors"

// Domain entity errors represent missing or invalid entities in the system.
// These errors indicate that a requested resource does not exist.
var (
	// ErrLinkedAccountNotFound indicates that a linked account with the given ID does not exist.
	ErrLinkedAccountNotFound = errors.New("linked account not found")

	// ErrBalanceNotFound indicates that no balance has been recorded for an account yet.
	ErrBalanceNotFound = errors.New("account balance not found")

	// ErrSnapshotNotFound indicates no snapshot exists for the requested period.
	ErrSnapshotNotFound = errors.New("portfolio snapshot not found")

	// ErrNoPendingChallenge indicates an MFA code was submitted while no link attempt was waiting for one.
	ErrNoPendingChallenge = errors.New("no pending MFA challenge")
)

// Failure taxonomy for the link and sync workflows. Every broker or storage
// error is mapped onto one of these before it reaches a caller-facing outcome.
var (
	// ErrTransientNetwork indicates the broker could not be reached or timed out.
	// Callers may retry with backoff.
	ErrTransientNetwork = errors.New("transient network error")

	// ErrAuthRejected indicates the broker refused the credentials, the MFA code,
	// or the push approval.
	ErrAuthRejected = errors.New("authentication rejected")

	// ErrProtocolMismatch indicates the broker answered with a shape the adapter
	// does not understand.
	ErrProtocolMismatch = errors.New("unexpected broker response")

	// ErrKeyNotConfigured indicates the credential encryption key is missing.
	// The process must not serve link or sync requests without it.
	ErrKeyNotConfigured = errors.New("encryption key not configured")

	// ErrDecryption indicates stored ciphertext is malformed, tampered, or was
	// written with a key that is no longer configured.
	ErrDecryption = errors.New("failed to decrypt credentials")

	// ErrSyncInProgress indicates another link or sync already holds the account lock.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrReauthRequired indicates an unattended re-login hit an MFA prompt.
	ErrReauthRequired = errors.New("re-authentication requires user interaction")

	// ErrLinkInProgress indicates the user already has a link attempt being processed.
	ErrLinkInProgress = errors.New("link attempt already in progress")
)

// Business logic errors represent validation failures or constraint violations.
var (
	// ErrInvalidUUID indicates that a provided ID is not a valid UUID format.
	ErrInvalidUUID = errors.New("invalid UUID format")

	// ErrInvalidPosition indicates that a broker position could not be parsed into a holding.
	ErrInvalidPosition = errors.New("invalid broker position")

	ErrInvalidAccountID = errors.New("account ID is required")
	ErrInvalidUserID    = errors.New("user ID is required")
)

// Operation failure errors represent system-level failures when retrieving or processing data.
var (
	ErrFailedToRetrieveAccounts     = errors.New("failed to retrieve linked accounts")
	ErrFailedToRetrieveHoldings     = errors.New("failed to retrieve holdings")
	ErrFailedToRetrieveTransactions = errors.New("failed to retrieve transactions")
	ErrFailedToBuildDashboard       = errors.New("failed to build dashboard")
	ErrFailedToGetVersionInfo       = errors.New("failed to get version information")
)


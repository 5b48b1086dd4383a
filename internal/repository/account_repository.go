package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/apperrors"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/model"
)

// AccountRepository provides data access methods for the linked_account table.
type AccountRepository struct {
	db *sql.DB
	tx *sql.Tx
}

// NewAccountRepository creates a new AccountRepository with the provided database connection.
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// WithTx returns a new AccountRepository scoped to the provided transaction.
func (r *AccountRepository) WithTx(tx *sql.Tx) *AccountRepository {
	return &AccountRepository{
		db: r.db,
		tx: tx,
	}
}

// getQuerier returns the active transaction if one is set, otherwise the database connection.
func (r *AccountRepository) getQuerier() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

const accountColumns = `
	id, user_id, account_number, account_type, login_fingerprint,
	credentials_encrypted, session_encrypted, session_expires_at, mfa_type,
	last_sync_at, sync_status, sync_error, sync_error_code,
	is_active, is_verified, created_at, updated_at`

func scanAccount(row rowScanner) (model.LinkedAccount, error) {
	var a model.LinkedAccount
	var sessionEnc, sessionExpires, lastSync, syncError, syncErrorCode sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.AccountNumber,
		&a.AccountType,
		&a.LoginFingerprint,
		&a.CredentialsEncrypted,
		&sessionEnc,
		&sessionExpires,
		&a.MFAType,
		&lastSync,
		&a.SyncStatus,
		&syncError,
		&syncErrorCode,
		&a.IsActive,
		&a.IsVerified,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return model.LinkedAccount{}, err
	}

	a.SessionEncrypted = sessionEnc.String
	a.SyncError = syncError.String
	a.SyncErrorCode = model.ErrorCode(syncErrorCode.String)

	if a.SessionExpiresAt, err = parseNullTime(sessionExpires); err != nil {
		return model.LinkedAccount{}, err
	}
	if a.LastSyncAt, err = parseNullTime(lastSync); err != nil {
		return model.LinkedAccount{}, err
	}
	if a.CreatedAt, err = ParseTime(createdAt); err != nil {
		return model.LinkedAccount{}, err
	}
	if a.UpdatedAt, err = ParseTime(updatedAt); err != nil {
		return model.LinkedAccount{}, err
	}
	return a, nil
}

func (r *AccountRepository) queryAccounts(ctx context.Context, query string, args ...any) ([]model.LinkedAccount, error) {
	rows, err := r.getQuerier().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query linked_account table: %w", err)
	}
	defer rows.Close()

	accounts := []model.LinkedAccount{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan linked_account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating linked_account rows: %w", err)
	}
	return accounts, nil
}

// GetAccount retrieves a linked account by ID, active or not.
// Returns ErrLinkedAccountNotFound if no record exists.
func (r *AccountRepository) GetAccount(ctx context.Context, accountID string) (model.LinkedAccount, error) {
	if accountID == "" {
		return model.LinkedAccount{}, apperrors.ErrInvalidAccountID
	}

	query := `SELECT ` + accountColumns + ` FROM linked_account WHERE id = ?`
	a, err := scanAccount(r.getQuerier().QueryRowContext(ctx, query, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.LinkedAccount{}, apperrors.ErrLinkedAccountNotFound
	}
	if err != nil {
		return model.LinkedAccount{}, fmt.Errorf("failed to get linked account: %w", err)
	}
	return a, nil
}

// ListAccounts returns the user's accounts, newest first.
func (r *AccountRepository) ListAccounts(ctx context.Context, userID string, includeInactive bool) ([]model.LinkedAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM linked_account WHERE user_id = ?`
	if !includeInactive {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY created_at DESC`
	return r.queryAccounts(ctx, query, userID)
}

// ListActiveAccounts returns every active account across users.
func (r *AccountRepository) ListActiveAccounts(ctx context.Context) ([]model.LinkedAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM linked_account WHERE is_active = 1 ORDER BY created_at ASC`
	return r.queryAccounts(ctx, query)
}

// ListAllAccounts returns every account including inactive ones.
func (r *AccountRepository) ListAllAccounts(ctx context.Context) ([]model.LinkedAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM linked_account ORDER BY created_at ASC`
	return r.queryAccounts(ctx, query)
}

// FindActiveByNumber returns the active account for (user, account number), or nil.
func (r *AccountRepository) FindActiveByNumber(ctx context.Context, userID, accountNumber string) (*model.LinkedAccount, error) {
	query := `SELECT ` + accountColumns + `
		FROM linked_account
		WHERE user_id = ? AND account_number = ? AND is_active = 1`

	a, err := scanAccount(r.getQuerier().QueryRowContext(ctx, query, userID, accountNumber))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find linked account: %w", err)
	}
	return &a, nil
}

// FindActiveByFingerprint returns the user's active accounts linked with the given login.
func (r *AccountRepository) FindActiveByFingerprint(ctx context.Context, userID, fingerprint string) ([]model.LinkedAccount, error) {
	query := `SELECT ` + accountColumns + `
		FROM linked_account
		WHERE user_id = ? AND login_fingerprint = ? AND is_active = 1`
	return r.queryAccounts(ctx, query, userID, fingerprint)
}

// InsertAccount creates a new linked account record.
func (r *AccountRepository) InsertAccount(ctx context.Context, a *model.LinkedAccount) error {
	query := `
		INSERT INTO linked_account (` + accountColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.getQuerier().ExecContext(ctx, query,
		a.ID,
		a.UserID,
		a.AccountNumber,
		a.AccountType,
		a.LoginFingerprint,
		a.CredentialsEncrypted,
		nullString(a.SessionEncrypted),
		nullTime(a.SessionExpiresAt),
		a.MFAType,
		nullTime(a.LastSyncAt),
		a.SyncStatus,
		nullString(a.SyncError),
		nullString(string(a.SyncErrorCode)),
		a.IsActive,
		a.IsVerified,
		FormatTime(a.CreatedAt),
		FormatTime(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert linked account: %w", err)
	}
	return nil
}

// UpdateCredentials replaces the stored login and session of an existing account
// after a successful re-link. Sync state is left alone except for clearing a
// previous authentication failure.
func (r *AccountRepository) UpdateCredentials(ctx context.Context, a *model.LinkedAccount) error {
	query := `
		UPDATE linked_account
		SET account_type = ?, login_fingerprint = ?, credentials_encrypted = ?,
		    session_encrypted = ?, session_expires_at = ?, mfa_type = ?,
		    is_verified = 1,
		    sync_status = CASE WHEN sync_status = 'failed' THEN 'never_synced' ELSE sync_status END,
		    sync_error = CASE WHEN sync_status = 'failed' THEN NULL ELSE sync_error END,
		    sync_error_code = CASE WHEN sync_status = 'failed' THEN NULL ELSE sync_error_code END,
		    updated_at = ?
		WHERE id = ?
	`

	return r.execOne(ctx, "update credentials", query,
		a.AccountType,
		a.LoginFingerprint,
		a.CredentialsEncrypted,
		nullString(a.SessionEncrypted),
		nullTime(a.SessionExpiresAt),
		a.MFAType,
		FormatTime(a.UpdatedAt),
		a.ID,
	)
}

// UpdateSession stores a refreshed session token. A zero expiresAt is stored
// as NULL.
func (r *AccountRepository) UpdateSession(ctx context.Context, accountID, sessionEncrypted string, expiresAt time.Time) error {
	query := `
		UPDATE linked_account
		SET session_encrypted = ?, session_expires_at = ?, updated_at = ?
		WHERE id = ?
	`
	return r.execOne(ctx, "update session", query,
		sessionEncrypted, nullTime(&expiresAt), FormatTime(time.Now()), accountID)
}

// UpdateEncrypted rewrites the ciphertexts and the login fingerprint, used
// after a key rotation.
func (r *AccountRepository) UpdateEncrypted(ctx context.Context, accountID, fingerprint, credentialsEncrypted, sessionEncrypted string) error {
	query := `
		UPDATE linked_account
		SET login_fingerprint = ?, credentials_encrypted = ?, session_encrypted = ?,
		    session_expires_at = CASE WHEN ? IS NULL THEN NULL ELSE session_expires_at END,
		    updated_at = ?
		WHERE id = ?
	`
	session := nullString(sessionEncrypted)
	return r.execOne(ctx, "update encrypted fields", query,
		fingerprint, credentialsEncrypted, session, session, FormatTime(time.Now()), accountID)
}

// AcquireSyncLease marks an active account pending unless another sync already
// holds it. A pending mark older than staleBefore is treated as abandoned.
// It reports false when the lease is held elsewhere.
func (r *AccountRepository) AcquireSyncLease(ctx context.Context, accountID string, staleBefore time.Time) (bool, error) {
	query := `
		UPDATE linked_account
		SET sync_status = 'pending', updated_at = ?
		WHERE id = ? AND is_active = 1
		  AND (sync_status <> 'pending' OR updated_at < ?)
	`
	result, err := r.getQuerier().ExecContext(ctx, query,
		FormatTime(time.Now()), accountID, FormatTime(staleBefore))
	if err != nil {
		return false, fmt.Errorf("failed to acquire sync lease: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// MarkSyncSuccess records a completed sync and clears the previous error.
func (r *AccountRepository) MarkSyncSuccess(ctx context.Context, accountID string, syncedAt time.Time) error {
	query := `
		UPDATE linked_account
		SET sync_status = 'success', last_sync_at = ?, sync_error = NULL, sync_error_code = NULL,
		    is_verified = 1, updated_at = ?
		WHERE id = ?
	`
	return r.execOne(ctx, "mark sync success", query, FormatTime(syncedAt), FormatTime(syncedAt), accountID)
}

// MarkSyncFailed records a failed sync or rejected re-link with its error code.
// last_sync_at keeps pointing at the last successful sync.
func (r *AccountRepository) MarkSyncFailed(ctx context.Context, accountID, message string, code model.ErrorCode) error {
	query := `
		UPDATE linked_account
		SET sync_status = 'failed', sync_error = ?, sync_error_code = ?, updated_at = ?
		WHERE id = ?
	`
	return r.execOne(ctx, "mark sync failed", query, message, string(code), FormatTime(time.Now()), accountID)
}

// RestoreSyncStatus resets a pending account to the given status, used when a
// sync ends without reaching the broker.
func (r *AccountRepository) RestoreSyncStatus(ctx context.Context, accountID string, status model.SyncStatus) error {
	query := `UPDATE linked_account SET sync_status = ? WHERE id = ? AND sync_status = 'pending'`
	if _, err := r.getQuerier().ExecContext(ctx, query, status, accountID); err != nil {
		return fmt.Errorf("failed to restore sync status: %w", err)
	}
	return nil
}

// Deactivate soft-deletes an account owned by userID. The row and its holdings are kept.
func (r *AccountRepository) Deactivate(ctx context.Context, userID, accountID string) error {
	query := `
		UPDATE linked_account
		SET is_active = 0, session_encrypted = NULL, session_expires_at = NULL, updated_at = ?
		WHERE id = ? AND user_id = ? AND is_active = 1
	`
	return r.execOne(ctx, "deactivate", query, FormatTime(time.Now()), accountID, userID)
}

// execOne runs an UPDATE that must touch exactly one row.
func (r *AccountRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := r.getQuerier().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperrors.ErrLinkedAccountNotFound
	}
	return nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/apperrors"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/model"
)

// BalanceRepository provides data access methods for the account_balance table.
type BalanceRepository struct {
	db *sql.DB
	tx *sql.Tx
}

// NewBalanceRepository creates a new BalanceRepository with the provided database connection.
func NewBalanceRepository(db *sql.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

// WithTx returns a new BalanceRepository scoped to the provided transaction.
func (r *BalanceRepository) WithTx(tx *sql.Tx) *BalanceRepository {
	return &BalanceRepository{
		db: r.db,
		tx: tx,
	}
}

func (r *BalanceRepository) getQuerier() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

// GetBalance returns the latest balance of an account.
// Returns ErrBalanceNotFound before the first successful sync.
func (r *BalanceRepository) GetBalance(ctx context.Context, accountID string) (model.AccountBalance, error) {
	query := `
		SELECT account_id, cash, buying_power, margin_limit, unallocated_margin_cash, outstanding_interest, updated_at
		FROM account_balance
		WHERE account_id = ?
	`

	var b model.AccountBalance
	var updatedAt string
	err := r.getQuerier().QueryRowContext(ctx, query, accountID).Scan(
		&b.AccountID,
		&b.Cash,
		&b.BuyingPower,
		&b.MarginLimit,
		&b.UnallocatedMarginCash,
		&b.OutstandingInterest,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AccountBalance{}, apperrors.ErrBalanceNotFound
	}
	if err != nil {
		return model.AccountBalance{}, fmt.Errorf("failed to get balance: %w", err)
	}
	if b.UpdatedAt, err = ParseTime(updatedAt); err != nil {
		return model.AccountBalance{}, err
	}
	return b, nil
}

// UpsertBalance replaces the account's balance row.
func (r *BalanceRepository) UpsertBalance(ctx context.Context, b model.AccountBalance) error {
	query := `
		INSERT INTO account_balance
			(account_id, cash, buying_power, margin_limit, unallocated_margin_cash, outstanding_interest, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			cash = excluded.cash,
			buying_power = excluded.buying_power,
			margin_limit = excluded.margin_limit,
			unallocated_margin_cash = excluded.unallocated_margin_cash,
			outstanding_interest = excluded.outstanding_interest,
			updated_at = excluded.updated_at
	`

	_, err := r.getQuerier().ExecContext(ctx, query,
		b.AccountID,
		b.Cash,
		b.BuyingPower,
		b.MarginLimit,
		b.UnallocatedMarginCash,
		b.OutstandingInterest,
		FormatTime(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert balance: %w", err)
	}
	return nil
}

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/model"
)

// TransactionRepository provides data access methods for the broker_transaction table.
// Rows are keyed by the broker's own transaction ID so re-imports never duplicate.
type TransactionRepository struct {
	db *sql.DB
	tx *sql.Tx
}

// NewTransactionRepository creates a new TransactionRepository with the provided database connection.
func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// WithTx returns a new TransactionRepository scoped to the provided transaction.
func (r *TransactionRepository) WithTx(tx *sql.Tx) *TransactionRepository {
	return &TransactionRepository{
		db: r.db,
		tx: tx,
	}
}

func (r *TransactionRepository) getQuerier() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

// UpsertTransaction inserts a transaction or refreshes its mutable fields.
// Returns true when a new row was created.
func (r *TransactionRepository) UpsertTransaction(ctx context.Context, t model.BrokerTransaction) (bool, error) {
	var existing string
	err := r.getQuerier().QueryRowContext(ctx,
		`SELECT id FROM broker_transaction WHERE account_id = ? AND external_id = ?`,
		t.AccountID, t.ExternalID,
	).Scan(&existing)

	switch {
	case err == sql.ErrNoRows:
		query := `
			INSERT INTO broker_transaction
				(id, account_id, external_id, symbol, side, state, quantity, price, fees, executed_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := r.getQuerier().ExecContext(ctx, query,
			t.ID,
			t.AccountID,
			t.ExternalID,
			t.Symbol,
			t.Side,
			t.State,
			t.Quantity,
			t.Price,
			t.Fees,
			FormatTime(t.ExecutedAt),
			FormatTime(t.CreatedAt),
		)
		if err != nil {
			return false, fmt.Errorf("failed to insert transaction %s: %w", t.ExternalID, err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("failed to look up transaction %s: %w", t.ExternalID, err)
	}

	query := `
		UPDATE broker_transaction
		SET state = ?, quantity = ?, price = ?, fees = ?, executed_at = ?
		WHERE id = ?
	`
	if _, err := r.getQuerier().ExecContext(ctx, query,
		t.State, t.Quantity, t.Price, t.Fees, FormatTime(t.ExecutedAt), existing,
	); err != nil {
		return false, fmt.Errorf("failed to update transaction %s: %w", t.ExternalID, err)
	}
	return false, nil
}

// GetTransactions returns the account's transactions executed in [startDate, endDate],
// newest first. A zero bound is open.
func (r *TransactionRepository) GetTransactions(ctx context.Context, accountID string, startDate, endDate time.Time) ([]model.BrokerTransaction, error) {
	query := `
		SELECT id, account_id, external_id, symbol, side, state, quantity, price, fees, executed_at, created_at
		FROM broker_transaction
		WHERE account_id = ?
	`
	args := []any{accountID}
	if !startDate.IsZero() {
		query += ` AND executed_at >= ?`
		args = append(args, FormatTime(startDate))
	}
	if !endDate.IsZero() {
		query += ` AND executed_at <= ?`
		args = append(args, FormatTime(endDate))
	}
	query += ` ORDER BY executed_at DESC`

	rows, err := r.getQuerier().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query broker_transaction table: %w", err)
	}
	defer rows.Close()

	transactions := []model.BrokerTransaction{}
	for rows.Next() {
		var t model.BrokerTransaction
		var executedAt, createdAt string
		if err := rows.Scan(
			&t.ID,
			&t.AccountID,
			&t.ExternalID,
			&t.Symbol,
			&t.Side,
			&t.State,
			&t.Quantity,
			&t.Price,
			&t.Fees,
			&executedAt,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if t.ExecutedAt, err = ParseTime(executedAt); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = ParseTime(createdAt); err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transaction rows: %w", err)
	}
	return transactions, nil
}

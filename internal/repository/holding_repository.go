package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/model"
)

// HoldingRepository provides data access methods for the holding table.
type HoldingRepository struct {
	db *sql.DB
	tx *sql.Tx
}

// NewHoldingRepository creates a new HoldingRepository with the provided database connection.
func NewHoldingRepository(db *sql.DB) *HoldingRepository {
	return &HoldingRepository{db: db}
}

// WithTx returns a new HoldingRepository scoped to the provided transaction.
func (r *HoldingRepository) WithTx(tx *sql.Tx) *HoldingRepository {
	return &HoldingRepository{
		db: r.db,
		tx: tx,
	}
}

func (r *HoldingRepository) getQuerier() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

const holdingColumns = `
	id, account_id, symbol, asset_class, contract_id, name,
	quantity, average_cost, current_price, previous_close,
	option_type, strike_price, expiration_date,
	is_active, created_at, updated_at, closed_at`

func scanHolding(row rowScanner) (model.Holding, error) {
	var h model.Holding
	var name, optionType, expiration, closedAt sql.NullString
	var strike decimal.NullDecimal
	var createdAt, updatedAt string

	err := row.Scan(
		&h.ID,
		&h.AccountID,
		&h.Symbol,
		&h.AssetClass,
		&h.ContractID,
		&name,
		&h.Quantity,
		&h.AverageCost,
		&h.CurrentPrice,
		&h.PreviousClose,
		&optionType,
		&strike,
		&expiration,
		&h.IsActive,
		&createdAt,
		&updatedAt,
		&closedAt,
	)
	if err != nil {
		return model.Holding{}, err
	}

	h.Name = name.String
	h.OptionType = optionType.String
	if strike.Valid {
		s := strike.Decimal
		h.StrikePrice = &s
	}
	if h.ExpirationDate, err = parseNullTime(expiration); err != nil {
		return model.Holding{}, err
	}
	if h.ClosedAt, err = parseNullTime(closedAt); err != nil {
		return model.Holding{}, err
	}
	if h.CreatedAt, err = ParseTime(createdAt); err != nil {
		return model.Holding{}, err
	}
	if h.UpdatedAt, err = ParseTime(updatedAt); err != nil {
		return model.Holding{}, err
	}
	return h, nil
}

// GetHoldings returns the account's holdings ordered by symbol. Closed
// positions are included only when includeClosed is set.
func (r *HoldingRepository) GetHoldings(ctx context.Context, accountID string, includeClosed bool) ([]model.Holding, error) {
	query := `SELECT ` + holdingColumns + ` FROM holding WHERE account_id = ?`
	if !includeClosed {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY symbol ASC, asset_class ASC, contract_id ASC`

	rows, err := r.getQuerier().QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query holding table: %w", err)
	}
	defer rows.Close()

	holdings := []model.Holding{}
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		holdings = append(holdings, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating holding rows: %w", err)
	}
	return holdings, nil
}

// InsertHolding creates a new holding row.
func (r *HoldingRepository) InsertHolding(ctx context.Context, h model.Holding) error {
	query := `
		INSERT INTO holding (` + holdingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.getQuerier().ExecContext(ctx, query,
		h.ID,
		h.AccountID,
		h.Symbol,
		h.AssetClass,
		h.ContractID,
		nullString(h.Name),
		h.Quantity,
		h.AverageCost,
		h.CurrentPrice,
		h.PreviousClose,
		nullString(h.OptionType),
		strikeArg(h.StrikePrice),
		nullDate(h.ExpirationDate),
		h.IsActive,
		FormatTime(h.CreatedAt),
		FormatTime(h.UpdatedAt),
		nullTime(h.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert holding %s: %w", h.Symbol, err)
	}
	return nil
}

// UpdateHolding overwrites the broker-owned fields of an existing holding and
// reactivates it if it had been closed.
func (r *HoldingRepository) UpdateHolding(ctx context.Context, h model.Holding) error {
	query := `
		UPDATE holding
		SET name = ?, quantity = ?, average_cost = ?, current_price = ?, previous_close = ?,
		    option_type = ?, strike_price = ?, expiration_date = ?,
		    is_active = 1, closed_at = NULL, updated_at = ?
		WHERE id = ?
	`

	_, err := r.getQuerier().ExecContext(ctx, query,
		nullString(h.Name),
		h.Quantity,
		h.AverageCost,
		h.CurrentPrice,
		h.PreviousClose,
		nullString(h.OptionType),
		strikeArg(h.StrikePrice),
		nullDate(h.ExpirationDate),
		FormatTime(h.UpdatedAt),
		h.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update holding %s: %w", h.Symbol, err)
	}
	return nil
}

// CloseHolding zeroes the quantity of a position the broker no longer reports.
// The row is kept for historical P/L.
func (r *HoldingRepository) CloseHolding(ctx context.Context, holdingID string, closedAt time.Time) error {
	query := `
		UPDATE holding
		SET quantity = '0', is_active = 0, closed_at = ?, updated_at = ?
		WHERE id = ? AND is_active = 1
	`

	_, err := r.getQuerier().ExecContext(ctx, query, FormatTime(closedAt), FormatTime(closedAt), holdingID)
	if err != nil {
		return fmt.Errorf("failed to close holding: %w", err)
	}
	return nil
}

func strikeArg(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullDate(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format("2006-01-02")
}

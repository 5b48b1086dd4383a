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

// SnapshotRepository provides data access methods for the portfolio_snapshot table.
// Snapshots are the baseline store for year-to-date figures.
type SnapshotRepository struct {
	db *sql.DB
	tx *sql.Tx
}

// NewSnapshotRepository creates a new SnapshotRepository with the provided database connection.
func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// WithTx returns a new SnapshotRepository scoped to the provided transaction.
func (r *SnapshotRepository) WithTx(tx *sql.Tx) *SnapshotRepository {
	return &SnapshotRepository{
		db: r.db,
		tx: tx,
	}
}

func (r *SnapshotRepository) getQuerier() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

// InsertSnapshot stores a valuation.
func (r *SnapshotRepository) InsertSnapshot(ctx context.Context, s model.PortfolioSnapshot) error {
	query := `
		INSERT INTO portfolio_snapshot (` + snapshotColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.getQuerier().ExecContext(ctx, query,
		s.ID,
		s.AccountID,
		s.SnapshotType,
		s.TotalValue,
		s.Cash,
		s.EquityValue,
		FormatTime(s.TakenAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

const snapshotColumns = `id, account_id, snapshot_type, total_value, cash, equity_value, taken_at`

func (r *SnapshotRepository) getOne(ctx context.Context, query string, args ...any) (model.PortfolioSnapshot, error) {
	var s model.PortfolioSnapshot
	var takenAt string
	err := r.getQuerier().QueryRowContext(ctx, query, args...).Scan(
		&s.ID,
		&s.AccountID,
		&s.SnapshotType,
		&s.TotalValue,
		&s.Cash,
		&s.EquityValue,
		&takenAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PortfolioSnapshot{}, apperrors.ErrSnapshotNotFound
	}
	if err != nil {
		return model.PortfolioSnapshot{}, fmt.Errorf("failed to get snapshot: %w", err)
	}
	if s.TakenAt, err = ParseTime(takenAt); err != nil {
		return model.PortfolioSnapshot{}, err
	}
	return s, nil
}

// GetEarliestSince returns the earliest snapshot taken at or after since.
// Returns ErrSnapshotNotFound when none exists.
func (r *SnapshotRepository) GetEarliestSince(ctx context.Context, accountID string, since time.Time) (model.PortfolioSnapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM portfolio_snapshot
		WHERE account_id = ? AND taken_at >= ?
		ORDER BY taken_at ASC
		LIMIT 1`
	return r.getOne(ctx, query, accountID, FormatTime(since))
}

// GetLatestBetween returns the last snapshot taken in [from, to).
// Returns ErrSnapshotNotFound when none exists.
func (r *SnapshotRepository) GetLatestBetween(ctx context.Context, accountID string, from, to time.Time) (model.PortfolioSnapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM portfolio_snapshot
		WHERE account_id = ? AND taken_at >= ? AND taken_at < ?
		ORDER BY taken_at DESC
		LIMIT 1`
	return r.getOne(ctx, query, accountID, FormatTime(from), FormatTime(to))
}

// HasSnapshotSince reports whether a snapshot of the given type exists at or after since.
func (r *SnapshotRepository) HasSnapshotSince(ctx context.Context, accountID string, snapshotType model.SnapshotType, since time.Time) (bool, error) {
	query := `
		SELECT COUNT(*) FROM portfolio_snapshot
		WHERE account_id = ? AND snapshot_type = ? AND taken_at >= ?
	`

	var count int
	if err := r.getQuerier().QueryRowContext(ctx, query, accountID, snapshotType, FormatTime(since)).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return count > 0, nil
}

// DeleteSnapshotsBefore removes snapshots of the given type taken before cutoff.
// Returns the number of rows removed.
func (r *SnapshotRepository) DeleteSnapshotsBefore(ctx context.Context, snapshotType model.SnapshotType, cutoff time.Time) (int64, error) {
	query := `DELETE FROM portfolio_snapshot WHERE snapshot_type = ? AND taken_at < ?`

	result, err := r.getQuerier().ExecContext(ctx, query, snapshotType, FormatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete snapshots: %w", err)
	}
	return result.RowsAffected()
}

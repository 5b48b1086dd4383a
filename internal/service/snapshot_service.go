package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/apperrors"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/model"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/repository"
)

// SnapshotService records point-in-time valuations from stored holdings,
// without contacting the broker.
type SnapshotService struct {
	accountRepo  *repository.AccountRepository
	holdingRepo  *repository.HoldingRepository
	balanceRepo  *repository.BalanceRepository
	snapshotRepo *repository.SnapshotRepository
	now          func() time.Time
}

// NewSnapshotService creates a new SnapshotService.
func NewSnapshotService(
	accountRepo *repository.AccountRepository,
	holdingRepo *repository.HoldingRepository,
	balanceRepo *repository.BalanceRepository,
	snapshotRepo *repository.SnapshotRepository,
) *SnapshotService {
	return &SnapshotService{
		accountRepo:  accountRepo,
		holdingRepo:  holdingRepo,
		balanceRepo:  balanceRepo,
		snapshotRepo: snapshotRepo,
		now:          time.Now,
	}
}

// TakeSnapshot values an account from its stored holdings and balance.
func (s *SnapshotService) TakeSnapshot(ctx context.Context, accountID string, snapshotType model.SnapshotType) (model.PortfolioSnapshot, error) {
	holdings, err := s.holdingRepo.GetHoldings(ctx, accountID, false)
	if err != nil {
		return model.PortfolioSnapshot{}, err
	}

	balance, err := s.balanceRepo.GetBalance(ctx, accountID)
	if err != nil && !errors.Is(err, apperrors.ErrBalanceNotFound) {
		return model.PortfolioSnapshot{}, err
	}

	totals := CalculateTotals(holdings, balance.Cash)
	snap := model.PortfolioSnapshot{
		ID:           uuid.New().String(),
		AccountID:    accountID,
		SnapshotType: snapshotType,
		TotalValue:   totals.TotalValue,
		Cash:         totals.Cash,
		EquityValue:  totals.EquityValue,
		TakenAt:      s.now().UTC(),
	}
	if err := s.snapshotRepo.InsertSnapshot(ctx, snap); err != nil {
		return model.PortfolioSnapshot{}, err
	}
	return snap, nil
}

// TakeDailySnapshots records one daily snapshot per active account. Accounts
// that already have one for today are skipped, so the job can run twice.
// Returns how many snapshots were written.
func (s *SnapshotService) TakeDailySnapshots(ctx context.Context) (int, error) {
	accounts, err := s.accountRepo.ListActiveAccounts(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	taken := 0
	var errs []error
	for _, a := range accounts {
		exists, err := s.snapshotRepo.HasSnapshotSince(ctx, a.ID, model.SnapshotDaily, midnight)
		if err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", a.ID, err))
			continue
		}
		if exists {
			continue
		}
		if _, err := s.TakeSnapshot(ctx, a.ID, model.SnapshotDaily); err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", a.ID, err))
			continue
		}
		taken++
	}

	log.Printf("Daily snapshots: %d taken for %d active accounts", taken, len(accounts))
	return taken, errors.Join(errs...)
}

// CleanupSnapshots deletes manual snapshots older than retention.
// Sync and daily snapshots are kept as the value history.
func (s *SnapshotService) CleanupSnapshots(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-retention)
	deleted, err := s.snapshotRepo.DeleteSnapshotsBefore(ctx, model.SnapshotManual, cutoff)
	if err != nil {
		return 0, err
	}
	log.Printf("Snapshot cleanup: %d manual snapshots older than %s removed", deleted, cutoff.Format(time.DateOnly))
	return deleted, nil
}
